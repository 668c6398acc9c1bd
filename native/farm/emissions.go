package farm

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"stakefarm/core/events"
)

// RateSetter is implemented by rate sources whose per-pool rate can be
// changed by an operator.
type RateSetter interface {
	SetRate(poolID uint64, rate *uint256.Int) error
}

// SetEmissions changes the pool's emission rate. The pool is accrued at the
// old rate up to now before the new rate takes effect.
func (e *Engine) SetEmissions(ctx context.Context, pid uint64, rate *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.setEmissionsLocked(ctx, pid, rate)
	e.finish("set_emissions", pid, err)
	return err
}

func (e *Engine) setEmissionsLocked(ctx context.Context, pid uint64, rate *uint256.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if rate == nil {
		return ErrInvalidAmount
	}
	setter, ok := e.rates.(RateSetter)
	if !ok {
		return fmt.Errorf("%w: rate source is read-only", ErrRateUnavailable)
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	pool, err := e.loadPool(pid, totals)
	if err != nil {
		return err
	}
	updated, err := e.accrue(ctx, pool, totals, e.now())
	if err != nil {
		return err
	}
	if updated != nil {
		changes := newChangeSet()
		changes.putPool(pool)
		if err := e.apply(changes); err != nil {
			return err
		}
		e.observePool(pool)
		e.emit(updated)
	}
	if err := setter.SetRate(pid, cloneU256(rate)); err != nil {
		return fmt.Errorf("%w: pool %d: %w", ErrRateUnavailable, pid, err)
	}
	e.emit(events.FarmRateSet{PoolID: pid, Rate: cloneU256(rate)})
	return nil
}
