package farm

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"stakefarm/core/events"
)

// emissionFunc returns the gross reward emitted over the units from..to.
type emissionFunc func(from, to uint64) (*uint256.Int, error)

// advancePool applies accrual to pool for the interval ending at now.
// emission is consulted only when reward actually accrues. It reports whether
// the pool changed. Calling it again with the same now is a no-op.
func advancePool(pool *Pool, now uint64, supply *uint256.Int, totalAllocPoints uint64, emission emissionFunc) (bool, error) {
	pool.ensure()
	if now <= pool.LastAccrualPoint {
		return false, nil
	}
	if supply == nil || supply.IsZero() {
		pool.LastAccrualPoint = now
		return true, nil
	}
	reward, err := poolReward(pool.LastAccrualPoint, now, pool.AllocationPoints, totalAllocPoints, emission)
	if err != nil {
		return false, err
	}
	increment, err := perShareIncrement(reward, supply)
	if err != nil {
		return false, err
	}
	acc, overflow := new(uint256.Int).AddOverflow(pool.AccRewardPerShare, increment)
	if overflow {
		return false, fmt.Errorf("%w: pool %d accumulator overflow", ErrInvariantViolation, pool.ID)
	}
	pool.AccRewardPerShare = acc
	pool.LastAccrualPoint = now
	return true, nil
}

// poolReward computes emission(from, to)*allocPoints/totalAllocPoints,
// truncated. An empty allocation total yields zero.
func poolReward(from, to, allocPoints, totalAllocPoints uint64, emission emissionFunc) (*uint256.Int, error) {
	if totalAllocPoints == 0 || allocPoints == 0 || to <= from {
		return new(uint256.Int), nil
	}
	gross, err := emission(from, to)
	if err != nil {
		return nil, err
	}
	if gross == nil || gross.IsZero() {
		return new(uint256.Int), nil
	}
	reward, overflow := new(uint256.Int).MulDivOverflow(gross, uint256.NewInt(allocPoints), uint256.NewInt(totalAllocPoints))
	if overflow {
		return nil, fmt.Errorf("%w: allocation split overflow", ErrInvariantViolation)
	}
	return reward, nil
}

// flatEmission charges every unit from..to at rate.
func flatEmission(rate *uint256.Int, from, to uint64) (*uint256.Int, error) {
	if rate == nil || rate.IsZero() {
		return new(uint256.Int), nil
	}
	gross, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(to-from), rate)
	if overflow {
		return nil, fmt.Errorf("%w: emission overflow over %d units", ErrInvariantViolation, to-from)
	}
	return gross, nil
}

func (e *Engine) emissionFor(pid uint64) emissionFunc {
	return func(from, to uint64) (*uint256.Int, error) {
		if e.rates == nil {
			return new(uint256.Int), nil
		}
		if interval, ok := e.rates.(IntervalRateSource); ok {
			gross, err := interval.Emission(pid, from, to)
			if err != nil {
				return nil, fmt.Errorf("%w: pool %d: %w", ErrRateUnavailable, pid, err)
			}
			return gross, nil
		}
		rate, err := e.rates.RatePerUnit(pid)
		if err != nil {
			return nil, fmt.Errorf("%w: pool %d: %w", ErrRateUnavailable, pid, err)
		}
		return flatEmission(rate, from, to)
	}
}

func (e *Engine) stakedSupply(ctx context.Context, pool *Pool) (*uint256.Int, error) {
	if e.supply == nil {
		return new(uint256.Int), nil
	}
	supply, err := e.supply.StakedSupply(ctx, *pool)
	if err != nil {
		return nil, fmt.Errorf("%w: pool %d: %w", ErrSupplyUnavailable, pool.ID, err)
	}
	if supply == nil {
		return new(uint256.Int), nil
	}
	return supply, nil
}

// accrue brings pool up to the current time unit in memory. The returned
// event is non-nil when the pool changed and must be emitted once the change
// has been persisted.
func (e *Engine) accrue(ctx context.Context, pool *Pool, totals *Totals, now uint64) (events.Event, error) {
	if now <= pool.LastAccrualPoint {
		return nil, nil
	}
	supply, err := e.stakedSupply(ctx, pool)
	if err != nil {
		return nil, err
	}
	changed, err := advancePool(pool, now, supply, totals.AllocationPoints, e.emissionFor(pool.ID))
	if err != nil || !changed {
		return nil, err
	}
	return events.FarmPoolUpdated{
		PoolID:            pool.ID,
		LastAccrualPoint:  pool.LastAccrualPoint,
		StakedSupply:      cloneU256(supply),
		AccRewardPerShare: cloneU256(pool.AccRewardPerShare),
	}, nil
}

// UpdatePool runs the accrual update for a single pool and persists it.
func (e *Engine) UpdatePool(ctx context.Context, pid uint64) (*Pool, error) {
	unlock := e.lockPool(pid)
	defer unlock()
	pool, err := e.updatePoolLocked(ctx, pid)
	e.finish("update_pool", pid, err)
	return pool, err
}

// UpdatePools runs UpdatePool for each id, or for every pool when none are
// given.
func (e *Engine) UpdatePools(ctx context.Context, pids ...uint64) error {
	if len(pids) == 0 {
		count, err := e.PoolCount()
		if err != nil {
			return err
		}
		pids = make([]uint64, count)
		for i := range pids {
			pids[i] = uint64(i)
		}
	}
	for _, pid := range pids {
		if _, err := e.UpdatePool(ctx, pid); err != nil {
			return fmt.Errorf("update pool %d: %w", pid, err)
		}
	}
	return nil
}

func (e *Engine) updatePoolLocked(ctx context.Context, pid uint64) (*Pool, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool(pid, totals)
	if err != nil {
		return nil, err
	}
	evt, err := e.accrue(ctx, pool, totals, e.now())
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return pool, nil
	}
	changes := newChangeSet()
	changes.putPool(pool)
	if err := e.apply(changes); err != nil {
		return nil, err
	}
	e.observePool(pool)
	e.emit(evt)
	return pool.Clone(), nil
}
