package farm

import (
	"context"
	"fmt"

	"stakefarm/core/events"
)

// SetWeight sets a pool's secondary weight. A zero weight removes the pool
// from the weighted set without deleting it.
func (e *Engine) SetWeight(ctx context.Context, pid uint64, weight uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.setWeightLocked(pid, weight)
	e.finish("set_weight", pid, err)
	return err
}

func (e *Engine) setWeightLocked(pid uint64, weight uint8) error {
	if err := e.guard(); err != nil {
		return err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	pool, err := e.loadPool(pid, totals)
	if err != nil {
		return err
	}
	old := uint64(pool.Weight)
	if old > totals.Weight {
		return fmt.Errorf("%w: pool %d weight exceeds total", ErrInvariantViolation, pid)
	}
	next := uint64(weight)
	switch {
	case next == 0:
		totals.Weight -= old
	case next > old:
		totals.Weight += next - old
	default:
		totals.Weight -= old - next
	}
	pool.Weight = weight

	changes := newChangeSet()
	changes.putPool(pool)
	changes.putTotals(totals)
	if err := e.apply(changes); err != nil {
		return err
	}
	e.emit(events.FarmWeightSet{PoolID: pid, Weight: weight, TotalWeight: totals.Weight})
	return nil
}

// WeightPercentage returns weight*100/totalWeight for the pool, truncated.
func (e *Engine) WeightPercentage(pid uint64) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	totals, err := e.loadTotals()
	if err != nil {
		return 0, err
	}
	pool, err := e.loadPool(pid, totals)
	if err != nil {
		return 0, err
	}
	if totals.Weight == 0 {
		return 0, ErrZeroTotalWeight
	}
	return uint64(pool.Weight) * 100 / totals.Weight, nil
}
