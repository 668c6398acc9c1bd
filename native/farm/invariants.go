package farm

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// CheckInvariants recomputes the global totals from every pool record and
// compares them with the incrementally maintained values.
func (e *Engine) CheckInvariants() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	err := e.checkInvariantsLocked()
	e.finish("check_invariants", 0, err)
	return err
}

func (e *Engine) checkInvariantsLocked() error {
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	var (
		allocPoints uint64
		weight      uint64
		allocated   = new(uint256.Int)
	)
	for pid := uint64(0); pid < totals.PoolCount; pid++ {
		pool, err := e.loadPool(pid, totals)
		if err != nil {
			return err
		}
		if pool.ID != pid {
			return fmt.Errorf("%w: pool record %d stored under id %d", ErrInvariantViolation, pool.ID, pid)
		}
		if allocPoints > math.MaxUint64-pool.AllocationPoints {
			return fmt.Errorf("%w: allocation points overflow at pool %d", ErrInvariantViolation, pid)
		}
		allocPoints += pool.AllocationPoints
		weight += uint64(pool.Weight)
		if _, overflow := allocated.AddOverflow(allocated, pool.TotalAllocatedSupply); overflow {
			return fmt.Errorf("%w: allocated supply overflow at pool %d", ErrInvariantViolation, pid)
		}
	}
	if allocPoints != totals.AllocationPoints {
		return fmt.Errorf("%w: allocation points total %d, pools sum to %d", ErrInvariantViolation, totals.AllocationPoints, allocPoints)
	}
	if weight != totals.Weight {
		return fmt.Errorf("%w: weight total %d, pools sum to %d", ErrInvariantViolation, totals.Weight, weight)
	}
	recorded := totals.AllocatedRewardSupply
	if recorded == nil {
		recorded = new(uint256.Int)
	}
	if !allocated.Eq(recorded) {
		return fmt.Errorf("%w: allocated supply total %s, pools sum to %s", ErrInvariantViolation, recorded.Dec(), allocated.Dec())
	}
	return nil
}
