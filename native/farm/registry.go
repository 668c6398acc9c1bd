package farm

import (
	"context"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakefarm/core/events"
)

// AddPool appends a pool for stakeAsset with the given allocation points and
// returns its id. Ids are dense, zero-based and never reused.
func (e *Engine) AddPool(ctx context.Context, allocPoints uint64, stakeAsset AssetID, hook HookRef) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pid, err := e.addPoolLocked(allocPoints, stakeAsset.Normalize(), hook.Normalize())
	e.finish("add_pool", pid, err)
	return pid, err
}

func (e *Engine) addPoolLocked(allocPoints uint64, stakeAsset AssetID, hook HookRef) (uint64, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	if stakeAsset == "" {
		return 0, ErrInvalidAsset
	}
	totals, err := e.loadTotals()
	if err != nil {
		return 0, err
	}
	if totals.AllocationPoints > math.MaxUint64-allocPoints {
		return 0, fmt.Errorf("%w: total allocation points", ErrAmountOverflow)
	}
	pool := &Pool{
		ID:                   totals.PoolCount,
		AllocationPoints:     allocPoints,
		AccRewardPerShare:    new(uint256.Int),
		LastAccrualPoint:     e.now(),
		TotalAllocatedSupply: new(uint256.Int),
		StakeAsset:           stakeAsset,
		RewardHook:           hook,
	}
	totals.PoolCount++
	totals.AllocationPoints += allocPoints

	changes := newChangeSet()
	changes.putPool(pool)
	changes.putTotals(totals)
	if err := e.apply(changes); err != nil {
		return 0, err
	}
	e.metrics.SetTotalAllocationPoints(totals.AllocationPoints)
	e.observePool(pool)
	e.emit(events.FarmPoolAdded{
		PoolID:           pool.ID,
		AllocationPoints: allocPoints,
		StakeAsset:       string(stakeAsset),
		RewardHook:       string(hook),
		StartPoint:       pool.LastAccrualPoint,
	})
	return pool.ID, nil
}

// SetPool changes a pool's allocation points and, when overwriteHook is set,
// its reward hook. Accrual is not run; callers wanting the old allocation
// applied up to now should UpdatePools first.
func (e *Engine) SetPool(ctx context.Context, pid uint64, allocPoints uint64, hook HookRef, overwriteHook bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.setPoolLocked(pid, allocPoints, hook.Normalize(), overwriteHook)
	e.finish("set_pool", pid, err)
	return err
}

func (e *Engine) setPoolLocked(pid uint64, allocPoints uint64, hook HookRef, overwriteHook bool) error {
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
	base := totals.AllocationPoints - pool.AllocationPoints
	if pool.AllocationPoints > totals.AllocationPoints {
		return fmt.Errorf("%w: pool %d allocation exceeds total", ErrInvariantViolation, pid)
	}
	if base > math.MaxUint64-allocPoints {
		return fmt.Errorf("%w: total allocation points", ErrAmountOverflow)
	}
	totals.AllocationPoints = base + allocPoints
	pool.AllocationPoints = allocPoints
	if overwriteHook {
		pool.RewardHook = hook
	}

	changes := newChangeSet()
	changes.putPool(pool)
	changes.putTotals(totals)
	if err := e.apply(changes); err != nil {
		return err
	}
	e.metrics.SetTotalAllocationPoints(totals.AllocationPoints)
	e.emit(events.FarmPoolSet{
		PoolID:           pid,
		AllocationPoints: allocPoints,
		RewardHook:       string(pool.RewardHook),
		Overwrite:        overwriteHook,
	})
	return nil
}

// PoolCount returns the number of registered pools.
func (e *Engine) PoolCount() (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	totals, err := e.loadTotals()
	if err != nil {
		return 0, err
	}
	return totals.PoolCount, nil
}

// Totals returns a copy of the global aggregates.
func (e *Engine) Totals() (*Totals, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadTotals()
}

// Pool returns a copy of the stored pool record without running accrual.
func (e *Engine) Pool(pid uint64) (*Pool, error) {
	unlock := e.lockPool(pid)
	defer unlock()
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	return e.loadPool(pid, totals)
}

// Pools returns copies of every stored pool in id order.
func (e *Engine) Pools() ([]*Pool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	pools := make([]*Pool, 0, totals.PoolCount)
	for pid := uint64(0); pid < totals.PoolCount; pid++ {
		pool, err := e.loadPool(pid, totals)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

// AllocationPoints returns the pool's allocation points.
func (e *Engine) AllocationPoints(pid uint64) (uint64, error) {
	pool, err := e.Pool(pid)
	if err != nil {
		return 0, err
	}
	return pool.AllocationPoints, nil
}

// Position returns a copy of a participant's position. Unknown participants
// yield a zero position.
func (e *Engine) Position(pid uint64, who common.Address) (*Position, error) {
	unlock := e.lockPool(pid)
	defer unlock()
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	if _, err := e.loadPool(pid, totals); err != nil {
		return nil, err
	}
	return e.loadPosition(pid, who)
}
