package farm

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"stakefarm/core/events"
)

// Allocate reserves amount of the reward asset for a pool. The global
// reservation may never exceed the engine's reward-asset holdings.
func (e *Engine) Allocate(ctx context.Context, pid uint64, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.allocateLocked(ctx, pid, amount)
	e.finish("allocate", pid, err)
	return err
}

func (e *Engine) allocateLocked(ctx context.Context, pid uint64, amount *uint256.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	pool, err := e.loadPool(pid, totals)
	if err != nil {
		return err
	}
	if totals.AllocatedRewardSupply == nil {
		totals.AllocatedRewardSupply = new(uint256.Int)
	}
	nextTotal, overflow := new(uint256.Int).AddOverflow(totals.AllocatedRewardSupply, amount)
	if overflow {
		return fmt.Errorf("%w: allocated supply", ErrAmountOverflow)
	}
	balance, err := e.rewardBalance(ctx)
	if err != nil {
		return err
	}
	if nextTotal.Gt(balance) {
		return fmt.Errorf("%w: requested total %s exceeds balance %s", ErrInsufficientBalance, nextTotal.Dec(), balance.Dec())
	}
	nextPool, overflow := new(uint256.Int).AddOverflow(pool.TotalAllocatedSupply, amount)
	if overflow {
		return fmt.Errorf("%w: pool %d allocated supply", ErrInvariantViolation, pid)
	}
	pool.TotalAllocatedSupply = nextPool
	totals.AllocatedRewardSupply = nextTotal

	changes := newChangeSet()
	changes.putPool(pool)
	changes.putTotals(totals)
	if err := e.apply(changes); err != nil {
		return err
	}
	e.observePool(pool)
	e.emit(events.FarmAllocated{
		PoolID:         pid,
		Amount:         cloneU256(amount),
		PoolAllocated:  cloneU256(nextPool),
		TotalAllocated: cloneU256(nextTotal),
	})
	return nil
}

func (e *Engine) rewardBalance(ctx context.Context) (*uint256.Int, error) {
	return e.balanceOf(ctx, e.rewardAsset)
}

func (e *Engine) balanceOf(ctx context.Context, asset AssetID) (*uint256.Int, error) {
	if e.balances == nil {
		return new(uint256.Int), nil
	}
	balance, err := e.balances.BalanceOf(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("%w: balance of %s: %w", ErrSupplyUnavailable, asset, err)
	}
	if balance == nil {
		return new(uint256.Int), nil
	}
	return balance, nil
}
