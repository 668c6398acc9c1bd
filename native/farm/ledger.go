package farm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakefarm/core/events"
)

// ledgerTxn carries the records loaded for one ledger operation after the
// pool has been brought up to date.
type ledgerTxn struct {
	totals  *Totals
	pool    *Pool
	pos     *Position
	updated events.Event
}

func (e *Engine) begin(ctx context.Context, pid uint64, who common.Address) (*ledgerTxn, error) {
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool(pid, totals)
	if err != nil {
		return nil, err
	}
	updated, err := e.accrue(ctx, pool, totals, e.now())
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(pid, who)
	if err != nil {
		return nil, err
	}
	return &ledgerTxn{totals: totals, pool: pool, pos: pos, updated: updated}, nil
}

func (e *Engine) commit(txn *ledgerTxn, who common.Address, evt events.Event) error {
	changes := newChangeSet()
	changes.putPool(txn.pool)
	changes.putPosition(txn.pool.ID, who, txn.pos)
	if err := e.apply(changes); err != nil {
		return err
	}
	e.observePool(txn.pool)
	e.emit(txn.updated, evt)
	return nil
}

func (e *Engine) receipt(txn *ledgerTxn, harvested *uint256.Int, transfers ...Transfer) *Receipt {
	e.recordTransfers(transfers)
	return &Receipt{
		PoolID:    txn.pool.ID,
		Harvested: cloneU256(harvested),
		Position:  txn.pos.Clone(),
		Transfers: transfers,
	}
}

// Deposit credits amount of the pool's stake asset to beneficiary. The
// returned receipt carries the inbound transfer from caller.
func (e *Engine) Deposit(ctx context.Context, pid uint64, caller common.Address, amount *uint256.Int, beneficiary common.Address) (*Receipt, error) {
	unlock := e.lockPool(pid)
	defer unlock()

	receipt, err := e.depositLocked(ctx, pid, caller, amount, beneficiary)
	e.finish("deposit", pid, err)
	return receipt, err
}

func (e *Engine) depositLocked(ctx context.Context, pid uint64, caller common.Address, amount *uint256.Int, beneficiary common.Address) (*Receipt, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == nil {
		return nil, ErrInvalidAmount
	}
	txn, err := e.begin(ctx, pid, beneficiary)
	if err != nil {
		return nil, err
	}
	pos := txn.pos
	newAmount, overflow := new(uint256.Int).AddOverflow(pos.Amount, amount)
	if overflow {
		return nil, fmt.Errorf("%w: pool %d stake", ErrAmountOverflow, pid)
	}
	shift, err := debtShift(pos.Amount, newAmount, txn.pool.AccRewardPerShare)
	if err != nil {
		return nil, err
	}
	pos.Amount = newAmount
	pos.RewardDebt = new(big.Int).Add(debtOf(pos), shift)

	if err := e.commit(txn, beneficiary, events.FarmDeposit{
		PoolID:      pid,
		Caller:      caller,
		Beneficiary: beneficiary,
		Amount:      cloneU256(amount),
	}); err != nil {
		return nil, err
	}
	receipt := e.receipt(txn, nil, Transfer{
		Direction: TransferIn,
		Asset:     txn.pool.StakeAsset,
		Party:     caller,
		Amount:    cloneU256(amount),
	})
	hookErr := e.callHook(ctx, txn.pool, RewardEvent{
		PoolID:      pid,
		Participant: beneficiary,
		Recipient:   beneficiary,
		Harvested:   new(uint256.Int),
		NewAmount:   cloneU256(newAmount),
	})
	return receipt, hookErr
}

// Withdraw removes amount of stake from the caller's position and pays it to
// recipient. Pending reward stays claimable.
func (e *Engine) Withdraw(ctx context.Context, pid uint64, caller common.Address, amount *uint256.Int, recipient common.Address) (*Receipt, error) {
	unlock := e.lockPool(pid)
	defer unlock()

	receipt, err := e.withdrawLocked(ctx, pid, caller, amount, recipient)
	e.finish("withdraw", pid, err)
	return receipt, err
}

func (e *Engine) withdrawLocked(ctx context.Context, pid uint64, caller common.Address, amount *uint256.Int, recipient common.Address) (*Receipt, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == nil {
		return nil, ErrInvalidAmount
	}
	txn, err := e.begin(ctx, pid, caller)
	if err != nil {
		return nil, err
	}
	pos := txn.pos
	if amount.Gt(pos.Amount) {
		return nil, fmt.Errorf("%w: requested %s, staked %s", ErrInsufficientStake, amount.Dec(), pos.Amount.Dec())
	}
	remaining := new(uint256.Int).Sub(pos.Amount, amount)
	shift, err := debtShift(pos.Amount, remaining, txn.pool.AccRewardPerShare)
	if err != nil {
		return nil, err
	}
	pos.RewardDebt = new(big.Int).Add(debtOf(pos), shift)
	pos.Amount = remaining

	if err := e.commit(txn, caller, events.FarmWithdraw{
		PoolID:      pid,
		Participant: caller,
		Recipient:   recipient,
		Amount:      cloneU256(amount),
	}); err != nil {
		return nil, err
	}
	receipt := e.receipt(txn, nil, Transfer{
		Direction: TransferOut,
		Asset:     txn.pool.StakeAsset,
		Party:     recipient,
		Amount:    cloneU256(amount),
	})
	hookErr := e.callHook(ctx, txn.pool, RewardEvent{
		PoolID:      pid,
		Participant: caller,
		Recipient:   recipient,
		Harvested:   new(uint256.Int),
		NewAmount:   cloneU256(pos.Amount),
	})
	return receipt, hookErr
}

// Harvest pays the caller's pending reward to recipient and resets the
// position's debt to its accumulated value.
func (e *Engine) Harvest(ctx context.Context, pid uint64, caller common.Address, recipient common.Address) (*Receipt, error) {
	unlock := e.lockPool(pid)
	defer unlock()

	receipt, err := e.harvestLocked(ctx, pid, caller, recipient)
	e.finish("harvest", pid, err)
	return receipt, err
}

func (e *Engine) harvestLocked(ctx context.Context, pid uint64, caller common.Address, recipient common.Address) (*Receipt, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	txn, err := e.begin(ctx, pid, caller)
	if err != nil {
		return nil, err
	}
	pos := txn.pos
	accumulated, pending, err := pendingFor(pos, txn.pool.AccRewardPerShare)
	if err != nil {
		return nil, fmt.Errorf("pool %d: %w", pid, err)
	}
	pos.RewardDebt = accumulated

	if err := e.commit(txn, caller, events.FarmHarvest{
		PoolID:      pid,
		Participant: caller,
		Recipient:   recipient,
		Amount:      cloneU256(pending),
	}); err != nil {
		return nil, err
	}
	receipt := e.receipt(txn, pending, e.rewardTransfers(recipient, pending)...)
	hookErr := e.callHook(ctx, txn.pool, RewardEvent{
		PoolID:      pid,
		Participant: caller,
		Recipient:   recipient,
		Harvested:   cloneU256(pending),
		NewAmount:   cloneU256(pos.Amount),
	})
	return receipt, hookErr
}

// WithdrawAndHarvest pays pending reward and withdraws amount of stake in a
// single update. The outcome matches Harvest and Withdraw run in either order.
func (e *Engine) WithdrawAndHarvest(ctx context.Context, pid uint64, caller common.Address, amount *uint256.Int, recipient common.Address) (*Receipt, error) {
	unlock := e.lockPool(pid)
	defer unlock()

	receipt, err := e.withdrawAndHarvestLocked(ctx, pid, caller, amount, recipient)
	e.finish("withdraw_and_harvest", pid, err)
	return receipt, err
}

func (e *Engine) withdrawAndHarvestLocked(ctx context.Context, pid uint64, caller common.Address, amount *uint256.Int, recipient common.Address) (*Receipt, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == nil {
		return nil, ErrInvalidAmount
	}
	txn, err := e.begin(ctx, pid, caller)
	if err != nil {
		return nil, err
	}
	pos := txn.pos
	if amount.Gt(pos.Amount) {
		return nil, fmt.Errorf("%w: requested %s, staked %s", ErrInsufficientStake, amount.Dec(), pos.Amount.Dec())
	}
	acc := txn.pool.AccRewardPerShare
	accumulated, pending, err := pendingFor(pos, acc)
	if err != nil {
		return nil, fmt.Errorf("pool %d: %w", pid, err)
	}
	remaining := new(uint256.Int).Sub(pos.Amount, amount)
	shift, err := debtShift(pos.Amount, remaining, acc)
	if err != nil {
		return nil, err
	}
	pos.RewardDebt = accumulated.Add(accumulated, shift)
	pos.Amount = remaining

	if err := e.commit(txn, caller, events.FarmWithdraw{
		PoolID:      pid,
		Participant: caller,
		Recipient:   recipient,
		Amount:      cloneU256(amount),
	}); err != nil {
		return nil, err
	}
	e.emit(events.FarmHarvest{
		PoolID:      pid,
		Participant: caller,
		Recipient:   recipient,
		Amount:      cloneU256(pending),
	})
	transfers := e.rewardTransfers(recipient, pending)
	transfers = append(transfers, Transfer{
		Direction: TransferOut,
		Asset:     txn.pool.StakeAsset,
		Party:     recipient,
		Amount:    cloneU256(amount),
	})
	receipt := e.receipt(txn, pending, transfers...)
	hookErr := e.callHook(ctx, txn.pool, RewardEvent{
		PoolID:      pid,
		Participant: caller,
		Recipient:   recipient,
		Harvested:   cloneU256(pending),
		NewAmount:   cloneU256(pos.Amount),
	})
	return receipt, hookErr
}

// EmergencyWithdraw returns the caller's entire stake to recipient and
// forfeits pending reward. It runs while the module is paused and never fails
// because of the reward hook.
func (e *Engine) EmergencyWithdraw(ctx context.Context, pid uint64, caller common.Address, recipient common.Address) (*Receipt, error) {
	unlock := e.lockPool(pid)
	defer unlock()

	receipt, err := e.emergencyWithdrawLocked(ctx, pid, caller, recipient)
	e.finish("emergency_withdraw", pid, err)
	return receipt, err
}

func (e *Engine) emergencyWithdrawLocked(ctx context.Context, pid uint64, caller common.Address, recipient common.Address) (*Receipt, error) {
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool(pid, totals)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(pid, caller)
	if err != nil {
		return nil, err
	}
	prior := cloneU256(pos.Amount)
	pos.Amount = new(uint256.Int)
	pos.RewardDebt = big.NewInt(0)

	txn := &ledgerTxn{totals: totals, pool: pool, pos: pos}
	changes := newChangeSet()
	changes.putPosition(pid, caller, pos)
	if err := e.apply(changes); err != nil {
		return nil, err
	}
	e.emit(events.FarmEmergencyWithdraw{
		PoolID:      pid,
		Participant: caller,
		Recipient:   recipient,
		Amount:      cloneU256(prior),
	})
	receipt := e.receipt(txn, nil, Transfer{
		Direction: TransferOut,
		Asset:     pool.StakeAsset,
		Party:     recipient,
		Amount:    prior,
	})
	if err := e.callHook(ctx, pool, RewardEvent{
		PoolID:      pid,
		Participant: caller,
		Recipient:   recipient,
		Harvested:   new(uint256.Int),
		NewAmount:   new(uint256.Int),
	}); err != nil {
		e.logger.Warn("farm: reward hook failed during emergency withdraw",
			slog.Uint64("pool", pid),
			slog.String("participant", caller.Hex()),
			slog.Any("error", err))
	}
	return receipt, nil
}

func (e *Engine) rewardTransfers(recipient common.Address, pending *uint256.Int) []Transfer {
	if pending == nil || pending.IsZero() {
		return nil
	}
	return []Transfer{{
		Direction: TransferOut,
		Asset:     e.rewardAsset,
		Party:     recipient,
		Amount:    cloneU256(pending),
	}}
}

// PendingReward projects the reward the participant could harvest now
// without persisting the accrual update.
func (e *Engine) PendingReward(ctx context.Context, pid uint64, who common.Address) (*uint256.Int, error) {
	unlock := e.lockPool(pid)
	defer unlock()

	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool(pid, totals)
	if err != nil {
		return nil, err
	}
	if _, err := e.accrue(ctx, pool, totals, e.now()); err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(pid, who)
	if err != nil {
		return nil, err
	}
	_, pending, err := pendingFor(pos, pool.AccRewardPerShare)
	if err != nil {
		return nil, fmt.Errorf("pool %d: %w", pid, err)
	}
	return pending, nil
}
