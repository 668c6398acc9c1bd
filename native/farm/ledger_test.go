package farm

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakefarm/core/events"
	nativecommon "stakefarm/native/common"
)

func TestSinglePoolFullEmissionToSoleStaker(t *testing.T) {
	f := newFixture(t)
	f.clock.now = 100
	pid := f.addPool(t, 100, 100)
	alice := participant(0x01)

	mustDeposit(t, f, pid, alice, 100)
	f.clock.now = 200

	receipt, err := f.engine.Harvest(context.Background(), pid, alice, alice)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	requireU256(t, "harvested", receipt.Harvested, 10_000)
	if len(receipt.Transfers) != 1 {
		t.Fatalf("expected one transfer, got %d", len(receipt.Transfers))
	}
	transfer := receipt.Transfers[0]
	if transfer.Direction != TransferOut || transfer.Asset != "RWD" || transfer.Party != alice {
		t.Fatalf("unexpected reward transfer: %+v", transfer)
	}
	requireU256(t, "transfer amount", transfer.Amount, 10_000)

	pool, err := f.engine.Pool(pid)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	requireU256(t, "acc", pool.AccRewardPerShare, 100*AccScale)
	if pool.LastAccrualPoint != 200 {
		t.Fatalf("unexpected last accrual point %d", pool.LastAccrualPoint)
	}
}

func TestEmptyPoolGapIsNotDistributed(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 10)
	alice := participant(0x01)

	f.clock.now = 50
	mustDeposit(t, f, pid, alice, 100)
	pool, err := f.engine.Pool(pid)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.LastAccrualPoint != 50 || !pool.AccRewardPerShare.IsZero() {
		t.Fatalf("expected accrual point to advance without reward, got %d/%s", pool.LastAccrualPoint, pool.AccRewardPerShare)
	}

	f.clock.now = 60
	requireU256(t, "harvested", mustHarvest(t, f, pid, alice), 100)
}

func TestRewardsSplitByStakeShare(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 40)
	alice, bob := participant(0x01), participant(0x02)

	mustDeposit(t, f, pid, alice, 100)
	f.clock.now = 10
	receipt := mustDeposit(t, f, pid, bob, 300)
	requireBig(t, "bob debt", receipt.Position.RewardDebt, 1200)

	f.clock.now = 20
	requireU256(t, "alice", mustHarvest(t, f, pid, alice), 500)
	requireU256(t, "bob", mustHarvest(t, f, pid, bob), 300)
}

func TestAllocationPointsSplitEmission(t *testing.T) {
	f := newFixture(t)
	first := f.addPool(t, 1, 30)
	second := f.addPool(t, 2, 30)
	alice := participant(0x01)

	mustDeposit(t, f, first, alice, 10)
	mustDeposit(t, f, second, alice, 10)
	f.clock.now = 10

	requireU256(t, "first pool", mustHarvest(t, f, first, alice), 100)
	requireU256(t, "second pool", mustHarvest(t, f, second, alice), 200)
}

func TestZeroTotalAllocationAccruesNothing(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 0, 1000)
	alice := participant(0x01)

	mustDeposit(t, f, pid, alice, 10)
	f.clock.now = 10
	requireU256(t, "harvested", mustHarvest(t, f, pid, alice), 0)
}

func TestHarvestZeroesPending(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 10)
	alice := participant(0x01)

	mustDeposit(t, f, pid, alice, 100)
	f.clock.now = 10
	pending, err := f.engine.PendingReward(context.Background(), pid, alice)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	requireU256(t, "pending before harvest", pending, 100)

	mustHarvest(t, f, pid, alice)
	pending, err = f.engine.PendingReward(context.Background(), pid, alice)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	requireU256(t, "pending after harvest", pending, 0)

	receipt, err := f.engine.Harvest(context.Background(), pid, alice, alice)
	if err != nil {
		t.Fatalf("second harvest: %v", err)
	}
	if len(receipt.Transfers) != 0 {
		t.Fatalf("expected no reward transfer for zero pending, got %+v", receipt.Transfers)
	}
}

func TestPendingRewardDoesNotPersist(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 10)
	alice := participant(0x01)

	mustDeposit(t, f, pid, alice, 100)
	f.clock.now = 10
	if _, err := f.engine.PendingReward(context.Background(), pid, alice); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if stored := f.state.pools[pid]; stored.LastAccrualPoint != 0 || !stored.AccRewardPerShare.IsZero() {
		t.Fatalf("projection mutated pool: %+v", stored)
	}
}

func TestWithdrawAndHarvestMatchesEitherSequentialOrder(t *testing.T) {
	cases := []struct {
		name                   string
		deposit, elapsed, take uint64
		harvested, left, debt  uint64
	}{
		{name: "whole acc", deposit: 100, elapsed: 10, take: 40, harvested: 10, left: 60, debt: 6},
		{name: "half acc", deposit: 2, elapsed: 1, take: 1, harvested: 1, left: 1, debt: 0},
		{name: "third acc", deposit: 3, elapsed: 4, take: 1, harvested: 3, left: 2, debt: 2},
		{name: "sevenths acc", deposit: 7, elapsed: 3, take: 4, harvested: 2, left: 3, debt: 1},
	}
	alice := participant(0x01)
	ctx := context.Background()

	for _, tc := range cases {
		run := func(order string) (*uint256.Int, *Position) {
			f := newFixture(t)
			pid := f.addPool(t, 1, 1)
			mustDeposit(t, f, pid, alice, tc.deposit)
			f.clock.now = tc.elapsed

			var harvested *uint256.Int
			switch order {
			case "combined":
				receipt, err := f.engine.WithdrawAndHarvest(ctx, pid, alice, u(tc.take), alice)
				if err != nil {
					t.Fatalf("%s %s: %v", tc.name, order, err)
				}
				harvested = receipt.Harvested
			case "harvest first":
				harvested = mustHarvest(t, f, pid, alice)
				if _, err := f.engine.Withdraw(ctx, pid, alice, u(tc.take), alice); err != nil {
					t.Fatalf("%s %s: %v", tc.name, order, err)
				}
			case "withdraw first":
				if _, err := f.engine.Withdraw(ctx, pid, alice, u(tc.take), alice); err != nil {
					t.Fatalf("%s %s: %v", tc.name, order, err)
				}
				harvested = mustHarvest(t, f, pid, alice)
			}
			pending, err := f.engine.PendingReward(ctx, pid, alice)
			if err != nil {
				t.Fatalf("%s %s pending: %v", tc.name, order, err)
			}
			requireU256(t, tc.name+" "+order+" pending", pending, 0)
			pos, err := f.engine.Position(pid, alice)
			if err != nil {
				t.Fatalf("%s %s position: %v", tc.name, order, err)
			}
			return harvested, pos
		}
		for _, order := range []string{"combined", "harvest first", "withdraw first"} {
			harvested, pos := run(order)
			requireU256(t, tc.name+" "+order+" harvested", harvested, tc.harvested)
			requireU256(t, tc.name+" "+order+" amount", pos.Amount, tc.left)
			requireBig(t, tc.name+" "+order+" debt", pos.RewardDebt, int64(tc.debt))
		}
	}
}

func TestPartialWithdrawAtHalfAccKeepsPendingNonNegative(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 1)
	alice := participant(0x01)
	ctx := context.Background()

	mustDeposit(t, f, pid, alice, 2)
	f.clock.now = 1
	requireU256(t, "harvested", mustHarvest(t, f, pid, alice), 1)
	if acc := f.state.pools[pid].AccRewardPerShare; !acc.Eq(u(AccScale / 2)) {
		t.Fatalf("expected acc of half a unit, got %s", acc)
	}

	receipt, err := f.engine.Withdraw(ctx, pid, alice, u(1), alice)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	requireU256(t, "amount", receipt.Position.Amount, 1)
	requireBig(t, "debt", receipt.Position.RewardDebt, 0)
	pending, err := f.engine.PendingReward(ctx, pid, alice)
	if err != nil {
		t.Fatalf("pending after partial withdraw: %v", err)
	}
	requireU256(t, "pending", pending, 0)

	if _, err := f.engine.Withdraw(ctx, pid, alice, u(1), alice); err != nil {
		t.Fatalf("withdraw rest: %v", err)
	}
	requireU256(t, "harvest with zero stake", mustHarvest(t, f, pid, alice), 0)
}

func TestSplitDepositAtHalfAccEarnsNothing(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 1)
	alice, bob := participant(0x01), participant(0x02)
	ctx := context.Background()

	mustDeposit(t, f, pid, bob, 2)
	f.clock.now = 1
	mustDeposit(t, f, pid, alice, 1)
	receipt := mustDeposit(t, f, pid, alice, 1)
	requireBig(t, "alice debt", receipt.Position.RewardDebt, 1)

	alicePending, err := f.engine.PendingReward(ctx, pid, alice)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	bobPending, err := f.engine.PendingReward(ctx, pid, bob)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	requireU256(t, "alice", alicePending, 0)
	requireU256(t, "bob", bobPending, 1)
}

func TestWithdrawKeepsPendingClaimable(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 10)
	alice := participant(0x01)
	ctx := context.Background()

	mustDeposit(t, f, pid, alice, 100)
	f.clock.now = 10
	receipt, err := f.engine.Withdraw(ctx, pid, alice, u(100), alice)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	requireU256(t, "amount", receipt.Position.Amount, 0)
	requireBig(t, "debt", receipt.Position.RewardDebt, -100)
	if receipt.Transfers[0].Asset != "LP" || receipt.Transfers[0].Direction != TransferOut {
		t.Fatalf("unexpected stake transfer: %+v", receipt.Transfers[0])
	}

	f.clock.now = 20
	requireU256(t, "harvested", mustHarvest(t, f, pid, alice), 100)
}

func TestWithdrawExceedingStakeRejected(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 10)
	alice := participant(0x01)

	mustDeposit(t, f, pid, alice, 100)
	f.clock.now = 10
	_, err := f.engine.Withdraw(context.Background(), pid, alice, u(101), alice)
	requireErr(t, err, ErrInsufficientStake)

	pos, err := f.engine.Position(pid, alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	requireU256(t, "amount", pos.Amount, 100)
	if f.state.pools[pid].LastAccrualPoint != 0 {
		t.Fatalf("rejected withdraw persisted accrual")
	}
}

func TestDepositOverflowRejected(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 0)
	alice := participant(0x01)
	ctx := context.Background()

	max := new(uint256.Int).SetAllOne()
	if _, err := f.engine.Deposit(ctx, pid, alice, max, alice); err != nil {
		t.Fatalf("deposit max: %v", err)
	}
	_, err := f.engine.Deposit(ctx, pid, alice, u(1), alice)
	requireErr(t, err, ErrAmountOverflow)

	pos, err := f.engine.Position(pid, alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !pos.Amount.Eq(max) {
		t.Fatalf("overflowing deposit mutated stake: %s", pos.Amount)
	}
}

func TestDepositCreditsBeneficiary(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 10)
	payer, beneficiary := participant(0x01), participant(0x02)

	receipt, err := f.engine.Deposit(context.Background(), pid, payer, u(25), beneficiary)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if receipt.Transfers[0].Party != payer || receipt.Transfers[0].Direction != TransferIn {
		t.Fatalf("expected inbound transfer from payer, got %+v", receipt.Transfers[0])
	}
	pos, err := f.engine.Position(pid, beneficiary)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	requireU256(t, "beneficiary stake", pos.Amount, 25)
	payerPos, err := f.engine.Position(pid, payer)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	requireU256(t, "payer stake", payerPos.Amount, 0)
}

func TestEmergencyWithdrawForfeitsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid, err := f.engine.AddPool(ctx, 1, "LP", "hook")
	if err != nil {
		t.Fatalf("add pool: %v", err)
	}
	f.rates.rates[pid] = u(10)
	alice := participant(0x01)
	mustDeposit(t, f, pid, alice, 500)

	f.clock.now = 10
	f.hook.err = errors.New("hook offline")
	f.engine.SetPauses(stubPauseView{modules: map[string]bool{"farm": true}})

	receipt, err := f.engine.EmergencyWithdraw(ctx, pid, alice, alice)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if len(receipt.Transfers) != 1 {
		t.Fatalf("expected one transfer, got %+v", receipt.Transfers)
	}
	transfer := receipt.Transfers[0]
	if transfer.Asset != "LP" || transfer.Direction != TransferOut {
		t.Fatalf("unexpected transfer %+v", transfer)
	}
	requireU256(t, "returned stake", transfer.Amount, 500)
	requireU256(t, "amount", receipt.Position.Amount, 0)
	requireBig(t, "debt", receipt.Position.RewardDebt, 0)

	last := f.hook.calls[len(f.hook.calls)-1]
	if !last.Harvested.IsZero() || !last.NewAmount.IsZero() {
		t.Fatalf("unexpected hook payload %+v", last)
	}

	f.engine.SetPauses(nil)
	f.hook.err = nil
	f.clock.now = 20
	requireU256(t, "pending after forfeit", mustHarvest(t, f, pid, alice), 0)
}

func TestEmergencyWithdrawWithoutStake(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 10)
	receipt, err := f.engine.EmergencyWithdraw(context.Background(), pid, participant(0x09), participant(0x09))
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	requireU256(t, "transfer", receipt.Transfers[0].Amount, 0)
}

func TestHookFailureAfterMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid, err := f.engine.AddPool(ctx, 1, "LP", "hook")
	if err != nil {
		t.Fatalf("add pool: %v", err)
	}
	alice := participant(0x01)
	f.hook.err = errors.New("boom")

	receipt, err := f.engine.Deposit(ctx, pid, alice, u(10), alice)
	requireErr(t, err, ErrRewardHook)
	if receipt == nil || len(receipt.Transfers) != 1 {
		t.Fatalf("expected receipt despite hook failure, got %+v", receipt)
	}
	pos, err := f.engine.Position(pid, alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	requireU256(t, "persisted stake", pos.Amount, 10)
	if len(f.hook.calls) != 1 {
		t.Fatalf("expected one hook call, got %d", len(f.hook.calls))
	}
	call := f.hook.calls[0]
	if call.Participant != alice || call.Recipient != alice || !call.Harvested.IsZero() || !call.NewAmount.Eq(u(10)) {
		t.Fatalf("unexpected hook payload %+v", call)
	}
}

func TestUnregisteredHookIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pid, err := f.engine.AddPool(ctx, 1, "LP", "missing")
	if err != nil {
		t.Fatalf("add pool: %v", err)
	}
	if _, err := f.engine.Deposit(ctx, pid, participant(0x01), u(10), participant(0x01)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func TestPauseBlocksLedgerOperations(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 10)
	alice := participant(0x01)
	ctx := context.Background()
	f.engine.SetPauses(stubPauseView{modules: map[string]bool{"farm": true}})

	_, err := f.engine.Deposit(ctx, pid, alice, u(10), alice)
	requireErr(t, err, nativecommon.ErrModulePaused)
	_, err = f.engine.Harvest(ctx, pid, alice, alice)
	requireErr(t, err, nativecommon.ErrModulePaused)
	_, err = f.engine.AddPool(ctx, 1, "LP", "")
	requireErr(t, err, nativecommon.ErrModulePaused)

	if _, ok := f.state.positions[PositionKey{PoolID: pid, Participant: alice}]; ok {
		t.Fatalf("paused deposit created a position")
	}
}

func TestUnknownPoolRejected(t *testing.T) {
	f := newFixture(t)
	alice := participant(0x01)
	_, err := f.engine.Deposit(context.Background(), 3, alice, u(1), alice)
	requireErr(t, err, ErrUnknownPool)
	_, err = f.engine.EmergencyWithdraw(context.Background(), 3, alice, alice)
	requireErr(t, err, ErrUnknownPool)
}

func TestConservationAcrossParticipants(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 7)
	alice, bob, carol := participant(0x01), participant(0x02), participant(0x03)
	ctx := context.Background()

	distributed := new(uint256.Int)
	mustDeposit(t, f, pid, alice, 3)
	f.clock.now = 5
	mustDeposit(t, f, pid, bob, 11)
	f.clock.now = 9
	mustDeposit(t, f, pid, carol, 13)
	f.clock.now = 14
	receipt, err := f.engine.WithdrawAndHarvest(ctx, pid, alice, u(1), alice)
	if err != nil {
		t.Fatalf("withdraw and harvest: %v", err)
	}
	distributed.Add(distributed, receipt.Harvested)
	f.clock.now = 20
	distributed.Add(distributed, mustHarvest(t, f, pid, bob))

	f.clock.now = 33
	for _, who := range []common.Address{alice, bob, carol} {
		pending, err := f.engine.PendingReward(ctx, pid, who)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		distributed.Add(distributed, pending)
	}

	emitted := uint64(33 * 7)
	got := distributed.Uint64()
	if got > emitted {
		t.Fatalf("distributed %d exceeds emitted %d", got, emitted)
	}
	if got+3 < emitted {
		t.Fatalf("distributed %d lost more than rounding dust of %d", got, emitted)
	}
}

func TestUpdatePoolIsIdempotent(t *testing.T) {
	f := newFixture(t)
	pid := f.addPool(t, 1, 10)
	mustDeposit(t, f, pid, participant(0x01), 100)
	f.clock.now = 10
	ctx := context.Background()

	first, err := f.engine.UpdatePool(ctx, pid)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	second, err := f.engine.UpdatePool(ctx, pid)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !first.AccRewardPerShare.Eq(second.AccRewardPerShare) || first.LastAccrualPoint != second.LastAccrualPoint {
		t.Fatalf("second update changed pool: %+v vs %+v", first, second)
	}
	if n := len(f.collector.OfType(events.TypeFarmPoolUpdated)); n != 1 {
		t.Fatalf("expected one pool update event, got %d", n)
	}
}

func TestUpdatePoolsCoversEveryPool(t *testing.T) {
	f := newFixture(t)
	f.addPool(t, 1, 10)
	f.addPool(t, 1, 10)
	f.clock.now = 7
	if err := f.engine.UpdatePools(context.Background()); err != nil {
		t.Fatalf("update pools: %v", err)
	}
	for pid, pool := range f.state.pools {
		if pool.LastAccrualPoint != 7 {
			t.Fatalf("pool %d not updated: %d", pid, pool.LastAccrualPoint)
		}
	}
}
