package farm

import (
	"context"
	"testing"

	"github.com/holiman/uint256"

	"stakefarm/native/farm/rates"
)

func scheduledFixture(t *testing.T) (*fixture, uint64) {
	t.Helper()
	f := newFixture(t)
	schedule, err := rates.NewSchedule([]rates.Step{
		{Start: 0, Rate: u(10)},
		{Start: 5, Rate: u(2)},
	}, f.clock.Now)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	f.engine.SetRateSource(schedule)
	pid := f.addPool(t, 1, 0)
	return f, pid
}

func TestAccrualChargesEachScheduleStep(t *testing.T) {
	f, pid := scheduledFixture(t)
	alice := participant(0x01)
	ctx := context.Background()

	mustDeposit(t, f, pid, alice, 1)
	f.clock.now = 10
	pending, err := f.engine.PendingReward(ctx, pid, alice)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	requireU256(t, "pending across step", pending, 5*10+5*2)

	split, splitPid := scheduledFixture(t)
	mustDeposit(t, split, splitPid, alice, 1)
	split.clock.now = 5
	if _, err := split.engine.UpdatePool(ctx, splitPid); err != nil {
		t.Fatalf("update at step: %v", err)
	}
	split.clock.now = 10
	requireU256(t, "harvest after split update", mustHarvest(t, split, splitPid, alice), 5*10+5*2)
	requireU256(t, "harvest in one update", mustHarvest(t, f, pid, alice), 5*10+5*2)
}

func TestFlatRateSourceChargesWholeInterval(t *testing.T) {
	gross, err := flatEmission(u(7), 3, 9)
	if err != nil {
		t.Fatalf("flat emission: %v", err)
	}
	requireU256(t, "gross", gross, 42)

	_, err = flatEmission(new(uint256.Int).SetAllOne(), 0, 2)
	requireErr(t, err, ErrInvariantViolation)
}
