package farm

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestAccruedValueTruncates(t *testing.T) {
	got, err := accruedValue(u(3), u(AccScale/2))
	if err != nil {
		t.Fatalf("accrued value: %v", err)
	}
	requireU256(t, "accrued", got, 1)
}

func TestAccruedValueOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := accruedValue(max, u(2))
	requireErr(t, err, ErrInvariantViolation)
}

func TestToUnsignedRejectsNegative(t *testing.T) {
	_, err := toUnsigned(big.NewInt(-1))
	requireErr(t, err, ErrInvariantViolation)

	wide := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = toUnsigned(wide)
	requireErr(t, err, ErrInvariantViolation)
}

func TestPendingForNegativeIsViolation(t *testing.T) {
	pos := &Position{Amount: u(10), RewardDebt: big.NewInt(11)}
	_, _, err := pendingFor(pos, u(AccScale))
	requireErr(t, err, ErrInvariantViolation)
}

func TestAdvancePoolZeroSupplyOnlyMovesPoint(t *testing.T) {
	pool := &Pool{AllocationPoints: 1, LastAccrualPoint: 5}
	called := false
	emission := func(from, to uint64) (*uint256.Int, error) {
		called = true
		return flatEmission(u(10), from, to)
	}
	changed, err := advancePool(pool, 9, new(uint256.Int), 1, emission)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !changed || pool.LastAccrualPoint != 9 || !pool.AccRewardPerShare.IsZero() {
		t.Fatalf("unexpected pool %+v", pool)
	}
	if called {
		t.Fatalf("emission consulted with zero supply")
	}

	changed, err = advancePool(pool, 9, u(1), 1, emission)
	if err != nil || changed {
		t.Fatalf("expected no-op at same point, changed=%v err=%v", changed, err)
	}
}

func TestPoolRewardTruncates(t *testing.T) {
	reward, err := poolReward(4, 5, 1, 3, func(from, to uint64) (*uint256.Int, error) {
		return flatEmission(u(10), from, to)
	})
	if err != nil {
		t.Fatalf("pool reward: %v", err)
	}
	requireU256(t, "reward", reward, 3)
}
