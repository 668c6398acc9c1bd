package farm

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// AccScale is the fixed-point scale applied to AccRewardPerShare.
const AccScale = 1_000_000_000_000

var accScale = uint256.NewInt(AccScale)

// accruedValue returns amount*acc/AccScale truncated toward zero.
func accruedValue(amount, acc *uint256.Int) (*uint256.Int, error) {
	if amount == nil || acc == nil || amount.IsZero() || acc.IsZero() {
		return new(uint256.Int), nil
	}
	product, overflow := new(uint256.Int).MulOverflow(amount, acc)
	if overflow {
		return nil, fmt.Errorf("%w: accrued value overflow (amount=%s acc=%s)", ErrInvariantViolation, amount.Dec(), acc.Dec())
	}
	return product.Div(product, accScale), nil
}

// accruedSigned is accruedValue lifted into the signed debt domain.
func accruedSigned(amount, acc *uint256.Int) (*big.Int, error) {
	value, err := accruedValue(amount, acc)
	if err != nil {
		return nil, err
	}
	return toSigned(value), nil
}

// debtShift returns accrued(to) - accrued(from), the debt adjustment that
// leaves pending reward unchanged when a stake moves from one amount to
// another.
func debtShift(from, to, acc *uint256.Int) (*big.Int, error) {
	before, err := accruedSigned(from, acc)
	if err != nil {
		return nil, err
	}
	after, err := accruedSigned(to, acc)
	if err != nil {
		return nil, err
	}
	return after.Sub(after, before), nil
}

// perShareIncrement returns reward*AccScale/supply. supply must be non-zero.
func perShareIncrement(reward, supply *uint256.Int) (*uint256.Int, error) {
	if supply == nil || supply.IsZero() {
		return nil, fmt.Errorf("%w: per-share increment with zero supply", ErrInvariantViolation)
	}
	if reward == nil || reward.IsZero() {
		return new(uint256.Int), nil
	}
	scaled, overflow := new(uint256.Int).MulOverflow(reward, accScale)
	if overflow {
		return nil, fmt.Errorf("%w: reward scaling overflow (reward=%s)", ErrInvariantViolation, reward.Dec())
	}
	return scaled.Div(scaled, supply), nil
}

// toSigned converts an unsigned amount into the signed debt representation.
func toSigned(value *uint256.Int) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	return value.ToBig()
}

// toUnsigned converts a signed value back into the unsigned domain. Negative
// values and values wider than 256 bits are invariant violations.
func toUnsigned(value *big.Int) (*uint256.Int, error) {
	if value == nil {
		return new(uint256.Int), nil
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value %s", ErrInvariantViolation, value)
	}
	converted, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("%w: value %s exceeds 256 bits", ErrInvariantViolation, value)
	}
	return converted, nil
}

// pendingFor computes accumulated-minus-debt for a position without mutating it.
func pendingFor(pos *Position, acc *uint256.Int) (accumulated *big.Int, pending *uint256.Int, err error) {
	accumulated, err = accruedSigned(pos.Amount, acc)
	if err != nil {
		return nil, nil, err
	}
	diff := new(big.Int).Sub(accumulated, debtOf(pos))
	if diff.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: negative pending reward %s", ErrInvariantViolation, diff)
	}
	pending, err = toUnsigned(diff)
	if err != nil {
		return nil, nil, err
	}
	return accumulated, pending, nil
}

func debtOf(pos *Position) *big.Int {
	if pos == nil || pos.RewardDebt == nil {
		return big.NewInt(0)
	}
	return pos.RewardDebt
}

func cloneU256(value *uint256.Int) *uint256.Int {
	if value == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(value)
}

func cloneBig(value *big.Int) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(value)
}
