package farm

import "errors"

var (
	errNilState = errors.New("farm: state not configured")

	// ErrUnknownPool is returned when a pool identifier has not been assigned.
	ErrUnknownPool = errors.New("farm: unknown pool")
	// ErrInvalidAmount is returned for zero amounts where a positive one is required.
	ErrInvalidAmount = errors.New("farm: amount must be positive")
	// ErrInvalidAsset is returned when a pool is registered without a stake asset.
	ErrInvalidAsset = errors.New("farm: stake asset must not be empty")
	// ErrAmountOverflow is returned when a stake would not fit in 256 bits.
	ErrAmountOverflow = errors.New("farm: amount overflow")
	// ErrInsufficientStake is returned when a withdrawal exceeds the staked amount.
	ErrInsufficientStake = errors.New("farm: insufficient stake")
	// ErrInsufficientBalance is returned when a capacity allocation exceeds the
	// engine's reward-asset holdings.
	ErrInsufficientBalance = errors.New("farm: insufficient reward balance")
	// ErrZeroTotalWeight is returned by weight queries while no pool carries weight.
	ErrZeroTotalWeight = errors.New("farm: total weight is zero")
	// ErrNoMigratorConfigured is returned by Migrate when no migrator is wired.
	ErrNoMigratorConfigured = errors.New("farm: no migrator configured")
	// ErrMigrationBalanceMismatch is returned when the migrated asset balance
	// differs from the balance held before migration.
	ErrMigrationBalanceMismatch = errors.New("farm: migration balance mismatch")
	// ErrInvariantViolation signals an accounting bug. It is never clamped.
	ErrInvariantViolation = errors.New("farm: invariant violation")
	// ErrRewardHook wraps reward-hook failures raised after the ledger was updated.
	ErrRewardHook = errors.New("farm: reward hook failed")
	// ErrRateUnavailable wraps rate source failures.
	ErrRateUnavailable = errors.New("farm: rate source unavailable")
	// ErrSupplyUnavailable wraps staked-supply and balance source failures.
	ErrSupplyUnavailable = errors.New("farm: supply source unavailable")
)
