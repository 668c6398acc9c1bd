package farm

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RateSource supplies the reward emitted per time unit for a pool before the
// allocation-point split is applied.
type RateSource interface {
	RatePerUnit(poolID uint64) (*uint256.Int, error)
}

// IntervalRateSource is a RateSource whose rate changes over time. Emission
// returns the reward emitted for the pool over the units from..to, before the
// allocation-point split, so an interval spanning a rate change is charged
// each rate for its own share of the interval.
type IntervalRateSource interface {
	RateSource
	Emission(poolID uint64, from, to uint64) (*uint256.Int, error)
}

// SupplySource reports the externally tracked stake held for a pool.
type SupplySource interface {
	StakedSupply(ctx context.Context, pool Pool) (*uint256.Int, error)
}

// BalanceSource reports the engine's holdings of an asset.
type BalanceSource interface {
	BalanceOf(ctx context.Context, asset AssetID) (*uint256.Int, error)
}

// RewardEvent is delivered to the reward hook after every ledger mutation.
type RewardEvent struct {
	PoolID      uint64
	Participant common.Address
	Recipient   common.Address
	Harvested   *uint256.Int
	NewAmount   *uint256.Int
}

// RewardHook is the secondary incentive collaborator notified of stake and
// harvest changes.
type RewardHook interface {
	OnReward(ctx context.Context, event RewardEvent) error
}

// HookResolver maps a pool's hook reference to a live hook.
type HookResolver interface {
	Resolve(ref HookRef) (RewardHook, bool)
}

// Migrator swaps a pool's stake asset for a new implementation holding the
// same balance. Migrate is all-or-nothing: it must confirm that its holding
// of asset equals balance before moving anything, and on error it must leave
// both assets as they were. The engine re-reads the returned asset's balance
// and refuses to record the switch if it differs.
type Migrator interface {
	Migrate(ctx context.Context, poolID uint64, asset AssetID, balance *uint256.Int) (AssetID, error)
}

// Clock returns the current accrual time unit (block height or timestamp).
type Clock interface {
	Now() uint64
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() uint64

// Now implements Clock.
func (f ClockFunc) Now() uint64 { return f() }

// HookMap is a static HookResolver.
type HookMap map[HookRef]RewardHook

// Resolve implements HookResolver.
func (m HookMap) Resolve(ref HookRef) (RewardHook, bool) {
	hook, ok := m[ref]
	return hook, ok && hook != nil
}

type engineState interface {
	GetTotals() (*Totals, error)
	GetPool(id uint64) (*Pool, error)
	GetPosition(poolID uint64, who common.Address) (*Position, error)
	Apply(changes Changes) error
}
