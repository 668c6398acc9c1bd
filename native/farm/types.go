package farm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetID identifies a stake or reward asset managed by the custody layer.
type AssetID string

// HookRef names a registered reward hook. The empty ref disables the hook.
type HookRef string

// Normalize trims surrounding whitespace from the identifier.
func (a AssetID) Normalize() AssetID { return AssetID(strings.TrimSpace(string(a))) }

// Normalize trims surrounding whitespace from the reference.
func (h HookRef) Normalize() HookRef { return HookRef(strings.TrimSpace(string(h))) }

// Pool captures the accounting state of a single stake/reward stream.
type Pool struct {
	// ID is the dense, zero-based pool index assigned on creation.
	ID uint64
	// AllocationPoints is the pool's share of the global accrual rate.
	AllocationPoints uint64
	// AccRewardPerShare is the cumulative reward per unit of stake scaled by
	// AccScale.
	AccRewardPerShare *uint256.Int
	// LastAccrualPoint is the time unit at which accrual was last applied.
	LastAccrualPoint uint64
	// TotalAllocatedSupply is the reward capacity reserved for this pool.
	TotalAllocatedSupply *uint256.Int
	// Weight is the secondary 0..255 allocation axis.
	Weight uint8
	// StakeAsset is the asset deposited into the pool.
	StakeAsset AssetID
	// RewardHook references the secondary reward collaborator.
	RewardHook HookRef
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.AccRewardPerShare = cloneU256(p.AccRewardPerShare)
	clone.TotalAllocatedSupply = cloneU256(p.TotalAllocatedSupply)
	return &clone
}

func (p *Pool) ensure() {
	if p.AccRewardPerShare == nil {
		p.AccRewardPerShare = new(uint256.Int)
	}
	if p.TotalAllocatedSupply == nil {
		p.TotalAllocatedSupply = new(uint256.Int)
	}
}

// Position is a participant's stake and reward debt within one pool.
type Position struct {
	Amount     *uint256.Int
	RewardDebt *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return &Position{Amount: new(uint256.Int), RewardDebt: big.NewInt(0)}
	}
	return &Position{Amount: cloneU256(p.Amount), RewardDebt: cloneBig(p.RewardDebt)}
}

// Totals aggregates the process-wide counters maintained alongside pools.
type Totals struct {
	PoolCount             uint64
	AllocationPoints      uint64
	Weight                uint64
	AllocatedRewardSupply *uint256.Int
}

// Clone returns a deep copy of the totals.
func (t *Totals) Clone() *Totals {
	if t == nil {
		return &Totals{AllocatedRewardSupply: new(uint256.Int)}
	}
	clone := *t
	clone.AllocatedRewardSupply = cloneU256(t.AllocatedRewardSupply)
	return &clone
}

// Direction describes which way a transfer intent moves an asset.
type Direction uint8

const (
	// TransferIn moves an asset from a participant into the engine.
	TransferIn Direction = iota + 1
	// TransferOut moves an asset from the engine to a participant.
	TransferOut
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	switch d {
	case TransferIn:
		return "in"
	case TransferOut:
		return "out"
	default:
		return "unknown"
	}
}

// Transfer is an asset movement decided by the engine for the custody layer
// to execute.
type Transfer struct {
	Direction Direction
	Asset     AssetID
	Party     common.Address
	Amount    *uint256.Int
}

// Receipt reports the outcome of a state-changing ledger operation.
type Receipt struct {
	PoolID uint64
	// Harvested is the reward amount realised by the operation, if any.
	Harvested *uint256.Int
	// Position is the participant's position after the operation.
	Position  *Position
	Transfers []Transfer
}

// PositionKey addresses a position record.
type PositionKey struct {
	PoolID      uint64
	Participant common.Address
}

// changeSet collects the records written by one operation so the state
// backend can apply them atomically.
type changeSet struct {
	pools     []*Pool
	positions map[PositionKey]*Position
	totals    *Totals
}

func newChangeSet() *changeSet {
	return &changeSet{positions: make(map[PositionKey]*Position)}
}

func (c *changeSet) putPool(pool *Pool) { c.pools = append(c.pools, pool) }

func (c *changeSet) putPosition(pid uint64, who common.Address, pos *Position) {
	c.positions[PositionKey{PoolID: pid, Participant: who}] = pos
}

func (c *changeSet) putTotals(t *Totals) { c.totals = t }

// Changes is the exported view of a changeSet handed to state backends.
type Changes struct {
	Pools     []*Pool
	Positions map[PositionKey]*Position
	Totals    *Totals
}

func (c *changeSet) export() Changes {
	return Changes{Pools: c.pools, Positions: c.positions, Totals: c.totals}
}
