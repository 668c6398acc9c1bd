package events

import (
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"stakefarm/core/types"
)

const (
	// TypeFarmPoolAdded is emitted when a pool is appended to the registry.
	TypeFarmPoolAdded = "farm.poolAdded"
	// TypeFarmPoolSet is emitted when a pool's allocation or hook changes.
	TypeFarmPoolSet = "farm.poolSet"
	// TypeFarmWeightSet is emitted when a pool's secondary weight changes.
	TypeFarmWeightSet = "farm.weightSet"
	// TypeFarmPoolUpdated is emitted when accrual advances a pool.
	TypeFarmPoolUpdated = "farm.poolUpdated"
	// TypeFarmDeposit is emitted for deposits.
	TypeFarmDeposit = "farm.deposit"
	// TypeFarmWithdraw is emitted for withdrawals.
	TypeFarmWithdraw = "farm.withdraw"
	// TypeFarmHarvest is emitted when rewards are harvested.
	TypeFarmHarvest = "farm.harvest"
	// TypeFarmEmergencyWithdraw is emitted when stake is withdrawn without rewards.
	TypeFarmEmergencyWithdraw = "farm.emergencyWithdraw"
	// TypeFarmAllocated is emitted when reward capacity is reserved for a pool.
	TypeFarmAllocated = "farm.allocated"
	// TypeFarmMigrated is emitted when a pool's stake asset is swapped.
	TypeFarmMigrated = "farm.migrated"
	// TypeFarmRateSet is emitted when a pool's emission rate changes.
	TypeFarmRateSet = "farm.rateSet"
)

// FarmPoolAdded captures a new pool registration.
type FarmPoolAdded struct {
	PoolID           uint64
	AllocationPoints uint64
	StakeAsset       string
	RewardHook       string
	StartPoint       uint64
}

// EventType satisfies the Event interface.
func (FarmPoolAdded) EventType() string { return TypeFarmPoolAdded }

// Event converts the structured payload into a broadcastable event.
func (e FarmPoolAdded) Event() *types.Event {
	attrs := map[string]string{
		"pool":             formatPool(e.PoolID),
		"allocationPoints": strconv.FormatUint(e.AllocationPoints, 10),
		"stakeAsset":       normalizeAsset(e.StakeAsset),
		"startPoint":       strconv.FormatUint(e.StartPoint, 10),
	}
	if hook := strings.TrimSpace(e.RewardHook); hook != "" {
		attrs["rewardHook"] = hook
	}
	return &types.Event{Type: TypeFarmPoolAdded, Attributes: attrs}
}

// FarmPoolSet captures an allocation or hook update.
type FarmPoolSet struct {
	PoolID           uint64
	AllocationPoints uint64
	RewardHook       string
	Overwrite        bool
}

// EventType satisfies the Event interface.
func (FarmPoolSet) EventType() string { return TypeFarmPoolSet }

// Event converts the structured payload into a broadcastable event.
func (e FarmPoolSet) Event() *types.Event {
	attrs := map[string]string{
		"pool":             formatPool(e.PoolID),
		"allocationPoints": strconv.FormatUint(e.AllocationPoints, 10),
		"overwrite":        strconv.FormatBool(e.Overwrite),
	}
	if hook := strings.TrimSpace(e.RewardHook); hook != "" {
		attrs["rewardHook"] = hook
	}
	return &types.Event{Type: TypeFarmPoolSet, Attributes: attrs}
}

// FarmWeightSet captures a weight change.
type FarmWeightSet struct {
	PoolID      uint64
	Weight      uint8
	TotalWeight uint64
}

// EventType satisfies the Event interface.
func (FarmWeightSet) EventType() string { return TypeFarmWeightSet }

// Event converts the structured payload into a broadcastable event.
func (e FarmWeightSet) Event() *types.Event {
	return &types.Event{Type: TypeFarmWeightSet, Attributes: map[string]string{
		"pool":        formatPool(e.PoolID),
		"weight":      strconv.FormatUint(uint64(e.Weight), 10),
		"totalWeight": strconv.FormatUint(e.TotalWeight, 10),
	}}
}

// FarmPoolUpdated captures an accrual step.
type FarmPoolUpdated struct {
	PoolID            uint64
	LastAccrualPoint  uint64
	StakedSupply      *uint256.Int
	AccRewardPerShare *uint256.Int
}

// EventType satisfies the Event interface.
func (FarmPoolUpdated) EventType() string { return TypeFarmPoolUpdated }

// Event converts the structured payload into a broadcastable event.
func (e FarmPoolUpdated) Event() *types.Event {
	return &types.Event{Type: TypeFarmPoolUpdated, Attributes: map[string]string{
		"pool":              formatPool(e.PoolID),
		"lastAccrualPoint":  strconv.FormatUint(e.LastAccrualPoint, 10),
		"stakedSupply":      formatAmount(e.StakedSupply),
		"accRewardPerShare": formatAmount(e.AccRewardPerShare),
	}}
}

// FarmDeposit captures stake entering a pool.
type FarmDeposit struct {
	PoolID      uint64
	Caller      [20]byte
	Beneficiary [20]byte
	Amount      *uint256.Int
}

// EventType satisfies the Event interface.
func (FarmDeposit) EventType() string { return TypeFarmDeposit }

// Event converts the structured payload into a broadcastable event.
func (e FarmDeposit) Event() *types.Event {
	attrs := map[string]string{
		"pool":        formatPool(e.PoolID),
		"beneficiary": formatParty(e.Beneficiary),
		"amount":      formatAmount(e.Amount),
	}
	if !zeroAddress(e.Caller) && e.Caller != e.Beneficiary {
		attrs["caller"] = formatParty(e.Caller)
	}
	return &types.Event{Type: TypeFarmDeposit, Attributes: attrs}
}

// FarmWithdraw captures stake leaving a pool.
type FarmWithdraw struct {
	PoolID      uint64
	Participant [20]byte
	Recipient   [20]byte
	Amount      *uint256.Int
}

// EventType satisfies the Event interface.
func (FarmWithdraw) EventType() string { return TypeFarmWithdraw }

// Event converts the structured payload into a broadcastable event.
func (e FarmWithdraw) Event() *types.Event {
	return &types.Event{Type: TypeFarmWithdraw, Attributes: partyAttrs(e.PoolID, e.Participant, e.Recipient, e.Amount)}
}

// FarmHarvest captures a reward payout.
type FarmHarvest struct {
	PoolID      uint64
	Participant [20]byte
	Recipient   [20]byte
	Amount      *uint256.Int
}

// EventType satisfies the Event interface.
func (FarmHarvest) EventType() string { return TypeFarmHarvest }

// Event converts the structured payload into a broadcastable event.
func (e FarmHarvest) Event() *types.Event {
	return &types.Event{Type: TypeFarmHarvest, Attributes: partyAttrs(e.PoolID, e.Participant, e.Recipient, e.Amount)}
}

// FarmEmergencyWithdraw captures a forfeiting withdrawal.
type FarmEmergencyWithdraw struct {
	PoolID      uint64
	Participant [20]byte
	Recipient   [20]byte
	Amount      *uint256.Int
}

// EventType satisfies the Event interface.
func (FarmEmergencyWithdraw) EventType() string { return TypeFarmEmergencyWithdraw }

// Event converts the structured payload into a broadcastable event.
func (e FarmEmergencyWithdraw) Event() *types.Event {
	return &types.Event{Type: TypeFarmEmergencyWithdraw, Attributes: partyAttrs(e.PoolID, e.Participant, e.Recipient, e.Amount)}
}

// FarmAllocated captures a capacity reservation.
type FarmAllocated struct {
	PoolID         uint64
	Amount         *uint256.Int
	PoolAllocated  *uint256.Int
	TotalAllocated *uint256.Int
}

// EventType satisfies the Event interface.
func (FarmAllocated) EventType() string { return TypeFarmAllocated }

// Event converts the structured payload into a broadcastable event.
func (e FarmAllocated) Event() *types.Event {
	return &types.Event{Type: TypeFarmAllocated, Attributes: map[string]string{
		"pool":           formatPool(e.PoolID),
		"amount":         formatAmount(e.Amount),
		"poolAllocated":  formatAmount(e.PoolAllocated),
		"totalAllocated": formatAmount(e.TotalAllocated),
	}}
}

// FarmMigrated captures a stake asset swap.
type FarmMigrated struct {
	PoolID  uint64
	From    string
	To      string
	Balance *uint256.Int
}

// EventType satisfies the Event interface.
func (FarmMigrated) EventType() string { return TypeFarmMigrated }

// Event converts the structured payload into a broadcastable event.
func (e FarmMigrated) Event() *types.Event {
	return &types.Event{Type: TypeFarmMigrated, Attributes: map[string]string{
		"pool":    formatPool(e.PoolID),
		"from":    normalizeAsset(e.From),
		"to":      normalizeAsset(e.To),
		"balance": formatAmount(e.Balance),
	}}
}

// FarmRateSet captures an emission rate change.
type FarmRateSet struct {
	PoolID uint64
	Rate   *uint256.Int
}

// EventType satisfies the Event interface.
func (FarmRateSet) EventType() string { return TypeFarmRateSet }

// Event converts the structured payload into a broadcastable event.
func (e FarmRateSet) Event() *types.Event {
	return &types.Event{Type: TypeFarmRateSet, Attributes: map[string]string{
		"pool": formatPool(e.PoolID),
		"rate": formatAmount(e.Rate),
	}}
}

func partyAttrs(pool uint64, participant, recipient [20]byte, amount *uint256.Int) map[string]string {
	attrs := map[string]string{
		"pool":        formatPool(pool),
		"participant": formatParty(participant),
		"amount":      formatAmount(amount),
	}
	if !zeroAddress(recipient) {
		attrs["recipient"] = formatParty(recipient)
	}
	return attrs
}
