package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stakefarm/native/farm"
	"stakefarm/storage"
)

var (
	farmPoolPrefix     = []byte("farm:pool:")
	farmPositionPrefix = []byte("farm:position:")
	farmTotalsKey      = ethcrypto.Keccak256([]byte("farm:totals"))
)

func farmPoolKey(id uint64) []byte {
	buf := make([]byte, len(farmPoolPrefix)+8)
	copy(buf, farmPoolPrefix)
	binary.BigEndian.PutUint64(buf[len(farmPoolPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func farmPositionKey(poolID uint64, who common.Address) []byte {
	buf := make([]byte, len(farmPositionPrefix)+8+common.AddressLength)
	copy(buf, farmPositionPrefix)
	binary.BigEndian.PutUint64(buf[len(farmPositionPrefix):], poolID)
	copy(buf[len(farmPositionPrefix)+8:], who.Bytes())
	return ethcrypto.Keccak256(buf)
}

type storedPool struct {
	ID                   uint64
	AllocationPoints     uint64
	AccRewardPerShare    *big.Int
	LastAccrualPoint     uint64
	TotalAllocatedSupply *big.Int
	Weight               uint64
	StakeAsset           string
	RewardHook           string
}

// storedPosition splits the signed debt into magnitude and sign since RLP
// has no negative integers.
type storedPosition struct {
	Amount        *big.Int
	DebtMagnitude *big.Int
	DebtNegative  bool
}

type storedTotals struct {
	PoolCount             uint64
	AllocationPoints      uint64
	Weight                uint64
	AllocatedRewardSupply *big.Int
}

// FarmState persists pools, positions and totals for the farm engine.
type FarmState struct {
	db storage.Database
}

// NewFarmState creates a farm state store backed by db.
func NewFarmState(db storage.Database) *FarmState {
	return &FarmState{db: db}
}

func (s *FarmState) load(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// GetTotals returns the stored totals or nil when none were written yet.
func (s *FarmState) GetTotals() (*farm.Totals, error) {
	var rec storedTotals
	ok, err := s.load(farmTotalsKey, &rec)
	if err != nil || !ok {
		return nil, err
	}
	allocated, err := fromBig(rec.AllocatedRewardSupply)
	if err != nil {
		return nil, fmt.Errorf("decode totals: %w", err)
	}
	return &farm.Totals{
		PoolCount:             rec.PoolCount,
		AllocationPoints:      rec.AllocationPoints,
		Weight:                rec.Weight,
		AllocatedRewardSupply: allocated,
	}, nil
}

// GetPool returns the pool record or nil when it does not exist.
func (s *FarmState) GetPool(id uint64) (*farm.Pool, error) {
	var rec storedPool
	ok, err := s.load(farmPoolKey(id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	acc, err := fromBig(rec.AccRewardPerShare)
	if err != nil {
		return nil, fmt.Errorf("decode pool %d: %w", id, err)
	}
	allocated, err := fromBig(rec.TotalAllocatedSupply)
	if err != nil {
		return nil, fmt.Errorf("decode pool %d: %w", id, err)
	}
	if rec.Weight > 255 {
		return nil, fmt.Errorf("decode pool %d: weight %d out of range", id, rec.Weight)
	}
	return &farm.Pool{
		ID:                   rec.ID,
		AllocationPoints:     rec.AllocationPoints,
		AccRewardPerShare:    acc,
		LastAccrualPoint:     rec.LastAccrualPoint,
		TotalAllocatedSupply: allocated,
		Weight:               uint8(rec.Weight),
		StakeAsset:           farm.AssetID(rec.StakeAsset),
		RewardHook:           farm.HookRef(rec.RewardHook),
	}, nil
}

// GetPosition returns the participant's position or nil when none exists.
func (s *FarmState) GetPosition(poolID uint64, who common.Address) (*farm.Position, error) {
	var rec storedPosition
	ok, err := s.load(farmPositionKey(poolID, who), &rec)
	if err != nil || !ok {
		return nil, err
	}
	amount, err := fromBig(rec.Amount)
	if err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	debt := new(big.Int)
	if rec.DebtMagnitude != nil {
		debt.Set(rec.DebtMagnitude)
	}
	if rec.DebtNegative {
		debt.Neg(debt)
	}
	return &farm.Position{Amount: amount, RewardDebt: debt}, nil
}

// Apply writes every record in changes in a single batch.
func (s *FarmState) Apply(changes farm.Changes) error {
	batch := s.db.NewBatch()
	for _, pool := range changes.Pools {
		if pool == nil {
			continue
		}
		encoded, err := rlp.EncodeToBytes(&storedPool{
			ID:                   pool.ID,
			AllocationPoints:     pool.AllocationPoints,
			AccRewardPerShare:    toBig(pool.AccRewardPerShare),
			LastAccrualPoint:     pool.LastAccrualPoint,
			TotalAllocatedSupply: toBig(pool.TotalAllocatedSupply),
			Weight:               uint64(pool.Weight),
			StakeAsset:           string(pool.StakeAsset),
			RewardHook:           string(pool.RewardHook),
		})
		if err != nil {
			return fmt.Errorf("encode pool %d: %w", pool.ID, err)
		}
		batch.Put(farmPoolKey(pool.ID), encoded)
	}
	for key, pos := range changes.Positions {
		if pos == nil {
			continue
		}
		rec := storedPosition{Amount: toBig(pos.Amount), DebtMagnitude: new(big.Int)}
		if pos.RewardDebt != nil {
			rec.DebtMagnitude.Abs(pos.RewardDebt)
			rec.DebtNegative = pos.RewardDebt.Sign() < 0
		}
		encoded, err := rlp.EncodeToBytes(&rec)
		if err != nil {
			return fmt.Errorf("encode position %d/%s: %w", key.PoolID, key.Participant.Hex(), err)
		}
		batch.Put(farmPositionKey(key.PoolID, key.Participant), encoded)
	}
	if t := changes.Totals; t != nil {
		encoded, err := rlp.EncodeToBytes(&storedTotals{
			PoolCount:             t.PoolCount,
			AllocationPoints:      t.AllocationPoints,
			Weight:                t.Weight,
			AllocatedRewardSupply: toBig(t.AllocatedRewardSupply),
		})
		if err != nil {
			return fmt.Errorf("encode totals: %w", err)
		}
		batch.Put(farmTotalsKey, encoded)
	}
	if batch.Len() == 0 {
		return nil
	}
	return batch.Write()
}

func toBig(value *uint256.Int) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	return value.ToBig()
}

func fromBig(value *big.Int) (*uint256.Int, error) {
	if value == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(value)
	if overflow || value.Sign() < 0 {
		return nil, fmt.Errorf("value %s out of range", value)
	}
	return out, nil
}
