package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakefarm/native/farm"
	"stakefarm/services/farmd/custody"
)

// ErrRewardShortfall is returned when the engine's reward holdings cannot
// cover the reward an operation would pay out.
var ErrRewardShortfall = errors.New("farmd: reward holdings cannot cover payout")

// ErrSettlement is returned when custody rejects the transfers of an
// operation the engine already committed.
var ErrSettlement = errors.New("farmd: settlement failed")

// ErrStakeAssetInUse is returned when a pool would stake the reward asset or
// an asset another pool already stakes. Custody reports a pool's supply as
// the engine's whole holding of its stake asset, so no two pools may share one.
var ErrStakeAssetInUse = errors.New("farmd: stake asset already in use")

// Service serialises engine operations with custody settlement. Each call
// pins the engine clock so prechecks and the operation observe the same
// accrual point.
type Service struct {
	mu       sync.Mutex
	engine   *farm.Engine
	ledger   *custody.Ledger
	migrator *custody.Migrator
	source   func() uint64
	pinned   atomic.Uint64
	logger   *slog.Logger
}

// NewService wires engine to ledger and installs the pinned clock on the
// engine.
func NewService(engine *farm.Engine, ledger *custody.Ledger, now func() uint64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{engine: engine, ledger: ledger, source: now, logger: logger}
	s.pinned.Store(now())
	engine.SetClock(farm.ClockFunc(s.pinned.Load))
	return s
}

// Engine exposes the underlying engine.
func (s *Service) Engine() *farm.Engine { return s.engine }

// Ledger exposes the custody ledger.
func (s *Service) Ledger() *custody.Ledger { return s.ledger }

// SetMigrator installs m on the engine. Migrate vets m's target asset before
// the engine hands the holding over.
func (s *Service) SetMigrator(m *custody.Migrator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrator = m
	s.engine.SetMigrator(m)
}

// lock takes the service lock and advances the pinned clock. The pinned value
// never moves backwards.
func (s *Service) lock() func() {
	s.mu.Lock()
	if now := s.source(); now > s.pinned.Load() {
		s.pinned.Store(now)
	}
	return s.mu.Unlock
}

// AdvanceTo moves the pinned clock forward to point. Earlier points are
// ignored.
func (s *Service) AdvanceTo(point uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if point > s.pinned.Load() {
		s.pinned.Store(point)
	}
}

// Now returns the accrual point used by the most recent call.
func (s *Service) Now() uint64 { return s.pinned.Load() }

func (s *Service) settle(op string, receipt *farm.Receipt, opErr error) (*farm.Receipt, error) {
	if receipt == nil {
		return nil, opErr
	}
	if err := s.ledger.Execute(receipt); err != nil {
		s.logger.Error("farmd: settlement failed after engine commit",
			slog.String("operation", op),
			slog.Uint64("pool", receipt.PoolID),
			slog.Any("error", err))
		return receipt, fmt.Errorf("%w: %w", ErrSettlement, err)
	}
	return receipt, opErr
}

func (s *Service) checkPayout(ctx context.Context, pid uint64, who common.Address) error {
	pending, err := s.engine.PendingReward(ctx, pid, who)
	if err != nil {
		return err
	}
	if pending.IsZero() {
		return nil
	}
	held, err := s.ledger.BalanceOf(ctx, s.engine.RewardAsset())
	if err != nil {
		return err
	}
	if pending.Gt(held) {
		return fmt.Errorf("%w: pending %s, held %s", ErrRewardShortfall, pending.Dec(), held.Dec())
	}
	return nil
}

// Deposit moves amount of the pool's stake asset from caller into the engine
// and credits beneficiary.
func (s *Service) Deposit(ctx context.Context, pid uint64, caller common.Address, amount *uint256.Int, beneficiary common.Address) (*farm.Receipt, error) {
	defer s.lock()()
	pool, err := s.engine.Pool(pid)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.CanDebit(pool.StakeAsset, caller, amount); err != nil {
		return nil, err
	}
	receipt, err := s.engine.Deposit(ctx, pid, caller, amount, beneficiary)
	return s.settle("deposit", receipt, err)
}

// Withdraw returns stake to recipient. With harvest set the pending reward is
// paid in the same step.
func (s *Service) Withdraw(ctx context.Context, pid uint64, caller common.Address, amount *uint256.Int, recipient common.Address, harvest bool) (*farm.Receipt, error) {
	defer s.lock()()
	if harvest {
		if err := s.checkPayout(ctx, pid, caller); err != nil {
			return nil, err
		}
		receipt, err := s.engine.WithdrawAndHarvest(ctx, pid, caller, amount, recipient)
		return s.settle("withdraw_and_harvest", receipt, err)
	}
	receipt, err := s.engine.Withdraw(ctx, pid, caller, amount, recipient)
	return s.settle("withdraw", receipt, err)
}

// Harvest pays the caller's pending reward to recipient.
func (s *Service) Harvest(ctx context.Context, pid uint64, caller common.Address, recipient common.Address) (*farm.Receipt, error) {
	defer s.lock()()
	if err := s.checkPayout(ctx, pid, caller); err != nil {
		return nil, err
	}
	receipt, err := s.engine.Harvest(ctx, pid, caller, recipient)
	return s.settle("harvest", receipt, err)
}

// EmergencyWithdraw returns the caller's full stake and forfeits rewards.
func (s *Service) EmergencyWithdraw(ctx context.Context, pid uint64, caller common.Address, recipient common.Address) (*farm.Receipt, error) {
	defer s.lock()()
	receipt, err := s.engine.EmergencyWithdraw(ctx, pid, caller, recipient)
	return s.settle("emergency_withdraw", receipt, err)
}

// PendingReward projects the participant's harvestable reward.
func (s *Service) PendingReward(ctx context.Context, pid uint64, who common.Address) (*uint256.Int, error) {
	defer s.lock()()
	return s.engine.PendingReward(ctx, pid, who)
}

// stakeAssetFree fails with ErrStakeAssetInUse when custody would file asset
// under the reward holding or under another pool's stake.
func (s *Service) stakeAssetFree(asset farm.AssetID) error {
	key := custody.Canonical(asset)
	if key == custody.Canonical(s.engine.RewardAsset()) {
		return fmt.Errorf("%w: %s is the reward asset", ErrStakeAssetInUse, key)
	}
	pools, err := s.engine.Pools()
	if err != nil {
		return err
	}
	for _, pool := range pools {
		if custody.Canonical(pool.StakeAsset) == key {
			return fmt.Errorf("%w: %s is staked by pool %d", ErrStakeAssetInUse, key, pool.ID)
		}
	}
	return nil
}

// AddPool registers a pool staking an asset no other pool uses.
func (s *Service) AddPool(ctx context.Context, alloc uint64, asset farm.AssetID, hook farm.HookRef) (uint64, error) {
	defer s.lock()()
	if err := s.stakeAssetFree(asset); err != nil {
		return 0, err
	}
	return s.engine.AddPool(ctx, alloc, asset, hook)
}

// SetPool changes a pool's allocation points and optionally its hook.
func (s *Service) SetPool(ctx context.Context, pid, alloc uint64, hook farm.HookRef, overwrite bool) error {
	defer s.lock()()
	return s.engine.SetPool(ctx, pid, alloc, hook, overwrite)
}

// SetWeight changes a pool's weight.
func (s *Service) SetWeight(ctx context.Context, pid uint64, weight uint8) error {
	defer s.lock()()
	return s.engine.SetWeight(ctx, pid, weight)
}

// SetEmissions changes a pool's emission rate.
func (s *Service) SetEmissions(ctx context.Context, pid uint64, rate *uint256.Int) error {
	defer s.lock()()
	return s.engine.SetEmissions(ctx, pid, rate)
}

// Allocate reserves reward capacity for a pool.
func (s *Service) Allocate(ctx context.Context, pid uint64, amount *uint256.Int) error {
	defer s.lock()()
	return s.engine.Allocate(ctx, pid, amount)
}

// Migrate swaps the pool's stake asset. The replacement must not be the
// reward asset or another pool's stake.
func (s *Service) Migrate(ctx context.Context, pid uint64) (farm.AssetID, error) {
	defer s.lock()()
	if s.migrator != nil {
		pool, err := s.engine.Pool(pid)
		if err != nil {
			return "", err
		}
		if err := s.stakeAssetFree(s.migrator.TargetFor(pid, pool.StakeAsset)); err != nil {
			return "", err
		}
	}
	return s.engine.Migrate(ctx, pid)
}

// UpdatePools brings the listed pools, or every pool when none is listed, up
// to date.
func (s *Service) UpdatePools(ctx context.Context, pids ...uint64) error {
	defer s.lock()()
	if len(pids) == 0 {
		count, err := s.engine.PoolCount()
		if err != nil {
			return err
		}
		pids = make([]uint64, 0, count)
		for pid := uint64(0); pid < count; pid++ {
			pids = append(pids, pid)
		}
	}
	return s.engine.UpdatePools(ctx, pids...)
}

// Credit mints asset to an account, or into the engine's holdings when
// toEngine is set.
func (s *Service) Credit(asset farm.AssetID, account common.Address, amount *uint256.Int, toEngine bool) error {
	defer s.lock()()
	if toEngine {
		return s.ledger.Fund(asset, amount)
	}
	return s.ledger.Credit(asset, account, amount)
}

// CheckInvariants runs the engine's full recomputation.
func (s *Service) CheckInvariants() error {
	defer s.lock()()
	return s.engine.CheckInvariants()
}
