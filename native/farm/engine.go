package farm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakefarm/core/events"
	nativecommon "stakefarm/native/common"
	"stakefarm/observability/metrics"
)

// ModuleName is the pause-guard key for the farm engine.
const ModuleName = "farm"

// Engine orchestrates pool registration, lazy accrual and the per-participant
// ledger. Operations on a pool are serialised by a pool-scoped lock; registry
// mutations exclude all pool operations.
type Engine struct {
	mu     sync.RWMutex
	lockMu sync.Mutex
	locks  map[uint64]*sync.Mutex

	state       engineState
	rewardAsset AssetID
	rates       RateSource
	supply      SupplySource
	balances    BalanceSource
	hooks       HookResolver
	migrator    Migrator
	clock       Clock
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	logger      *slog.Logger
	metrics     *metrics.FarmMetrics
}

// NewEngine constructs an engine distributing rewardAsset and persisting to
// state. Collaborators are wired with the Set* methods.
func NewEngine(rewardAsset AssetID, state engineState) *Engine {
	return &Engine{
		locks:       make(map[uint64]*sync.Mutex),
		state:       state,
		rewardAsset: rewardAsset.Normalize(),
		emitter:     events.NoopEmitter{},
		logger:      slog.Default(),
	}
}

// SetRateSource configures the per-pool emission rate collaborator.
func (e *Engine) SetRateSource(rates RateSource) { e.rates = rates }

// SetSupplySource configures the observed staked-supply collaborator.
func (e *Engine) SetSupplySource(supply SupplySource) { e.supply = supply }

// SetBalanceSource configures the asset holdings collaborator used by
// capacity allocation and migration.
func (e *Engine) SetBalanceSource(balances BalanceSource) { e.balances = balances }

// SetHookResolver configures how pool hook references are resolved.
func (e *Engine) SetHookResolver(hooks HookResolver) { e.hooks = hooks }

// SetMigrator configures the stake asset migrator.
func (e *Engine) SetMigrator(m Migrator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.migrator = m
}

// SetClock configures the accrual time source.
func (e *Engine) SetClock(clock Clock) { e.clock = clock }

// SetEmitter configures the event sink. A nil emitter discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses wires the module pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetMetrics enables prometheus instrumentation.
func (e *Engine) SetMetrics(m *metrics.FarmMetrics) { e.metrics = m }

// RewardAsset returns the asset distributed by the engine.
func (e *Engine) RewardAsset() AssetID { return e.rewardAsset }

func (e *Engine) now() uint64 {
	if e.clock == nil {
		return 0
	}
	return e.clock.Now()
}

func (e *Engine) poolLock(pid uint64) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	lock, ok := e.locks[pid]
	if !ok {
		lock = new(sync.Mutex)
		e.locks[pid] = lock
	}
	return lock
}

// lockPool takes the registry read lock and the pool lock. The returned
// function releases both.
func (e *Engine) lockPool(pid uint64) func() {
	e.mu.RLock()
	lock := e.poolLock(pid)
	lock.Lock()
	return func() {
		lock.Unlock()
		e.mu.RUnlock()
	}
}

func (e *Engine) loadTotals() (*Totals, error) {
	if e.state == nil {
		return nil, errNilState
	}
	totals, err := e.state.GetTotals()
	if err != nil {
		return nil, err
	}
	if totals == nil {
		return &Totals{AllocatedRewardSupply: new(uint256.Int)}, nil
	}
	return totals.Clone(), nil
}

func (e *Engine) loadPool(pid uint64, totals *Totals) (*Pool, error) {
	if pid >= totals.PoolCount {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPool, pid)
	}
	pool, err := e.state.GetPool(pid)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, fmt.Errorf("%w: pool %d missing from state", ErrInvariantViolation, pid)
	}
	clone := pool.Clone()
	clone.ensure()
	return clone, nil
}

func (e *Engine) loadPosition(pid uint64, who common.Address) (*Position, error) {
	pos, err := e.state.GetPosition(pid, who)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

func (e *Engine) apply(changes *changeSet) error {
	return e.state.Apply(changes.export())
}

func (e *Engine) emit(evts ...events.Event) {
	for _, evt := range evts {
		if evt != nil {
			e.emitter.Emit(evt)
		}
	}
}

// finish records metrics and logs for an operation outcome.
func (e *Engine) finish(operation string, pid uint64, err error) {
	e.metrics.ObserveOperation(operation, err)
	if err == nil {
		return
	}
	if errors.Is(err, ErrInvariantViolation) {
		e.metrics.RecordInvariantViolation(operation)
		e.logger.Error("farm: invariant violation",
			slog.String("operation", operation),
			slog.Uint64("pool", pid),
			slog.Any("error", err))
		return
	}
	if errors.Is(err, ErrRewardHook) {
		e.logger.Warn("farm: reward hook failed after ledger update",
			slog.String("operation", operation),
			slog.Uint64("pool", pid),
			slog.Any("error", err))
		return
	}
	e.logger.Debug("farm: operation rejected",
		slog.String("operation", operation),
		slog.Uint64("pool", pid),
		slog.Any("error", err))
}

func (e *Engine) observePool(pool *Pool) {
	if e.metrics == nil || pool == nil {
		return
	}
	e.metrics.ObservePool(pool.ID, pool.AccRewardPerShare, pool.LastAccrualPoint, pool.TotalAllocatedSupply)
}

// callHook notifies the pool's reward hook. Hooks run after the ledger has
// been persisted.
func (e *Engine) callHook(ctx context.Context, pool *Pool, evt RewardEvent) error {
	ref := pool.RewardHook.Normalize()
	if ref == "" || e.hooks == nil {
		return nil
	}
	hook, ok := e.hooks.Resolve(ref)
	if !ok {
		e.logger.Warn("farm: reward hook not registered",
			slog.Uint64("pool", pool.ID),
			slog.String("hook", string(ref)))
		return nil
	}
	if err := hook.OnReward(ctx, evt); err != nil {
		e.metrics.RecordHookFailure(string(ref))
		return fmt.Errorf("%w: %s: %w", ErrRewardHook, ref, err)
	}
	return nil
}

func (e *Engine) recordTransfers(transfers []Transfer) {
	for _, t := range transfers {
		e.metrics.RecordTransferIntent(t.Direction.String())
	}
}

func (e *Engine) guard() error {
	return nativecommon.Guard(e.pauses, ModuleName)
}
