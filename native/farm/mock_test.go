package farm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakefarm/core/events"
)

type mockEngineState struct {
	totals    *Totals
	pools     map[uint64]*Pool
	positions map[PositionKey]*Position
	applyErr  error
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		pools:     make(map[uint64]*Pool),
		positions: make(map[PositionKey]*Position),
	}
}

func (m *mockEngineState) GetTotals() (*Totals, error) {
	return m.totals.Clone(), nil
}

func (m *mockEngineState) GetPool(id uint64) (*Pool, error) {
	return m.pools[id].Clone(), nil
}

func (m *mockEngineState) GetPosition(pid uint64, who common.Address) (*Position, error) {
	pos, ok := m.positions[PositionKey{PoolID: pid, Participant: who}]
	if !ok {
		return nil, nil
	}
	return pos.Clone(), nil
}

func (m *mockEngineState) Apply(changes Changes) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	for _, pool := range changes.Pools {
		m.pools[pool.ID] = pool.Clone()
	}
	for key, pos := range changes.Positions {
		m.positions[key] = pos.Clone()
	}
	if changes.Totals != nil {
		m.totals = changes.Totals.Clone()
	}
	return nil
}

// StakedSupply reports the sum of positions, which matches the custody
// balance once every inbound transfer has been executed.
func (m *mockEngineState) StakedSupply(_ context.Context, pool Pool) (*uint256.Int, error) {
	total := new(uint256.Int)
	for key, pos := range m.positions {
		if key.PoolID == pool.ID {
			total.Add(total, pos.Amount)
		}
	}
	return total, nil
}

type mockRates struct {
	rates map[uint64]*uint256.Int
}

func (m *mockRates) RatePerUnit(pid uint64) (*uint256.Int, error) {
	return m.rates[pid], nil
}

func (m *mockRates) SetRate(pid uint64, rate *uint256.Int) error {
	m.rates[pid] = rate
	return nil
}

type mockBalances map[AssetID]*uint256.Int

func (m mockBalances) BalanceOf(_ context.Context, asset AssetID) (*uint256.Int, error) {
	return m[asset], nil
}

type manualClock struct {
	now uint64
}

func (c *manualClock) Now() uint64 { return c.now }

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	return s.modules[module]
}

type recordingHook struct {
	calls []RewardEvent
	err   error
}

func (h *recordingHook) OnReward(_ context.Context, evt RewardEvent) error {
	h.calls = append(h.calls, evt)
	return h.err
}

type fixture struct {
	engine    *Engine
	state     *mockEngineState
	rates     *mockRates
	clock     *manualClock
	balances  mockBalances
	collector *events.Collector
	hook      *recordingHook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockEngineState()
	f := &fixture{
		state:     state,
		rates:     &mockRates{rates: make(map[uint64]*uint256.Int)},
		clock:     &manualClock{},
		balances:  mockBalances{},
		collector: &events.Collector{},
		hook:      &recordingHook{},
	}
	f.engine = NewEngine("RWD", state)
	f.engine.SetRateSource(f.rates)
	f.engine.SetSupplySource(state)
	f.engine.SetBalanceSource(f.balances)
	f.engine.SetClock(f.clock)
	f.engine.SetEmitter(f.collector)
	f.engine.SetHookResolver(HookMap{"hook": f.hook})
	return f
}

func (f *fixture) addPool(t *testing.T, alloc uint64, rate uint64) uint64 {
	t.Helper()
	pid, err := f.engine.AddPool(context.Background(), alloc, "LP", "")
	if err != nil {
		t.Fatalf("add pool: %v", err)
	}
	f.rates.rates[pid] = uint256.NewInt(rate)
	return pid
}

func participant(suffix byte) common.Address {
	var addr common.Address
	addr[len(addr)-1] = suffix
	return addr
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func mustDeposit(t *testing.T, f *fixture, pid uint64, who common.Address, amount uint64) *Receipt {
	t.Helper()
	receipt, err := f.engine.Deposit(context.Background(), pid, who, u(amount), who)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return receipt
}

func mustHarvest(t *testing.T, f *fixture, pid uint64, who common.Address) *uint256.Int {
	t.Helper()
	receipt, err := f.engine.Harvest(context.Background(), pid, who, who)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	return receipt.Harvested
}

func requireU256(t *testing.T, label string, got *uint256.Int, want uint64) {
	t.Helper()
	if got == nil || !got.Eq(u(want)) {
		t.Fatalf("%s: got %v want %d", label, got, want)
	}
}

func requireBig(t *testing.T, label string, got *big.Int, want int64) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: got %v want %d", label, got, want)
	}
}

func requireErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
