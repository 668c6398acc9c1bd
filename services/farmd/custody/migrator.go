package custody

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"stakefarm/native/farm"
)

// Migrator moves the engine's stake holdings to a replacement asset chosen
// by Target.
type Migrator struct {
	ledger *Ledger
	Target func(poolID uint64, asset farm.AssetID) farm.AssetID
}

// NewMigrator returns a migrator renaming asset X to X+suffix.
func NewMigrator(ledger *Ledger, suffix string) *Migrator {
	return &Migrator{
		ledger: ledger,
		Target: func(_ uint64, asset farm.AssetID) farm.AssetID {
			return farm.AssetID(string(asset) + suffix)
		},
	}
}

// TargetFor returns the asset Migrate would move pool poolID's holding of
// asset to.
func (m *Migrator) TargetFor(poolID uint64, asset farm.AssetID) farm.AssetID {
	return normalize(m.Target(poolID, asset))
}

// Migrate implements farm.Migrator. Every check runs before the holding
// moves, and the move is a single batch, so a failed call leaves both assets
// untouched.
func (m *Migrator) Migrate(_ context.Context, poolID uint64, asset farm.AssetID, balance *uint256.Int) (farm.AssetID, error) {
	to := m.TargetFor(poolID, asset)
	from := normalize(asset)
	if to == from || to == "" {
		return "", fmt.Errorf("custody: invalid migration target %q", to)
	}

	m.ledger.mu.Lock()
	defer m.ledger.mu.Unlock()
	held, err := m.ledger.read(moduleKey(from))
	if err != nil {
		return "", err
	}
	if balance != nil && !held.Eq(balance) {
		return "", fmt.Errorf("custody: holding %s differs from reported %s", held.Dec(), balance.Dec())
	}
	existing, err := m.ledger.read(moduleKey(to))
	if err != nil {
		return "", err
	}
	if !existing.IsZero() {
		return "", fmt.Errorf("custody: target asset %s already held", to)
	}
	encoded, err := encode(held)
	if err != nil {
		return "", err
	}
	zero, err := encode(new(uint256.Int))
	if err != nil {
		return "", err
	}
	batch := m.ledger.db.NewBatch()
	batch.Put(moduleKey(to), encoded)
	batch.Put(moduleKey(from), zero)
	if err := batch.Write(); err != nil {
		return "", err
	}
	return to, nil
}
