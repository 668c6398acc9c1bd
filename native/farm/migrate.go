package farm

import (
	"context"
	"fmt"

	"stakefarm/core/events"
)

// Migrate hands the pool's stake balance to the configured migrator and
// records the replacement asset. The migrator must report the same balance
// under the new asset.
func (e *Engine) Migrate(ctx context.Context, pid uint64) (AssetID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	asset, err := e.migrateLocked(ctx, pid)
	e.finish("migrate", pid, err)
	return asset, err
}

func (e *Engine) migrateLocked(ctx context.Context, pid uint64) (AssetID, error) {
	if err := e.guard(); err != nil {
		return "", err
	}
	if e.migrator == nil {
		return "", ErrNoMigratorConfigured
	}
	totals, err := e.loadTotals()
	if err != nil {
		return "", err
	}
	pool, err := e.loadPool(pid, totals)
	if err != nil {
		return "", err
	}
	from := pool.StakeAsset
	before, err := e.balanceOf(ctx, from)
	if err != nil {
		return "", err
	}
	to, err := e.migrator.Migrate(ctx, pid, from, cloneU256(before))
	if err != nil {
		return "", fmt.Errorf("migrate pool %d: %w", pid, err)
	}
	to = to.Normalize()
	if to == "" {
		return "", ErrInvalidAsset
	}
	after, err := e.balanceOf(ctx, to)
	if err != nil {
		return "", err
	}
	if !after.Eq(before) {
		return "", fmt.Errorf("%w: held %s of %s, migrated %s of %s", ErrMigrationBalanceMismatch, before.Dec(), from, after.Dec(), to)
	}
	pool.StakeAsset = to

	changes := newChangeSet()
	changes.putPool(pool)
	if err := e.apply(changes); err != nil {
		return "", err
	}
	e.emit(events.FarmMigrated{PoolID: pid, From: string(from), To: string(to), Balance: cloneU256(before)})
	return to, nil
}
