package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"stakefarm/core/events"
)

func newTestJournal(t *testing.T) (*Journal, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	j, err := New(db, nil)
	require.NoError(t, err)
	return j, db
}

func TestAppendChainsEntries(t *testing.T) {
	j, db := newTestJournal(t)
	ctx := context.Background()

	first, err := j.Append(ctx, events.FarmRateSet{PoolID: 1, Rate: uint256.NewInt(5)})
	require.NoError(t, err)
	second, err := j.Append(ctx, events.FarmPoolAdded{PoolID: 2, AllocationPoints: 10, StakeAsset: "LP"})
	require.NoError(t, err)

	require.Equal(t, uint64(1), first.Sequence)
	require.Empty(t, first.PrevHash)
	require.Equal(t, first.Hash, second.PrevHash)
	seq, head := j.Head()
	require.Equal(t, uint64(2), seq)
	require.Equal(t, second.Hash, head)
	require.NoError(t, j.Verify(ctx))

	resumed, err := New(db, nil)
	require.NoError(t, err)
	seq, head = resumed.Head()
	require.Equal(t, uint64(2), seq)
	require.Equal(t, second.Hash, head)
}

func TestVerifyDetectsTampering(t *testing.T) {
	j, db := newTestJournal(t)
	ctx := context.Background()
	j.Emit(events.FarmRateSet{PoolID: 1, Rate: uint256.NewInt(5)})
	j.Emit(events.FarmRateSet{PoolID: 1, Rate: uint256.NewInt(6)})

	require.NoError(t, db.Model(&Entry{}).Where("sequence = ?", 1).Update("attributes", `{"poolId":"9"}`).Error)
	require.ErrorIs(t, j.Verify(ctx), ErrChainBroken)
}

func TestListPaginates(t *testing.T) {
	j, _ := newTestJournal(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := j.Append(ctx, events.FarmRateSet{PoolID: uint64(i), Rate: uint256.NewInt(1)})
		require.NoError(t, err)
	}
	page, err := j.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(3), page[0].Sequence)
}

func TestExportParquet(t *testing.T) {
	j, _ := newTestJournal(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, events.FarmRateSet{PoolID: uint64(i), Rate: uint256.NewInt(1)})
		require.NoError(t, err)
	}
	path := filepath.Join(t.TempDir(), "journal.parquet")
	rows, err := j.ExportParquet(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 3, rows)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}
