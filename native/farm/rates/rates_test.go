package rates

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"stakefarm/storage"
)

func TestStaticDefaultsToZero(t *testing.T) {
	s := NewStatic(map[uint64]*uint256.Int{1: uint256.NewInt(5)})

	rate, err := s.RatePerUnit(0)
	require.NoError(t, err)
	require.True(t, rate.IsZero())

	rate, err = s.RatePerUnit(1)
	require.NoError(t, err)
	require.Equal(t, uint64(5), rate.Uint64())
}

func TestStaticSetRateCopies(t *testing.T) {
	s := NewStatic(nil)
	rate := uint256.NewInt(7)
	require.NoError(t, s.SetRate(3, rate))
	rate.SetUint64(99)

	got, err := s.RatePerUnit(3)
	require.NoError(t, err)
	require.Equal(t, uint64(7), got.Uint64())
	require.Error(t, s.SetRate(3, nil))
	require.Len(t, s.Snapshot(), 1)
}

func TestScheduleSelectsActiveStep(t *testing.T) {
	now := uint64(0)
	s, err := NewSchedule([]Step{
		{Start: 100, Rate: uint256.NewInt(5)},
		{Start: 10, Rate: uint256.NewInt(20)},
	}, func() uint64 { return now })
	require.NoError(t, err)

	cases := map[uint64]uint64{0: 0, 9: 0, 10: 20, 99: 20, 100: 5, 1000: 5}
	for point, want := range cases {
		now = point
		rate, err := s.RatePerUnit(0)
		require.NoError(t, err)
		require.Equalf(t, want, rate.Uint64(), "point %d", point)
	}
}

func TestScheduleEmissionSplitsAtSteps(t *testing.T) {
	s, err := NewSchedule([]Step{
		{Start: 10, Rate: uint256.NewInt(20)},
		{Start: 100, Rate: uint256.NewInt(5)},
	}, func() uint64 { return 1000 })
	require.NoError(t, err)

	cases := []struct {
		from, to, want uint64
	}{
		{0, 10, 0},
		{5, 15, 5 * 20},
		{10, 100, 90 * 20},
		{95, 105, 5*20 + 5*5},
		{0, 1000, 90*20 + 900*5},
		{7, 7, 0},
	}
	for _, tc := range cases {
		got, err := s.Emission(0, tc.from, tc.to)
		require.NoError(t, err)
		require.Equalf(t, tc.want, got.Uint64(), "from %d to %d", tc.from, tc.to)
	}

	// One update across the boundary matches two updates split at it.
	whole, err := s.Emission(0, 50, 150)
	require.NoError(t, err)
	head, err := s.Emission(0, 50, 100)
	require.NoError(t, err)
	tail, err := s.Emission(0, 100, 150)
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).Add(head, tail), whole)
}

func TestScheduleRejectsDuplicateStart(t *testing.T) {
	_, err := NewSchedule([]Step{
		{Start: 1, Rate: uint256.NewInt(1)},
		{Start: 1, Rate: uint256.NewInt(2)},
	}, func() uint64 { return 0 })
	require.Error(t, err)

	_, err = NewSchedule(nil, nil)
	require.Error(t, err)
}

func TestPersistentSurvivesReload(t *testing.T) {
	db := storage.NewMemDB()
	p := NewPersistent(db)
	rate, err := p.RatePerUnit(0)
	require.NoError(t, err)
	require.True(t, rate.IsZero())

	require.NoError(t, p.SetRate(0, uint256.NewInt(42)))
	require.Error(t, p.SetRate(0, nil))

	reloaded := NewPersistent(db)
	rate, err = reloaded.RatePerUnit(0)
	require.NoError(t, err)
	require.Equal(t, uint64(42), rate.Uint64())
}
