package metrics

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestFarmMetricsRecordOutcomes(t *testing.T) {
	m := Farm()
	m.ObserveOperation("deposit", nil)
	m.ObserveOperation("deposit", errors.New("boom"))
	m.ObservePool(7, uint256.NewInt(2_000_000_000_000), 55, uint256.NewInt(10))
	m.SetTotalAllocationPoints(300)

	require.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues("deposit", "error")))
	require.Equal(t, float64(2e12), testutil.ToFloat64(m.accRewardPerShare.WithLabelValues("7")))
	require.Equal(t, float64(55), testutil.ToFloat64(m.lastAccrualPoint.WithLabelValues("7")))
	require.Equal(t, float64(300), testutil.ToFloat64(m.totalAllocPoints))
}

func TestFarmMetricsNilSafe(t *testing.T) {
	var m *FarmMetrics
	m.ObserveOperation("deposit", nil)
	m.RecordAudit(nil)
	m.ObservePool(0, nil, 0, nil)
}
