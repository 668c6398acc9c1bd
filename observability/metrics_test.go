package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAPIObserveCountsErrors(t *testing.T) {
	m := API()
	m.Observe("/v1/pools", "GET", 200, time.Millisecond)
	m.Observe("/v1/pools", "GET", 404, time.Millisecond)

	require.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("/v1/pools", "GET", "error")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues("/v1/pools", "GET", "404")))

	var nilMetrics *APIMetrics
	nilMetrics.Observe("x", "y", 500, 0)
}

func TestCustodyNormalisesAsset(t *testing.T) {
	m := Custody()
	m.RecordTransfer(" lp ", "in")
	require.Equal(t, float64(1), testutil.ToFloat64(m.transfers.WithLabelValues("LP", "in")))
	require.Equal(t, "UNKNOWN", labelAsset(""))
}
