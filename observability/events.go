package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CustodyMetrics counts transfers executed by the custody ledger.
type CustodyMetrics struct {
	transfers *prometheus.CounterVec
	rejected  *prometheus.CounterVec
}

var (
	custodyMetricsOnce sync.Once
	custodyRegistry    *CustodyMetrics
)

// Custody returns the metrics registry tracking executed transfer intents.
func Custody() *CustodyMetrics {
	custodyMetricsOnce.Do(func() {
		custodyRegistry = &CustodyMetrics{
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "farm",
				Subsystem: "custody",
				Name:      "transfers_total",
				Help:      "Count of executed transfers segmented by asset and direction.",
			}, []string{"asset", "direction"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "farm",
				Subsystem: "custody",
				Name:      "rejected_total",
				Help:      "Count of transfers rejected for insufficient funds.",
			}, []string{"asset", "direction"}),
		}
		prometheus.MustRegister(custodyRegistry.transfers, custodyRegistry.rejected)
	})
	return custodyRegistry
}

// RecordTransfer increments the transfer counter for the supplied asset.
func (m *CustodyMetrics) RecordTransfer(asset, direction string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(labelAsset(asset), direction).Inc()
}

// RecordRejected increments the rejected counter for the supplied asset.
func (m *CustodyMetrics) RecordRejected(asset, direction string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(labelAsset(asset), direction).Inc()
}

func labelAsset(asset string) string {
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}
