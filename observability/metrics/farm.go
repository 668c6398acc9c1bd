package metrics

import (
	"math/big"
	"strconv"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// FarmMetrics records ledger activity for the staking engine.
type FarmMetrics struct {
	operations        *prometheus.CounterVec
	invariantFailures *prometheus.CounterVec
	hookFailures      *prometheus.CounterVec
	accRewardPerShare *prometheus.GaugeVec
	lastAccrualPoint  *prometheus.GaugeVec
	allocatedSupply   *prometheus.GaugeVec
	totalAllocPoints  prometheus.Gauge
	transferIntents   *prometheus.CounterVec
	auditRuns         *prometheus.CounterVec
}

var (
	farmOnce     sync.Once
	farmRegistry *FarmMetrics
)

// Farm returns the lazily-initialised farm metrics registry.
func Farm() *FarmMetrics {
	farmOnce.Do(func() {
		farmRegistry = &FarmMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "farm",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			invariantFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "farm",
				Name:      "invariant_violations_total",
				Help:      "Accounting invariant violations detected by operation.",
			}, []string{"operation"}),
			hookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "farm",
				Name:      "reward_hook_failures_total",
				Help:      "Reward hook invocations that returned an error, by hook.",
			}, []string{"hook"}),
			accRewardPerShare: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "farm",
				Name:      "acc_reward_per_share",
				Help:      "Accumulated reward per share (scaled) by pool.",
			}, []string{"pool"}),
			lastAccrualPoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "farm",
				Name:      "last_accrual_point",
				Help:      "Time unit of the last accrual update by pool.",
			}, []string{"pool"}),
			allocatedSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "farm",
				Name:      "allocated_reward_supply",
				Help:      "Reward capacity reserved per pool.",
			}, []string{"pool"}),
			totalAllocPoints: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "farm",
				Name:      "total_allocation_points",
				Help:      "Sum of allocation points across all pools.",
			}),
			transferIntents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "farm",
				Name:      "transfer_intents_total",
				Help:      "Transfer intents reported to the custody layer by direction.",
			}, []string{"direction"}),
			auditRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "farm",
				Name:      "audit_runs_total",
				Help:      "Invariant audit runs segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			farmRegistry.operations,
			farmRegistry.invariantFailures,
			farmRegistry.hookFailures,
			farmRegistry.accRewardPerShare,
			farmRegistry.lastAccrualPoint,
			farmRegistry.allocatedSupply,
			farmRegistry.totalAllocPoints,
			farmRegistry.transferIntents,
			farmRegistry.auditRuns,
		)
	})
	return farmRegistry
}

// ObserveOperation counts a ledger operation outcome.
func (m *FarmMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// RecordInvariantViolation counts a detected accounting violation.
func (m *FarmMetrics) RecordInvariantViolation(operation string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.invariantFailures.WithLabelValues(operation).Inc()
}

// RecordHookFailure counts a failed reward hook call.
func (m *FarmMetrics) RecordHookFailure(hook string) {
	if m == nil {
		return
	}
	if hook == "" {
		hook = "unknown"
	}
	m.hookFailures.WithLabelValues(hook).Inc()
}

// ObservePool publishes the accumulator and allocation gauges for a pool.
func (m *FarmMetrics) ObservePool(pool uint64, acc *uint256.Int, lastAccrual uint64, allocated *uint256.Int) {
	if m == nil {
		return
	}
	label := strconv.FormatUint(pool, 10)
	m.accRewardPerShare.WithLabelValues(label).Set(u256Float(acc))
	m.lastAccrualPoint.WithLabelValues(label).Set(float64(lastAccrual))
	m.allocatedSupply.WithLabelValues(label).Set(u256Float(allocated))
}

// SetTotalAllocationPoints publishes the global allocation point total.
func (m *FarmMetrics) SetTotalAllocationPoints(points uint64) {
	if m == nil {
		return
	}
	m.totalAllocPoints.Set(float64(points))
}

// RecordTransferIntent counts a transfer intent by direction.
func (m *FarmMetrics) RecordTransferIntent(direction string) {
	if m == nil {
		return
	}
	if direction == "" {
		direction = "unknown"
	}
	m.transferIntents.WithLabelValues(direction).Inc()
}

// RecordAudit counts an invariant audit run.
func (m *FarmMetrics) RecordAudit(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "violation"
	}
	m.auditRuns.WithLabelValues(outcome).Inc()
}

func u256Float(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value.ToBig()).Float64()
	return f
}
