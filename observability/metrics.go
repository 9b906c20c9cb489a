package observability

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks runtime calls and the value moved by settlements.
type SettlementMetrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
	payouts *prometheus.CounterVec
	fees    *prometheus.CounterVec
	rounds  prometheus.Gauge
}

var (
	settlementMetricsOnce sync.Once
	settlementRegistry    *SettlementMetrics
)

// Settlement returns the lazily-initialised settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pharmaclear",
				Subsystem: "runtime",
				Name:      "calls_total",
				Help:      "Runtime calls segmented by component, method, and outcome.",
			}, []string{"component", "method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pharmaclear",
				Subsystem: "runtime",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for runtime calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"component", "method"}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pharmaclear",
				Subsystem: "settlement",
				Name:      "payout_units_total",
				Help:      "Base units paid to pharmacies segmented by asset.",
			}, []string{"asset"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pharmaclear",
				Subsystem: "settlement",
				Name:      "fee_units_total",
				Help:      "Base units paid to fee collectors segmented by asset.",
			}, []string{"asset"}),
			rounds: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pharmaclear",
				Subsystem: "runtime",
				Name:      "committed_round",
				Help:      "Most recent round committed to the state trie.",
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.calls,
			settlementRegistry.latency,
			settlementRegistry.payouts,
			settlementRegistry.fees,
			settlementRegistry.rounds,
		)
	})
	return settlementRegistry
}

// ObserveCall records the outcome and latency of a runtime call.
func (m *SettlementMetrics) ObserveCall(component, method string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	component = labelOrUnknown(component)
	method = labelOrUnknown(method)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(component, method, outcome).Inc()
	m.latency.WithLabelValues(component, method).Observe(duration.Seconds())
}

// RecordSettlement adds the payout and fee of a completed settlement.
func (m *SettlementMetrics) RecordSettlement(asset uint64, payout, fee *big.Int) {
	if m == nil {
		return
	}
	label := strconv.FormatUint(asset, 10)
	m.payouts.WithLabelValues(label).Add(bigToFloat(payout))
	m.fees.WithLabelValues(label).Add(bigToFloat(fee))
}

// SetCommittedRound publishes the latest committed round.
func (m *SettlementMetrics) SetCommittedRound(round uint64) {
	if m == nil {
		return
	}
	m.rounds.Set(float64(round))
}

func labelOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func bigToFloat(v *big.Int) float64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
