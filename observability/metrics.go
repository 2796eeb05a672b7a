package observability

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics tracks ledger operations and custody for escrowd.
type EscrowMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	custody      prometheus.Gauge
	transactions prometheus.Gauge
	throttles    *prometheus.CounterVec
	eventsDrops  prometheus.Counter
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Escrow returns the lazily-initialised metrics registered with the default
// Prometheus registerer.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = NewEscrowMetrics(prometheus.DefaultRegisterer)
	})
	return escrowRegistry
}

// NewEscrowMetrics builds the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	m := &EscrowMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "operations_total",
			Help:      "Total ledger operations segmented by operation and outcome kind.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for ledger operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		custody: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Name:      "custody_balance",
			Help:      "Value currently held in custody across all open transactions.",
		}),
		transactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Name:      "transactions",
			Help:      "Number of escrow transactions created.",
		}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "throttles_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"route"}),
		eventsDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "stream_events_dropped_total",
			Help:      "Events skipped for slow stream subscribers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.latency, m.custody, m.transactions, m.throttles, m.eventsDrops)
	}
	return m
}

// ObserveOperation records the outcome of a ledger call. outcome is "ok" or an
// error kind name.
func (m *EscrowMetrics) ObserveOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetCustody publishes the vault balance.
func (m *EscrowMetrics) SetCustody(amount *big.Int) {
	if m == nil {
		return
	}
	m.custody.Set(bigToFloat(amount))
}

// SetTransactions publishes the transaction counter.
func (m *EscrowMetrics) SetTransactions(count uint64) {
	if m == nil {
		return
	}
	m.transactions.Set(float64(count))
}

// RecordThrottle counts a rate limited request.
func (m *EscrowMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(route).Inc()
}

// AddDroppedEvents counts stream deliveries skipped for slow subscribers.
func (m *EscrowMetrics) AddDroppedEvents(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.eventsDrops.Add(float64(n))
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
