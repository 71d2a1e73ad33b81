// Package telemetry exposes run metrics via the standard Prometheus
// client library. Every method is nil-safe: a nil *Metrics behaves as a
// no-op recorder, so callers never need to branch on whether telemetry
// was wired in for a given run.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics holds the counters and histograms this simulation core
// publishes. Construct with New; a nil *Metrics is always safe to call
// methods on.
type Metrics struct {
	barsProcessed   prometheus.Counter
	ordersSubmitted *prometheus.CounterVec
	ordersAccepted  prometheus.Counter
	ordersRejected  *prometheus.CounterVec
	fills           prometheus.Counter
	commissionTotal prometheus.Counter
	fillLatencyNs   prometheus.Histogram
}

// New registers this core's metrics on reg and returns a ready Metrics.
// Passing prometheus.NewRegistry() keeps a run's metrics isolated from
// the default global registry, which matters when multiple runs share a
// process (e.g. under test).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		barsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onesecondtrader_bars_processed_total",
			Help: "Total BarProcessed events published by strategies.",
		}),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onesecondtrader_orders_submitted_total",
			Help: "Total OrderSubmissionRequest events, by order type.",
		}, []string{"order_type"}),
		ordersAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onesecondtrader_orders_accepted_total",
			Help: "Total OrderAccepted events.",
		}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onesecondtrader_orders_rejected_total",
			Help: "Total OrderRejected events, by rejection reason.",
		}, []string{"reason"}),
		fills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onesecondtrader_fills_total",
			Help: "Total FillEvent events.",
		}),
		commissionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onesecondtrader_commission_total",
			Help: "Sum of commission charged across all fills.",
		}),
		fillLatencyNs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "onesecondtrader_fill_latency_ns",
			Help:    "Nanoseconds between an order's submission and its fill.",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 10),
		}),
	}
	reg.MustRegister(m.barsProcessed, m.ordersSubmitted, m.ordersAccepted,
		m.ordersRejected, m.fills, m.commissionTotal, m.fillLatencyNs)
	return m
}

func (m *Metrics) ObserveBarProcessed() {
	if m == nil {
		return
	}
	m.barsProcessed.Inc()
}

func (m *Metrics) ObserveOrderSubmitted(orderType string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(orderType).Inc()
}

func (m *Metrics) ObserveOrderAccepted() {
	if m == nil {
		return
	}
	m.ordersAccepted.Inc()
}

func (m *Metrics) ObserveOrderRejected(reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// ObserveFill records one fill: a unit increment to the fill counter, the
// commission charged, and the latency between the triggering request and
// the broker's response, in nanoseconds.
func (m *Metrics) ObserveFill(commission decimal.Decimal, latencyNs int64) {
	if m == nil {
		return
	}
	m.fills.Inc()
	c, _ := commission.Float64()
	m.commissionTotal.Add(c)
	if latencyNs > 0 {
		m.fillLatencyNs.Observe(float64(latencyNs))
	}
}
