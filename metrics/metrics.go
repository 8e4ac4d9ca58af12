// Package metrics exposes Prometheus counters and gauges for the
// engine's processed events, rejections, and liquidation fills. Unlike
// the teacher's monitoring package, which registers package-level
// collectors on the global default registry, Recorder owns its own
// registry so that constructing many engines in a test — each with its
// own Recorder — never collides on duplicate registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Recorder wraps the collectors one Engine instance reports through. The
// zero value is not usable; construct with New. A nil *Recorder is safe
// to call methods on — every method is a no-op on a nil receiver — so
// engine.Engine can carry metrics as an optional field without every
// caller needing to construct a registry.
type Recorder struct {
	registry         *prometheus.Registry
	eventsProcessed  *prometheus.CounterVec
	tradesRejected   prometheus.Counter
	withdrawalsRejected prometheus.Counter
	liquidationFills prometheus.Counter
	sequence         prometheus.Gauge
}

// New constructs a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossmargin_events_processed_total",
			Help: "Total number of events processed by event kind.",
		}, []string{"kind"}),
		tradesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossmargin_trades_rejected_total",
			Help: "Total number of trade fills rejected by the risk check.",
		}),
		withdrawalsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossmargin_withdrawals_rejected_total",
			Help: "Total number of withdrawals rejected by the risk check.",
		}),
		liquidationFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossmargin_liquidation_fills_total",
			Help: "Total number of forced closes emitted by the liquidation scan.",
		}),
		sequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crossmargin_sequence",
			Help: "The most recently assigned event sequence number.",
		}),
	}

	reg.MustRegister(r.eventsProcessed, r.tradesRejected, r.withdrawalsRejected, r.liquidationFills, r.sequence)
	return r
}

// Registry returns the Recorder's own registry, for a caller that wants
// to serve /metrics via promhttp.HandlerFor.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveProcessed records that one event of the given kind was applied.
func (r *Recorder) ObserveProcessed(kind string) {
	if r == nil {
		return
	}
	r.eventsProcessed.WithLabelValues(kind).Inc()
}

// ObserveTradeRejected records one rejected trade fill.
func (r *Recorder) ObserveTradeRejected() {
	if r == nil {
		return
	}
	r.tradesRejected.Inc()
}

// ObserveWithdrawalRejected records one rejected withdrawal.
func (r *Recorder) ObserveWithdrawalRejected() {
	if r == nil {
		return
	}
	r.withdrawalsRejected.Inc()
}

// ObserveLiquidationFill records one forced close.
func (r *Recorder) ObserveLiquidationFill() {
	if r == nil {
		return
	}
	r.liquidationFills.Inc()
}

// SetSequence records the most recently assigned sequence number.
func (r *Recorder) SetSequence(seq uint64) {
	if r == nil {
		return
	}
	r.sequence.Set(float64(seq))
}

// ProcessedCount returns the current value of the events-processed
// counter for the given event kind. Exists so callers outside this
// package (tests, an admin endpoint) can assert on the real collector
// value rather than poking at unexported fields.
func (r *Recorder) ProcessedCount(kind string) float64 {
	if r == nil {
		return 0
	}
	return readCounter(r.eventsProcessed.WithLabelValues(kind))
}

// TradeRejectedCount returns the current value of the rejected-trades counter.
func (r *Recorder) TradeRejectedCount() float64 {
	if r == nil {
		return 0
	}
	return readCounter(r.tradesRejected)
}

// WithdrawalRejectedCount returns the current value of the rejected-withdrawals counter.
func (r *Recorder) WithdrawalRejectedCount() float64 {
	if r == nil {
		return 0
	}
	return readCounter(r.withdrawalsRejected)
}

// LiquidationFillCount returns the current value of the liquidation-fills counter.
func (r *Recorder) LiquidationFillCount() float64 {
	if r == nil {
		return 0
	}
	return readCounter(r.liquidationFills)
}

// SequenceValue returns the current value of the sequence gauge.
func (r *Recorder) SequenceValue() float64 {
	if r == nil {
		return 0
	}
	return readGauge(r.sequence)
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func readGauge(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
