package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"SweepTrader/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticks        *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	state        *prometheus.GaugeVec
	gateFailures *prometheus.CounterVec
	riskBreaches *prometheus.CounterVec
	advice       *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New registers the engine metrics on reg; nil means the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		ticks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweeptrader_ticks_total",
				Help: "Driver ticks by outcome",
			},
			[]string{"symbol", "outcome"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweeptrader_transitions_total",
				Help: "Committed session state transitions",
			},
			[]string{"symbol", "from", "to"},
		),
		state: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sweeptrader_session_state",
				Help: "1 for the current state of each symbol's session, 0 otherwise",
			},
			[]string{"symbol", "state"},
		),
		gateFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweeptrader_gate_failures_total",
				Help: "Confluence gate failures by gate",
			},
			[]string{"gate"},
		),
		riskBreaches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweeptrader_risk_breaches_total",
				Help: "Circuit breaker trips by check",
			},
			[]string{"check"},
		),
		advice: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweeptrader_advice_total",
				Help: "Advisor decisions by source",
			},
			[]string{"source", "proceed"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweeptrader_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sweeptrader_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordTick(symbol, outcome string) {
	r.ticks.WithLabelValues(symbol, outcome).Inc()
}

func (r *Recorder) RecordTransition(symbol, from, to string) {
	r.transitions.WithLabelValues(symbol, from, to).Inc()
}

// RecordState flips the state gauge so exactly one state reads 1.
func (r *Recorder) RecordState(symbol, state string) {
	for _, s := range models.States() {
		v := 0.0
		if string(s) == state {
			v = 1
		}
		r.state.WithLabelValues(symbol, string(s)).Set(v)
	}
}

func (r *Recorder) RecordGateFailure(gate string) {
	r.gateFailures.WithLabelValues(gate).Inc()
}

func (r *Recorder) RecordRiskBreach(check string) {
	r.riskBreaches.WithLabelValues(check).Inc()
}

func (r *Recorder) RecordAdvice(source string, proceed bool) {
	r.advice.WithLabelValues(source, strconv.FormatBool(proceed)).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTick(string, string)               {}
func (Nop) RecordTransition(string, string, string) {}
func (Nop) RecordState(string, string)              {}
func (Nop) RecordGateFailure(string)                {}
func (Nop) RecordRiskBreach(string)                 {}
func (Nop) RecordAdvice(string, bool)               {}
func (Nop) RecordError(string)                      {}
func (Nop) RecordLatency(string, float64)           {}
