package keeper

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"callSpread/internal/model"
)

// Metrics are the keeper's Prometheus collectors.
type Metrics struct {
	Runs       prometheus.Counter
	Exercised  prometheus.Counter
	Failures   *prometheus.CounterVec
	LastBatch  prometheus.Gauge
	RunSeconds prometheus.Histogram
}

// NewMetrics builds collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callspread_keeper_runs_total",
			Help: "Keeper batches executed",
		}),
		Exercised: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callspread_keeper_exercised_total",
			Help: "Positions exercised by the keeper",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callspread_keeper_failures_total",
			Help: "Per-position exercise failures by kind",
		}, []string{"kind"}),
		LastBatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "callspread_keeper_last_batch_size",
			Help: "Ids attempted in the most recent batch",
		}),
		RunSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "callspread_keeper_run_seconds",
			Help:    "Wall time of a keeper batch",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.Exercised, m.Failures, m.LastBatch, m.RunSeconds)
	}
	return m
}

func (m *Metrics) observe(report model.Report, seconds float64) {
	if m == nil {
		return
	}
	m.Runs.Inc()
	m.Exercised.Add(float64(len(report.Succeeded)))
	for _, f := range report.Failed {
		m.Failures.WithLabelValues(f.Kind).Inc()
	}
	m.LastBatch.Set(float64(report.Attempted()))
	m.RunSeconds.Observe(seconds)
}

var failureKinds = []struct {
	err  error
	kind string
}{
	{model.ErrNotExpired, "not_expired"},
	{model.ErrAlreadyExercised, "already_exercised"},
	{model.ErrUnknownPosition, "unknown_position"},
	{model.ErrOracleUnavailable, "oracle_unavailable"},
	{model.ErrInsufficientEscrow, "insufficient_escrow"},
	{model.ErrInsufficientBalance, "insufficient_balance"},
}

// FailureKind maps an exercise error to a stable label.
func FailureKind(err error) string {
	for _, fk := range failureKinds {
		if errors.Is(err, fk.err) {
			return fk.kind
		}
	}
	return "other"
}
