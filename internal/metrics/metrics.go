package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the Prometheus metrics for polysignal on a private registry.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	EvaluationsTotal   *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	SignalsLast        *prometheus.GaugeVec
	TopScore           *prometheus.GaugeVec

	CollectedTotal *prometheus.CounterVec
	FailedWallets  prometheus.Counter
	StreamTrades   prometheus.Counter
	LastRun        prometheus.Gauge
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polysignal_upstream_requests_total",
				Help: "Upstream API requests by host and outcome",
			},
			[]string{"host", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polysignal_upstream_request_duration_seconds",
				Help:    "Upstream API request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"host"},
		),
		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polysignal_evaluations_total",
				Help: "Strategy evaluations by strategy and status",
			},
			[]string{"strategy", "status"},
		),
		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polysignal_evaluation_duration_seconds",
				Help:    "Strategy evaluation time in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"strategy"},
		),
		SignalsLast: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "polysignal_signals",
				Help: "Signals produced by the latest evaluation",
			},
			[]string{"strategy"},
		),
		TopScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "polysignal_top_score",
				Help: "Highest score produced by the latest evaluation",
			},
			[]string{"strategy"},
		),
		CollectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polysignal_collected_total",
				Help: "Records stored by the collector, by kind",
			},
			[]string{"kind"},
		),
		FailedWallets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "polysignal_failed_wallet_fetches_total",
				Help: "Tracked wallets whose trades could not be fetched",
			},
		),
		StreamTrades: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "polysignal_stream_trades_total",
				Help: "Tracked-wallet trades received from the live feed",
			},
		),
		LastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "polysignal_last_run_timestamp_seconds",
				Help: "Unix time of the last completed evaluation run",
			},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.RequestsTotal,
		r.RequestDuration,
		r.EvaluationsTotal,
		r.EvaluationDuration,
		r.SignalsLast,
		r.TopScore,
		r.CollectedTotal,
		r.FailedWallets,
		r.StreamTrades,
		r.LastRun,
	)
	return r
}

// ObserveRequest records one upstream call.
func (r *Registry) ObserveRequest(host, outcome string, elapsed time.Duration) {
	r.RequestsTotal.WithLabelValues(host, outcome).Inc()
	r.RequestDuration.WithLabelValues(host).Observe(elapsed.Seconds())
}

// ObserveEvaluation records one strategy evaluation. topScore is ignored
// when there were no signals.
func (r *Registry) ObserveEvaluation(strategy string, signals int, topScore float64, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.EvaluationsTotal.WithLabelValues(strategy, status).Inc()
	r.EvaluationDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	if err != nil {
		return
	}
	r.SignalsLast.WithLabelValues(strategy).Set(float64(signals))
	if signals > 0 {
		r.TopScore.WithLabelValues(strategy).Set(topScore)
	} else {
		r.TopScore.WithLabelValues(strategy).Set(0)
	}
}

func (r *Registry) AddCollected(kind string, n int) {
	if n > 0 {
		r.CollectedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

func (r *Registry) AddFailedWallets(n int) {
	if n > 0 {
		r.FailedWallets.Add(float64(n))
	}
}

func (r *Registry) IncStreamTrades() { r.StreamTrades.Inc() }

func (r *Registry) MarkRun(at time.Time) { r.LastRun.Set(float64(at.Unix())) }

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
