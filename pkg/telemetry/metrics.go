package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/awxlab/pkg/engine"
)

// Metrics provides Prometheus metrics for awxlab. A Metrics built from a
// disabled config records nothing; every recorder is nil-safe.
type Metrics struct {
	config MetricsConfig

	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	decisions *prometheus.CounterVec

	waitPolls    *prometheus.CounterVec
	waitOutcomes *prometheus.CounterVec
	waitDuration prometheus.Histogram

	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of setup and teardown runs completed",
			},
			[]string{"operation", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of setup and teardown runs in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "controller_requests_total",
				Help:      "Total number of requests sent to the controller",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "controller_request_duration_seconds",
				Help:      "Duration of controller requests in seconds",
				Buckets:   buckets,
			},
			[]string{"method", "endpoint"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Reconciliation and teardown decisions by kind",
			},
			[]string{"kind", "decision"},
		),
		waitPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wait_polls_total",
				Help:      "Project update polls by observed status",
			},
			[]string{"status"},
		),
		waitOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wait_outcomes_total",
				Help:      "Project update waits by outcome",
			},
			[]string{"outcome"},
		),
		waitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wait_duration_seconds",
				Help:      "Time spent waiting on project updates",
				Buckets:   buckets,
			},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.requests,
		m.requestDuration,
		m.decisions,
		m.waitPolls,
		m.waitOutcomes,
		m.waitDuration,
		m.errorsByClass,
	)

	return m, nil
}

// Registry exposes the underlying registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun records a completed run with its status and duration.
func (m *Metrics) RecordRun(operation string, status engine.RunStatus, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(operation, string(status)).Inc()
	m.runDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRequest records one controller request. A zero status means the
// request never produced a response.
func (m *Metrics) ObserveRequest(method, endpoint string, status int, duration time.Duration) {
	if m.requests == nil {
		return
	}
	code := "error"
	if status != 0 {
		code = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(method, endpoint, code).Inc()
	m.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDecision records a reconciliation or teardown decision.
func (m *Metrics) RecordDecision(kind engine.Kind, decision engine.Decision) {
	if m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(string(kind), string(decision)).Inc()
}

// RecordWaitPoll records one observed project update status.
func (m *Metrics) RecordWaitPoll(status engine.OperationStatus) {
	if m.waitPolls == nil {
		return
	}
	if status == "" {
		status = "none"
	}
	m.waitPolls.WithLabelValues(string(status)).Inc()
}

// RecordWaitOutcome records how a wait ended.
func (m *Metrics) RecordWaitOutcome(outcome engine.OutcomeKind, elapsed time.Duration) {
	if m.waitOutcomes == nil {
		return
	}
	m.waitOutcomes.WithLabelValues(string(outcome)).Inc()
	m.waitDuration.Observe(elapsed.Seconds())
}

// RecordError records an error by class.
func (m *Metrics) RecordError(err error) {
	if m.errorsByClass == nil || err == nil {
		return
	}
	class := "unclassified"
	var ee *engine.EngineError
	switch {
	case errors.As(err, &ee):
		class = string(ee.Class)
	case engine.IsTransportError(err):
		class = "transport"
	case engine.IsDecodingError(err):
		class = "decoding"
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics until ctx is done. It returns
// immediately when no listen address is configured.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
