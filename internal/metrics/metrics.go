// Package metrics provides Prometheus metrics for the clone pipeline.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	IndexRunsTotal       *prometheus.CounterVec
	IndexedMessagesTotal prometheus.Counter
	IndexedChunksTotal   prometheus.Counter
	IndexDuration        prometheus.Histogram

	QueriesTotal  *prometheus.CounterVec
	EmbedDuration prometheus.Histogram

	UnitStartsTotal prometheus.Counter
	UnitLostTotal   prometheus.Counter
	PendingRequests prometheus.Gauge

	ToneGuidesTotal *prometheus.CounterVec
	AgentToolsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IndexRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatclone_index_runs_total",
				Help: "Total number of index runs by outcome",
			},
			[]string{"status"},
		),
		IndexedMessagesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chatclone_indexed_messages_total",
				Help: "Total number of raw messages consumed by index runs",
			},
		),
		IndexedChunksTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chatclone_indexed_chunks_total",
				Help: "Total number of chunks embedded and written",
			},
		),
		IndexDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatclone_index_duration_seconds",
				Help:    "Duration of index runs in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 180, 600},
			},
		),
		QueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatclone_queries_total",
				Help: "Total number of memory queries by path taken",
			},
			[]string{"path"},
		),
		EmbedDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatclone_embed_duration_seconds",
				Help:    "Duration of embedding calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		UnitStartsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chatclone_unit_starts_total",
				Help: "Total number of execution units started",
			},
		),
		UnitLostTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chatclone_unit_lost_total",
				Help: "Total number of execution units that exited unexpectedly",
			},
		),
		PendingRequests: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatclone_pending_requests",
				Help: "Number of requests awaiting a response from the execution unit",
			},
		),
		ToneGuidesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatclone_tone_guides_total",
				Help: "Total number of tone guide generations by outcome",
			},
			[]string{"status"},
		),
		AgentToolsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatclone_agent_tool_calls_total",
				Help: "Total number of agent decisions by chosen tool",
			},
			[]string{"tool"},
		),
	}
}

// RecordIndex records the outcome of one index run.
func (m *Metrics) RecordIndex(status string, messages, chunks int, duration time.Duration) {
	if m == nil {
		return
	}
	m.IndexRunsTotal.WithLabelValues(status).Inc()
	m.IndexedMessagesTotal.Add(float64(messages))
	m.IndexedChunksTotal.Add(float64(chunks))
	m.IndexDuration.Observe(duration.Seconds())
}

// RecordQuery records which path a query took: "vector", "fallback" or "error".
func (m *Metrics) RecordQuery(path string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(path).Inc()
}

// ObserveEmbed records the duration of one embedding call.
func (m *Metrics) ObserveEmbed(d time.Duration) {
	if m == nil {
		return
	}
	m.EmbedDuration.Observe(d.Seconds())
}

// UnitStarted records an execution unit start.
func (m *Metrics) UnitStarted() {
	if m == nil {
		return
	}
	m.UnitStartsTotal.Inc()
}

// UnitLost records an unexpected execution unit exit.
func (m *Metrics) UnitLost() {
	if m == nil {
		return
	}
	m.UnitLostTotal.Inc()
}

// SetPending sets the number of pending requests.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

// RecordToneGuide records a tone guide generation outcome.
func (m *Metrics) RecordToneGuide(status string) {
	if m == nil {
		return
	}
	m.ToneGuidesTotal.WithLabelValues(status).Inc()
}

// RecordTool records an agent decision.
func (m *Metrics) RecordTool(tool string) {
	if m == nil {
		return
	}
	m.AgentToolsTotal.WithLabelValues(tool).Inc()
}

// Serve exposes /metrics and /health on addr until ctx ends.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"chatclone"}`))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
