// Package metrics exposes pipeline health as Prometheus metrics and a
// plain healthz endpoint over a gorilla/mux router.
package metrics

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the pipeline publishes.
type Registry struct {
	BarsIngested      *prometheus.CounterVec
	TickersIngested   *prometheus.CounterVec
	StreamTaskState   *prometheus.GaugeVec
	IngestionLag      *prometheus.HistogramVec
	AlertsEmitted     *prometheus.CounterVec
	AlertsSuppressed  *prometheus.CounterVec
	NotifierFailures  *prometheus.CounterVec
	SymbolsEvicted    *prometheus.CounterVec
	ScanDuration      *prometheus.HistogramVec
}

// NewRegistry builds and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		BarsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsentry_bars_ingested_total",
			Help: "Bars recorded into the market state store.",
		}, []string{"venue", "symbol"}),
		TickersIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsentry_tickers_ingested_total",
			Help: "Ticker updates recorded into the market state store.",
		}, []string{"venue", "symbol"}),
		StreamTaskState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsentry_stream_task_state",
			Help: "1 if a supervised stream task is currently running, else 0.",
		}, []string{"venue", "symbol", "timeframe"}),
		IngestionLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsentry_ingestion_lag_seconds",
			Help:    "Age of the most recently recorded bar/ticker when observed.",
			Buckets: prometheus.DefBuckets,
		}, []string{"venue"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsentry_alerts_emitted_total",
			Help: "Alerts that cleared cooldown and were handed to the notifier.",
		}, []string{"kind"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsentry_alerts_suppressed_total",
			Help: "Alerts suppressed by the cooldown gate.",
		}, []string{"kind"}),
		NotifierFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsentry_notifier_failures_total",
			Help: "Webhook delivery failures.",
		}, []string{"kind"}),
		SymbolsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsentry_symbols_evicted_total",
			Help: "Symbols permanently evicted from supervision.",
		}, []string{"venue", "reason"}),
		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsentry_scan_duration_seconds",
			Help:    "Wall time of one detector scan pass.",
			Buckets: prometheus.DefBuckets,
		}, []string{"detector"}),
	}

	reg.MustRegister(
		m.BarsIngested, m.TickersIngested, m.StreamTaskState, m.IngestionLag,
		m.AlertsEmitted, m.AlertsSuppressed, m.NotifierFailures, m.SymbolsEvicted, m.ScanDuration,
	)
	return m
}

// StepTimer returns a function that, when called, observes the elapsed
// time since StepTimer was invoked against the given histogram.
func StepTimer(h prometheus.Observer) func() {
	start := time.Now()
	return func() { h.Observe(time.Since(start).Seconds()) }
}

// Server serves /healthz and /metrics.
type Server struct {
	router *mux.Router
}

// NewServer wires a Server against the default Prometheus gatherer.
func NewServer() *Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{router: r}
}

// Handler returns the underlying http.Handler for use with an
// http.Server.
func (s *Server) Handler() http.Handler { return s.router }
