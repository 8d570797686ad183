package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the candle retrieval system.
type Metrics struct {
	BatchesFetched    *prometheus.CounterVec // labels: symbol, timeframe
	CandlesInserted   *prometheus.CounterVec // labels: symbol, timeframe
	BackfillDuration  prometheus.Histogram
	BackfillExhausted *prometheus.CounterVec // labels: symbol, timeframe

	GapsFilled      *prometheus.CounterVec // labels: symbol, timeframe
	GapFillDuration prometheus.Histogram

	ExchangeReconnects prometheus.Counter
	ExchangeErrors     *prometheus.CounterVec // labels: kind (transient, permanent, malformed)

	BroadcastDropsTotal *prometheus.CounterVec // labels: symbol
	BroadcastQueueLen   *prometheus.GaugeVec   // labels: symbol

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	HTTPRequestDuration *prometheus.HistogramVec // labels: route, status
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		BatchesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleretriever_batches_fetched_total",
			Help: "Total REST backfill batches fetched from the exchange",
		}, []string{"symbol", "timeframe"}),
		CandlesInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleretriever_candles_inserted_total",
			Help: "Total exchange-fetched candles newly inserted by backfill (interpolated rows are counted in gaps_filled_total)",
		}, []string{"symbol", "timeframe"}),
		BackfillDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleretriever_backfill_batch_duration_seconds",
			Help:    "Duration of a single backfill batch (fetch + insert + gap-fill)",
			Buckets: prometheus.DefBuckets,
		}),
		BackfillExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleretriever_backfill_exhausted_total",
			Help: "Times a (symbol, timeframe) backfill loop reached exhaustion",
		}, []string{"symbol", "timeframe"}),

		GapsFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleretriever_gaps_filled_total",
			Help: "Total interpolated candles inserted to close gaps",
		}, []string{"symbol", "timeframe"}),
		GapFillDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleretriever_gapfill_duration_seconds",
			Help:    "Duration of a gap-fill pass over one fetched batch",
			Buckets: prometheus.DefBuckets,
		}),

		ExchangeReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleretriever_exchange_reconnects_total",
			Help: "Total WebSocket reconnects to the exchange kline stream",
		}),
		ExchangeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleretriever_exchange_errors_total",
			Help: "Exchange client errors by classification",
		}, []string{"kind"}),

		BroadcastDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleretriever_broadcast_drops_total",
			Help: "Realtime updates dropped because a subscriber's queue was full",
		}, []string{"symbol"}),
		BroadcastQueueLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "candleretriever_broadcast_queue_length",
			Help: "Current occupancy of a subscriber's broadcast channel",
		}, []string{"symbol"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleretriever_facade_cache_hits_total",
			Help: "HTTP façade candle-read cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleretriever_facade_cache_misses_total",
			Help: "HTTP façade candle-read cache misses",
		}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "candleretriever_http_request_duration_seconds",
			Help:    "HTTP façade request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	prometheus.MustRegister(
		m.BatchesFetched,
		m.CandlesInserted,
		m.BackfillDuration,
		m.BackfillExhausted,
		m.GapsFilled,
		m.GapFillDuration,
		m.ExchangeReconnects,
		m.ExchangeErrors,
		m.BroadcastDropsTotal,
		m.BroadcastQueueLen,
		m.CacheHits,
		m.CacheMisses,
		m.HTTPRequestDuration,
	)

	return m
}

// HealthStatus represents the system's current operational health.
type HealthStatus struct {
	mu sync.RWMutex

	ExchangeStreamConnected bool      `json:"exchange_stream_connected"`
	LastTickTime            time.Time `json:"last_tick_time"`
	ActiveSymbols           []string  `json:"active_symbols"`
	StartedAt               time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetExchangeStreamConnected(v bool) {
	h.mu.Lock()
	h.ExchangeStreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetActiveSymbols(symbols []string) {
	h.mu.Lock()
	h.ActiveSymbols = symbols
	h.mu.Unlock()
}

// ServeHTTP handles the /health endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := struct {
		Status        string   `json:"status"`
		Uptime        string   `json:"uptime"`
		StreamOK      bool     `json:"exchange_stream_connected"`
		ActiveSymbols []string `json:"active_symbols"`
	}{
		Status:        "ok",
		Uptime:        time.Since(h.StartedAt).Round(time.Second).String(),
		StreamOK:      h.ExchangeStreamConnected,
		ActiveSymbols: h.ActiveSymbols,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /health.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
