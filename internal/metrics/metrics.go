// Package metrics exposes Prometheus metrics and the health endpoint for
// the market-data core.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the market-data core.
type Metrics struct {
	// Adapter ingest
	MessagesTotal   *prometheus.CounterVec // labels: adapter
	ParseFailures   *prometheus.CounterVec // labels: adapter
	DuplicatesTotal *prometheus.CounterVec // labels: adapter
	WSReconnects    prometheus.Counter
	AdapterState    *prometheus.GaugeVec // labels: adapter; value is the State enum
	QualityScore    *prometheus.GaugeVec // labels: adapter

	// Synchronizer
	BarsTotal       *prometheus.CounterVec // labels: tf
	RejectedBars    *prometheus.CounterVec // labels: tf
	ClockSkewEvents *prometheus.CounterVec // labels: tf
	BufferOccupancy *prometheus.GaugeVec   // labels: tf
	SyncState       *prometheus.GaugeVec   // labels: tf; 0/1
	SyncLatency     prometheus.Histogram
	SyncFires       prometheus.Counter

	// Analysis
	IndicatorComputeDur prometheus.Histogram
	PatternHitsTotal    *prometheus.CounterVec // labels: type

	// Redis publisher
	RedisPublishDur   prometheus.Histogram
	RedisBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips prometheus.Counter
	RedisBuffered     prometheus.Counter
}

// NewMetrics registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsOn(prometheus.DefaultRegisterer)
}

// NewMetricsOn registers all metrics on the given registerer. Tests pass a
// private registry so parallel packages do not collide.
func NewMetricsOn(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdcore_messages_total",
			Help: "Raw feed messages received, by adapter",
		}, []string{"adapter"}),
		ParseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdcore_parse_failures_total",
			Help: "Feed messages that failed to parse, by adapter",
		}, []string{"adapter"}),
		DuplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdcore_duplicate_messages_total",
			Help: "Feed messages dropped as duplicates, by adapter",
		}, []string{"adapter"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdcore_ws_reconnects_total",
			Help: "WebSocket reconnection attempts",
		}),
		AdapterState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mdcore_adapter_state",
			Help: "Adapter connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=failed)",
		}, []string{"adapter"}),
		QualityScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mdcore_adapter_quality_score",
			Help: "Data quality score per adapter (0..1)",
		}, []string{"adapter"}),

		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdcore_bars_total",
			Help: "Bars accepted into buffers, by timeframe",
		}, []string{"tf"}),
		RejectedBars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdcore_rejected_bars_total",
			Help: "Bars rejected for timestamp ordering, by timeframe",
		}, []string{"tf"}),
		ClockSkewEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdcore_clock_skew_events_total",
			Help: "Bars outside the clock-skew tolerance, by timeframe",
		}, []string{"tf"}),
		BufferOccupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mdcore_buffer_occupancy",
			Help: "Current bar count per timeframe buffer",
		}, []string{"tf"}),
		SyncState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mdcore_sync_state",
			Help: "Per-timeframe synchronization state (0/1)",
		}, []string{"tf"}),
		SyncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdcore_sync_check_duration_seconds",
			Help:    "Synchronization check latency",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}),
		SyncFires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdcore_sync_fires_total",
			Help: "Times all timeframes became synchronized",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdcore_indicator_compute_duration_seconds",
			Help:    "Indicator set compute latency per timeframe window",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
		}),
		PatternHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdcore_pattern_hits_total",
			Help: "Detected patterns above the confidence floor, by type",
		}, []string{"type"}),

		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdcore_redis_publish_duration_seconds",
			Help:    "Redis publish pipeline latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdcore_redis_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdcore_redis_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mdcore_redis_buffered_publishes_total",
			Help: "Publishes buffered locally while the breaker was open",
		}),
	}

	reg.MustRegister(
		m.MessagesTotal,
		m.ParseFailures,
		m.DuplicatesTotal,
		m.WSReconnects,
		m.AdapterState,
		m.QualityScore,
		m.BarsTotal,
		m.RejectedBars,
		m.ClockSkewEvents,
		m.BufferOccupancy,
		m.SyncState,
		m.SyncLatency,
		m.SyncFires,
		m.IndicatorComputeDur,
		m.PatternHitsTotal,
		m.RedisPublishDur,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.RedisBuffered,
	)
	return m
}

// HealthStatus tracks liveness of the pipeline's moving parts.
type HealthStatus struct {
	mu sync.RWMutex

	AdapterConnected bool            `json:"adapter_connected"`
	LastBarTime      time.Time       `json:"last_bar_time"`
	RedisConnected   bool            `json:"redis_connected"`
	Synchronized     map[string]bool `json:"synchronized"`

	RedisLatencyMs float64   `json:"redis_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		Synchronized: make(map[string]bool),
		StartedAt:    time.Now(),
	}
}

func (h *HealthStatus) SetAdapterConnected(v bool) {
	h.mu.Lock()
	h.AdapterConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSynchronized(tf string, v bool) {
	h.mu.Lock()
	h.Synchronized[tf] = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency probes until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if rdb != nil {
					probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
					h.CheckRedis(probeCtx, rdb)
					cancel()
				}
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	httpCode := http.StatusOK
	if !h.AdapterConnected || !h.RedisConnected {
		overall = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string          `json:"status"`
		Uptime           string          `json:"uptime"`
		AdapterConnected bool            `json:"adapter_connected"`
		LastBarTime      string          `json:"last_bar_time"`
		BarAge           string          `json:"bar_age"`
		RedisConnected   bool            `json:"redis_connected"`
		RedisLatencyMs   float64         `json:"redis_latency_ms"`
		Synchronized     map[string]bool `json:"synchronized"`
		LastCheckAt      string          `json:"last_check_at"`
	}{
		Status:           overall,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		AdapterConnected: h.AdapterConnected,
		LastBarTime:      h.LastBarTime.Format(time.RFC3339),
		BarAge:           barAge,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		Synchronized:     h.Synchronized,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	log  *slog.Logger
	srv  *http.Server
}

// NewServer creates the metrics and health server.
func NewServer(addr string, health *HealthStatus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		log:  log,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server failed", "err", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
