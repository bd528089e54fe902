package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the compute engine. One set
// serves both the aggregator and the coordinator; each service touches the
// counters relevant to it.
type Metrics struct {
	// Aggregator
	TicksTotal      prometheus.Counter
	CandlesTotal    *prometheus.CounterVec // labels: tf
	DroppedTicks    prometheus.Counter
	QueueOverflow   prometheus.Counter
	DecodeErrors    *prometheus.CounterVec // labels: kind
	PublishFailures prometheus.Counter

	// Coordinator
	EventsTotal       *prometheus.CounterVec // labels: kind
	SymbolMismatches  prometheus.Counter
	OutputsPublished  *prometheus.CounterVec // labels: role
	NodeComputeErrors *prometheus.CounterVec // labels: node
	WarmStartFailures prometheus.Counter
}

// New registers and returns the engine metrics.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ticks_total",
			Help: "Total ticks consumed from the bus",
		}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_candles_total",
			Help: "Total candles emitted (by timeframe)",
		}, []string{"tf"}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_dropped_ticks_total",
			Help: "Ticks dropped (late arrival or queue full)",
		}),
		QueueOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_publish_queue_overflow_total",
			Help: "Finalized candles dropped because the publish queue was full",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_decode_errors_total",
			Help: "Undecodable bus payloads (by payload kind)",
		}, []string{"kind"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_publish_failures_total",
			Help: "Bus publishes that failed",
		}),

		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_events_total",
			Help: "Events dispatched through the DAG (by kind)",
		}, []string{"kind"}),
		SymbolMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_symbol_mismatches_total",
			Help: "Events dropped because the payload symbol was foreign",
		}),
		OutputsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_outputs_published_total",
			Help: "Node outputs published (by role)",
		}, []string{"role"}),
		NodeComputeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_node_compute_errors_total",
			Help: "Node compute failures (by node id)",
		}, []string{"node"}),
		WarmStartFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_warmstart_failures_total",
			Help: "Nodes that failed to warm start and began cold",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.DroppedTicks,
		m.QueueOverflow,
		m.DecodeErrors,
		m.PublishFailures,
		m.EventsTotal,
		m.SymbolMismatches,
		m.OutputsPublished,
		m.NodeComputeErrors,
		m.WarmStartFailures,
	)

	return m
}

// Pinger is any dependency with a cheap liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus tracks service health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	BusConnected  bool      `json:"bus_connected"`
	LastEventTime time.Time `json:"last_event_time"`
	DepsOK        bool      `json:"deps_ok"`
	StartedAt     time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{DepsOK: true, StartedAt: time.Now()}
}

func (h *HealthStatus) SetBusConnected(v bool) {
	h.mu.Lock()
	h.BusConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

// StartLivenessChecker probes the given dependencies on an interval.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration, deps ...Pinger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				ok := true
				for _, dep := range deps {
					if err := dep.Ping(probeCtx); err != nil {
						ok = false
					}
				}
				cancel()
				h.mu.Lock()
				h.DepsOK = ok
				h.mu.Unlock()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.BusConnected || !h.DepsOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	eventAge := ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	body := struct {
		Status       string `json:"status"`
		Uptime       string `json:"uptime"`
		BusConnected bool   `json:"bus_connected"`
		DepsOK       bool   `json:"deps_ok"`
		LastEvent    string `json:"last_event_time"`
		EventAge     string `json:"event_age"`
	}{
		Status:       status,
		Uptime:       time.Since(h.StartedAt).Round(time.Second).String(),
		BusConnected: h.BusConnected,
		DepsOK:       h.DepsOK,
		LastEvent:    h.LastEventTime.Format(time.RFC3339),
		EventAge:     eventAge,
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(body)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening",
			slog.String("component", "metrics"), slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error",
				slog.String("component", "metrics"), slog.Any("err", err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
