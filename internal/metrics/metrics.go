// Package metrics exposes Prometheus collectors for HTTP traffic and ledger activity.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scenariomarket/internal/events"
)

const namespace = "scenario_market"

// Metrics holds the collectors on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	events       *prometheus.CounterVec
	staked       prometheus.Counter
	paidOut      *prometheus.CounterVec
	wheelPrizes  *prometheus.CounterVec
	prizePool    prometheus.Gauge
	openWarnings prometheus.Counter
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "Committed ledger operations by event type.",
		}, []string{"type"}),
		staked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scenarios",
			Name:      "staked_total",
			Help:      "Token units staked on scenarios.",
		}),
		paidOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scenarios",
			Name:      "paid_out_total",
			Help:      "Token units paid out of scenarios, by kind.",
		}, []string{"kind"}),
		wheelPrizes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wheel",
			Name:      "spins_total",
			Help:      "Wheel spins by prize tier.",
		}, []string{"tier"}),
		prizePool: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wheel",
			Name:      "prize_pool",
			Help:      "Prize pool after the last wheel operation.",
		}),
		openWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scenarios",
			Name:      "resolution_warnings_total",
			Help:      "Warnings issued for scenarios awaiting resolution.",
		}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.events,
		m.staked,
		m.paidOut,
		m.wheelPrizes,
		m.prizePool,
		m.openWarnings,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler returns an HTTP handler exposing the registered metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Attach counts every event published on bus
func (m *Metrics) Attach(bus *events.Bus) func() {
	return bus.Subscribe(m.Observe)
}

// Observe records one ledger event
func (m *Metrics) Observe(e events.Event) {
	m.events.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case events.BetPlaced:
		m.staked.Add(float64(e.Amount))
	case events.WinningsClaimed:
		m.paidOut.WithLabelValues("winnings").Add(float64(e.Amount))
	case events.AdminFeeClaimed:
		m.paidOut.WithLabelValues("admin_fee").Add(float64(e.Amount))
	case events.EmergencyWindow:
		m.openWarnings.Inc()
	case events.WheelSpun:
		m.wheelPrizes.WithLabelValues(e.Metadata["tier"]).Inc()
	}

	if pool, ok := e.Metadata["prize_pool"]; ok {
		if v, err := strconv.ParseUint(pool, 10, 64); err == nil {
			m.prizePool.Set(float64(v))
		}
	}
}

// Instrument wraps next with HTTP request metrics. Paths are labelled with
// the chi route pattern so ids do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		method := strings.ToUpper(r.Method)

		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer for websocket upgrades
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
