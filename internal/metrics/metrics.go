// Package metrics holds the Prometheus collectors of the dispatch core and the
// small HTTP router that exposes them. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "dme_dispatch"

// Metrics is the set of collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	optimizationCalls   *prometheus.CounterVec
	optimizationLatency *prometheus.HistogramVec
	persists            *prometheus.CounterVec
	conflicts           prometheus.Counter
	rollovers           prometheus.Counter
	archived            prometheus.Counter
	sessions            prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		optimizationCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimization_calls_total",
			Help:      "Optimizer calls by model and outcome",
		}, []string{"model", "outcome"}),
		optimizationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "optimization_duration_seconds",
			Help:      "Time spent waiting for the optimizer",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		}, []string{"model"}),
		persists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_total",
			Help:      "Writes to the backing table store by table and outcome",
		}, []string{"table", "outcome"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_conflicts_total",
			Help:      "Dispatched orders a new optimization tried to move",
		}),
		rollovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "day_rollovers_total",
			Help:      "Completed operating-day rollovers",
		}),
		archived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_archived_total",
			Help:      "Unresolved orders archived at rollover",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Dispatcher sessions currently held in memory",
		}),
	}
	reg.MustRegister(
		m.optimizationCalls, m.optimizationLatency, m.persists,
		m.conflicts, m.rollovers, m.archived, m.sessions,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveOptimization(model, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.optimizationCalls.WithLabelValues(model, outcome).Inc()
	m.optimizationLatency.WithLabelValues(model).Observe(d.Seconds())
}

func (m *Metrics) ObservePersist(table string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.persists.WithLabelValues(table, outcome).Inc()
}

func (m *Metrics) AddConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conflicts.Add(float64(n))
}

func (m *Metrics) ObserveRollover(archived int) {
	if m == nil {
		return
	}
	m.rollovers.Inc()
	m.archived.Add(float64(archived))
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// Router serves /metrics from m and /healthz from ready.
func Router(m *Metrics, ready func() error) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	handler := promhttp.Handler()
	if m != nil {
		handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	}
	r.GET("/metrics", gin.WrapH(handler))
	r.GET("/healthz", func(c *gin.Context) {
		if ready != nil {
			if err := ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// Serve runs handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
