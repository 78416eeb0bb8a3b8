// Package metrics exposes Prometheus counters for the proxy pool, the
// browser pool, the task scheduler and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const DefaultNamespace = "airdrop"

// Collector owns a private registry so several instances can coexist in
// tests without colliding on the default one.
type Collector struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	sessionsActive    *prometheus.GaugeVec
	sessionsOpened    *prometheus.CounterVec
	sessionsClosed    *prometheus.CounterVec
	sessionLifetime   *prometheus.HistogramVec
	sessionsRejected  prometheus.Counter
	sessionLaunchFail prometheus.Counter

	stepsTotal    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	capacityWaits prometheus.Counter
	tasksFinished *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New(namespace string, logger *zap.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.probesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_probes_total",
		Help:      "Proxy connectivity probes by result and cache hit",
	}, []string{"result", "cached"})
	c.probeDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "proxy_probe_duration_seconds",
		Help:      "Proxy probe latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"result"})

	c.sessionsActive = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "browser_sessions_active",
		Help:      "Live browser sessions",
	}, []string{"driver"})
	c.sessionsOpened = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "browser_sessions_opened_total",
		Help:      "Browser sessions started",
	}, []string{"driver"})
	c.sessionsClosed = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "browser_sessions_closed_total",
		Help:      "Browser sessions torn down by reason",
	}, []string{"driver", "reason"})
	c.sessionLifetime = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "browser_session_lifetime_seconds",
		Help:      "Browser session lifetime in seconds",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"driver"})
	c.sessionsRejected = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "browser_sessions_rejected_total",
		Help:      "Session requests refused because the pool was full",
	})
	c.sessionLaunchFail = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "browser_launch_failures_total",
		Help:      "Browser launches that failed",
	})

	c.stepsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_steps_total",
		Help:      "Per-account interaction attempts by outcome",
	}, []string{"outcome"})
	c.stepDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scheduler_step_duration_seconds",
		Help:      "Interaction attempt duration in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"outcome"})
	c.capacityWaits = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_capacity_waits_total",
		Help:      "Times a worker backed off because the session pool was full",
	})
	c.tasksFinished = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_tasks_finished_total",
		Help:      "Tasks that reached a terminal state",
	}, []string{"state"})

	c.httpRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	c.httpDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	c.logger.Debug("metrics collector ready", zap.String("namespace", namespace))
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveProbe(ok bool, cached bool, d time.Duration) {
	result := resultLabel(ok)
	c.probesTotal.WithLabelValues(result, strconv.FormatBool(cached)).Inc()
	if !cached {
		c.probeDuration.WithLabelValues(result).Observe(d.Seconds())
	}
}

func (c *Collector) SessionOpened(driver string) {
	c.sessionsOpened.WithLabelValues(driver).Inc()
	c.sessionsActive.WithLabelValues(driver).Inc()
}

func (c *Collector) SessionClosed(driver, reason string, lifetime time.Duration) {
	c.sessionsClosed.WithLabelValues(driver, reason).Inc()
	c.sessionsActive.WithLabelValues(driver).Dec()
	c.sessionLifetime.WithLabelValues(driver).Observe(lifetime.Seconds())
}

func (c *Collector) SessionRejected() { c.sessionsRejected.Inc() }

func (c *Collector) SessionLaunchFailed() { c.sessionLaunchFail.Inc() }

func (c *Collector) ObserveStep(outcome string, d time.Duration) {
	c.stepsTotal.WithLabelValues(outcome).Inc()
	c.stepDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (c *Collector) CapacityWait() { c.capacityWaits.Inc() }

func (c *Collector) TaskFinished(state string) { c.tasksFinished.WithLabelValues(state).Inc() }

// RecordHTTPRequest counts one API call. path should be the route pattern,
// not the raw URL, to keep label cardinality bounded.
func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
