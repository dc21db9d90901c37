// Package metrics holds the Prometheus collectors exported on /x/metrics.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linkgate"

type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	authDecisions *prometheus.CounterVec
	captchaErrors prometheus.Counter

	linksCreated  *prometheus.CounterVec
	linkConflicts prometheus.Counter
	slugRetries   prometheus.Counter
	linksDeleted  prometheus.Counter
	deleteErrors  prometheus.Counter

	storeOps *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
		authDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "decisions_total",
			Help:      "Authorization decisions by credential method.",
		}, []string{"method"}),
		captchaErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "captcha_errors_total",
			Help:      "CAPTCHA provider failures that produced no verdict.",
		}),
		linksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "links",
			Name:      "created_total",
			Help:      "Links created, by slug origin (custom or generated).",
		}, []string{"slug"}),
		linkConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "links",
			Name:      "conflicts_total",
			Help:      "Creation requests rejected because the slug was taken.",
		}),
		slugRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "links",
			Name:      "slug_retries_total",
			Help:      "Generated slugs discarded after colliding with an existing link.",
		}),
		linksDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "links",
			Name:      "deleted_total",
			Help:      "Slugs processed by batch deletion.",
		}),
		deleteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "links",
			Name:      "delete_errors_total",
			Help:      "Per-slug failures during batch deletion.",
		}),
		storeOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Link store call latency by operation and result.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op", "result"}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.authDecisions,
		m.captchaErrors,
		m.linksCreated,
		m.linkConflicts,
		m.slugRetries,
		m.linksDeleted,
		m.deleteErrors,
		m.storeOps,
	)
	return m
}

// NewWithRuntime is New plus the Go runtime and process collectors.
func NewWithRuntime(reg prometheus.Registerer) *Metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

// Handler serves the gathered metrics in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// InstrumentRoute wraps h with request counting and latency observation
// labelled by the route pattern.
func (m *Metrics) InstrumentRoute(route string, h http.Handler) http.Handler {
	if m == nil {
		return h
	}
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerCounter(
		m.httpRequests.MustCurryWith(labels),
		promhttp.InstrumentHandlerDuration(m.httpDuration.MustCurryWith(labels), h),
	)
}

func (m *Metrics) AuthDecision(method string) {
	if m == nil {
		return
	}
	m.authDecisions.WithLabelValues(method).Inc()
}

func (m *Metrics) CaptchaError() {
	if m == nil {
		return
	}
	m.captchaErrors.Inc()
}

// LinkCreated counts a stored link; generated reports whether the slug was server-generated.
func (m *Metrics) LinkCreated(generated bool) {
	if m == nil {
		return
	}
	origin := "custom"
	if generated {
		origin = "generated"
	}
	m.linksCreated.WithLabelValues(origin).Inc()
}

func (m *Metrics) LinkConflict() {
	if m == nil {
		return
	}
	m.linkConflicts.Inc()
}

func (m *Metrics) SlugRetry() {
	if m == nil {
		return
	}
	m.slugRetries.Inc()
}

func (m *Metrics) LinksDeleted(n, failed int) {
	if m == nil {
		return
	}
	m.linksDeleted.Add(float64(n))
	m.deleteErrors.Add(float64(failed))
}

// ObserveStore records the latency of one link store call.
func (m *Metrics) ObserveStore(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeOps.WithLabelValues(op, result).Observe(d.Seconds())
}
