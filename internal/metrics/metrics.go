// Package metrics exposes Prometheus collectors for the audit service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	auditJobsTotal            *prometheus.CounterVec
	auditJobDurationSeconds   prometheus.Histogram
	auditPagesScannedTotal    prometheus.Counter
	auditRuleFailuresTotal    *prometheus.CounterVec
	auditJobsInFlight         prometheus.Gauge
	broadcastSubscribersGauge prometheus.Gauge
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		auditJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_jobs_total",
				Help: "Total audit jobs finished, labeled by terminal status and site.",
			},
			[]string{"status", "site"},
		)

		auditJobDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "audit_job_duration_seconds",
				Help:    "Histogram of end-to-end audit durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		auditPagesScannedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_pages_scanned_total",
				Help: "Total resources visited across all audits.",
			},
		)

		auditRuleFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_rule_failures_total",
				Help: "Total rule failures recorded, labeled by rule name.",
			},
			[]string{"rule"},
		)

		auditJobsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "audit_jobs_in_flight",
				Help: "Audits currently executing (0 or 1 per instance).",
			},
		)

		broadcastSubscribersGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "audit_event_subscribers",
				Help: "Live event-stream subscribers across all jobs.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a raw URL or domain.
// It returns "unknown" if the input cannot be parsed.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns the http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records a finished job and its duration. The site label is
// sanitized to a bare hostname to keep cardinality bounded.
func ObserveJob(status, site string, duration time.Duration) {
	Init()
	auditJobsTotal.WithLabelValues(status, SanitizeSite(site)).Inc()
	auditJobDurationSeconds.Observe(duration.Seconds())
}

// AddPagesScanned bumps the visited-resource counter.
func AddPagesScanned(n int) {
	Init()
	if n > 0 {
		auditPagesScannedTotal.Add(float64(n))
	}
}

// ObserveRuleFailure records one failing rule evaluation.
func ObserveRuleFailure(rule string) {
	Init()
	auditRuleFailuresTotal.WithLabelValues(rule).Inc()
}

// SetJobInFlight flips the in-flight gauge.
func SetJobInFlight(active bool) {
	Init()
	if active {
		auditJobsInFlight.Set(1)
		return
	}
	auditJobsInFlight.Set(0)
}

// IncSubscribers tracks one new event-stream subscriber.
func IncSubscribers() {
	Init()
	broadcastSubscribersGauge.Inc()
}

// DecSubscribers tracks one departed event-stream subscriber.
func DecSubscribers() {
	Init()
	broadcastSubscribersGauge.Dec()
}

// ObserveHTTPRequest records one HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
