// Package metrics exposes Prometheus collectors for the harvest request tool.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	harvestOutcomesTotal          *prometheus.CounterVec
	harvestFetchTotal             *prometheus.CounterVec
	harvestFetchBytesTotal        *prometheus.CounterVec
	harvestFetchDurationSeconds   *prometheus.HistogramVec
	harvestRateLimitDelaysSeconds *prometheus.HistogramVec
	harvestRequestElapsedSeconds  *prometheus.GaugeVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_request_outcomes_total",
				Help: "Total number of request/check invocations, labeled by mode and resulting status.",
			},
			[]string{"mode", "status"},
		)

		harvestFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_fetch_total",
				Help: "Total number of remote fetches, labeled by site and HTTP status code.",
			},
			[]string{"site", "code"},
		)

		harvestFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		harvestFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_fetch_duration_seconds",
				Help:    "Histogram of remote fetch latencies, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"site"},
		)

		harvestRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		harvestRequestElapsedSeconds = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvest_request_elapsed_seconds",
				Help: "Seconds since the outstanding request was submitted, as of the last check.",
			},
			[]string{"table_name"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOutcome increments the outcome counter for one invocation.
func ObserveOutcome(mode, status string) {
	Init()
	harvestOutcomesTotal.WithLabelValues(mode, status).Inc()
}

// ObserveFetch records one remote fetch.
func ObserveFetch(rawURL string, code int, bytesFetched int, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	harvestFetchTotal.WithLabelValues(site, strconv.Itoa(code)).Inc()
	if bytesFetched > 0 {
		harvestFetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	harvestFetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	harvestRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveElapsed records the age of an outstanding request.
func ObserveElapsed(tableName string, elapsed time.Duration) {
	Init()
	harvestRequestElapsedSeconds.WithLabelValues(tableName).Set(elapsed.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Pusher sends the default registry to a Prometheus pushgateway.
type Pusher struct {
	url      string
	job      string
	gatherer prometheus.Gatherer
}

// NewPusher creates a Pusher for the gateway at url. An empty url yields nil.
func NewPusher(gatewayURL, job string) *Pusher {
	if gatewayURL == "" {
		return nil
	}
	if job == "" {
		job = "ooi_harvest_request"
	}
	return &Pusher{url: gatewayURL, job: job, gatherer: prometheus.DefaultGatherer}
}

// Push replaces the metrics grouped under job and stream on the gateway.
func (p *Pusher) Push(ctx context.Context, tableName string) error {
	if p == nil {
		return nil
	}
	pusher := push.New(p.url, p.job).Gatherer(p.gatherer)
	if tableName != "" {
		pusher = pusher.Grouping("stream", tableName)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
