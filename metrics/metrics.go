// Package metrics exports SDK telemetry to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	sdk "github.com/maintdesk/maintdesk/sdk/go"
)

const namespace = "maintdesk_sdk"

// Collector turns TelemetryHooks callbacks into Prometheus series.
type Collector struct {
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	sessionExpired prometheus.Counter
	reconnects     prometheus.Counter
}

// New creates a Collector and registers it with reg. A nil reg means the
// default registry.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP attempts sent to the dashboard API, by method and status code.",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Requests retried after a timeout or transient server error.",
		}, []string{"kind"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token refreshes by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Read cache lookups by resource and result.",
		}, []string{"resource", "result"}),
		sessionExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions ended by a failed refresh or a persistent 401.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_total",
			Help:      "Scheduled reconnects of the job event channel.",
		}),
	}
	for _, col := range []prometheus.Collector{
		c.requests, c.latency, c.retries, c.refreshes, c.cacheLookups, c.sessionExpired, c.reconnects,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Hooks returns telemetry hooks feeding this collector. Set them on
// sdk.Config.Telemetry.
func (c *Collector) Hooks() sdk.TelemetryHooks {
	return sdk.TelemetryHooks{
		OnHTTPResponse: c.observeResponse,
		OnMetric:       c.observeMetric,
	}
}

// Chain runs the collector's hooks after the ones already in hooks.
func (c *Collector) Chain(hooks sdk.TelemetryHooks) sdk.TelemetryHooks {
	mine := c.Hooks()
	out := hooks
	out.OnHTTPResponse = func(ctx context.Context, req *http.Request, resp *http.Response, err error, latency time.Duration) {
		if hooks.OnHTTPResponse != nil {
			hooks.OnHTTPResponse(ctx, req, resp, err, latency)
		}
		mine.OnHTTPResponse(ctx, req, resp, err, latency)
	}
	out.OnMetric = func(ctx context.Context, m sdk.Metric) {
		if hooks.OnMetric != nil {
			hooks.OnMetric(ctx, m)
		}
		mine.OnMetric(ctx, m)
	}
	return out
}

func (c *Collector) observeResponse(_ context.Context, req *http.Request, resp *http.Response, err error, latency time.Duration) {
	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	c.requests.WithLabelValues(req.Method, code).Inc()
	c.latency.WithLabelValues(req.Method).Observe(latency.Seconds())
}

func (c *Collector) observeMetric(_ context.Context, m sdk.Metric) {
	switch m.Name {
	case sdk.MetricRequestRetry:
		c.retries.WithLabelValues(m.Labels["kind"]).Add(m.Value)
	case sdk.MetricTokenRefresh:
		c.refreshes.WithLabelValues(m.Labels["outcome"]).Add(m.Value)
	case sdk.MetricCacheHit:
		c.cacheLookups.WithLabelValues(m.Labels["resource"], "hit").Add(m.Value)
	case sdk.MetricCacheMiss:
		c.cacheLookups.WithLabelValues(m.Labels["resource"], "miss").Add(m.Value)
	case sdk.MetricSessionExpired:
		c.sessionExpired.Add(m.Value)
	case sdk.MetricRealtimeReconnect:
		c.reconnects.Add(m.Value)
	}
}
