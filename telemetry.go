package sdk

import (
	"context"
	"net/http"
	"time"
)

// Metric names emitted through TelemetryHooks.OnMetric.
const (
	MetricHTTPLatency       = "sdk_http_request_latency_ms"
	MetricRequestRetry      = "sdk_request_retry"
	MetricTokenRefresh      = "sdk_token_refresh"
	MetricCacheHit          = "sdk_cache_hit"
	MetricCacheMiss         = "sdk_cache_miss"
	MetricSessionExpired    = "sdk_session_expired"
	MetricRealtimeReconnect = "sdk_realtime_reconnect"
)

// TelemetryHooks expose observability callbacks without forcing dependencies on the caller.
type TelemetryHooks struct {
	// OnHTTPRequest fires before every attempt is sent.
	OnHTTPRequest func(ctx context.Context, req *http.Request)
	// OnHTTPResponse fires after the attempt completes (even when err != nil).
	OnHTTPResponse func(ctx context.Context, req *http.Request, resp *http.Response, err error, latency time.Duration)
	// OnMetric records lightweight counters for dashboards. See the metrics
	// package for a Prometheus adapter.
	OnMetric func(ctx context.Context, metric Metric)
}

// Metric represents a single observability datapoint.
type Metric struct {
	Name   string
	Value  float64
	Labels map[string]string
}

func (t TelemetryHooks) metric(ctx context.Context, name string, value float64, labels map[string]string) {
	if t.OnMetric == nil {
		return
	}
	t.OnMetric(ctx, Metric{Name: name, Value: value, Labels: labels})
}
