package sdk

import (
	"context"
	"net/http"
	"time"
)

const (
	defaultMaxRetries     = 2
	defaultRetryBaseDelay = time.Second
)

// RetryConfig controls how transient failures are retried. Only client-side
// timeouts and 502/503/504 responses are retried; the delay grows linearly
// (retry n waits n*BaseDelay).
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: defaultMaxRetries,
		BaseDelay:  defaultRetryBaseDelay,
	}
}

func (r RetryConfig) normalized() RetryConfig {
	cfg := r
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultRetryBaseDelay
	}
	return cfg
}

// backoffDelay returns the wait before retry number n (1-based).
func (r RetryConfig) backoffDelay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	return time.Duration(retry) * r.BaseDelay
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func shouldRetry(err APIError) bool {
	return err.Kind == ErrorKindTimeout || isRetryableStatus(err.Status)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
