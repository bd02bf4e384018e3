package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/maintdesk/maintdesk/sdk/go/auth"
	"github.com/maintdesk/maintdesk/sdk/go/cache"
	"github.com/maintdesk/maintdesk/sdk/go/realtime"
	"github.com/maintdesk/maintdesk/sdk/go/routes"
)

const (
	defaultBaseURL        = "http://localhost:8000/api/v1"
	defaultUserAgent      = "maintdesk-sdk-go/" + Version
	defaultRequestTimeout = 30 * time.Second
)

// CacheConfig tunes the read cache. The zero value means 5 minute entries,
// at most 100 of them.
type CacheConfig struct {
	Disabled bool
	TTL      time.Duration
	MaxSize  int
}

// RealtimeConfig tunes the job event channel. Zero values mean a 1s base
// delay and 5 attempts.
type RealtimeConfig struct {
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// Config wires the base URL, session handling, caching, and telemetry for
// the API client.
type Config struct {
	BaseURL string
	// HTTPClient is shared by API calls, token calls, and the event stream.
	// The default client carries a cookie jar so the CSRF cookie sticks.
	HTTPClient *http.Client
	UserAgent  string
	// Timeout bounds every attempt, including token refreshes.
	Timeout time.Duration
	// Retry overrides the transient-failure policy; nil means 2 retries
	// with a 1s linear delay.
	Retry *RetryConfig
	// ExpiryBuffer is how long before exp a token is treated as expired.
	ExpiryBuffer time.Duration
	Cache        CacheConfig
	// CSRF supplies the anti-forgery token; nil fetches it from the
	// backend's csrf endpoint.
	CSRF     CSRFProvider
	Realtime RealtimeConfig
	Logger   *zerolog.Logger
	// Telemetry hooks observe every attempt and SDK counters.
	Telemetry TelemetryHooks
	// OnSessionExpired fires when the session is forcibly ended: the
	// refresh token was rejected, or a request was still unauthorized after
	// a refresh. Route the user to sign-in from here.
	OnSessionExpired func(err error)
}

// Client provides high-level helpers for interacting with the dashboard API.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	userAgent        string
	timeout          time.Duration
	retry            RetryConfig
	tokens           *auth.Coordinator
	authClient       *auth.Client
	cache            *cache.Cache[[]byte]
	csrf             CSRFProvider
	logger           zerolog.Logger
	telemetry        TelemetryHooks
	onSessionExpired func(error)
	realtimeCfg      RealtimeConfig
	sleep            func(ctx context.Context, d time.Duration) error

	channel *realtime.Channel

	// Grouped resource clients.
	Jobs      *ResourceClient
	Schedules *ResourceClient
	Inventory *ResourceClient
	Rooms     *ResourceClient
	Machines  *ResourceClient
}

// NewClient validates the configuration and returns a ready-to-use Client.
// The client starts signed out; call SignIn or SetSession.
func NewClient(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, ConfigError{Reason: err.Error()}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{Jar: jar}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	retry := defaultRetryConfig()
	if cfg.Retry != nil {
		retry = cfg.Retry.normalized()
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "maintdesk-sdk").Logger()
	}

	client := &Client{
		baseURL:          normalized,
		httpClient:       httpClient,
		userAgent:        ua,
		timeout:          timeout,
		retry:            retry,
		csrf:             cfg.CSRF,
		logger:           logger,
		telemetry:        cfg.Telemetry,
		onSessionExpired: cfg.OnSessionExpired,
		realtimeCfg:      cfg.Realtime,
		sleep:            sleepContext,
	}

	client.authClient, err = auth.NewClient(auth.Config{
		BaseURL:    normalized,
		HTTPClient: httpClient,
		UserAgent:  ua,
	})
	if err != nil {
		return nil, ConfigError{Reason: err.Error()}
	}
	client.tokens, err = auth.NewCoordinator(auth.CoordinatorConfig{
		Refresher:        client.authClient,
		ExpiryBuffer:     cfg.ExpiryBuffer,
		RefreshTimeout:   timeout,
		OnSessionExpired: client.handleSessionExpired,
		OnRefresh:        client.recordRefresh,
		Logger:           &client.logger,
	})
	if err != nil {
		return nil, ConfigError{Reason: err.Error()}
	}
	if !cfg.Cache.Disabled {
		client.cache = cache.New[[]byte](cache.WithTTL(cfg.Cache.TTL), cache.WithMaxSize(cfg.Cache.MaxSize))
	}
	if client.csrf == nil {
		client.csrf, err = NewEndpointCSRF(normalized, httpClient)
		if err != nil {
			return nil, err
		}
	}

	client.Jobs = newResourceClient(client, "jobs", routes.Jobs)
	client.Schedules = newResourceClient(client, "pm-schedules", routes.PMSchedules)
	client.Inventory = newResourceClient(client, "inventory", routes.Inventory)
	client.Rooms = newResourceClient(client, "rooms", routes.Rooms)
	client.Machines = newResourceClient(client, "machines", routes.Machines)
	if client.channel, err = client.newChannel(); err != nil {
		return nil, err
	}
	return client, nil
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("sdk: base URL required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("sdk: invalid base URL: %w", err)
	}
	if u.Scheme == "" {
		return "", errors.New("sdk: base URL missing scheme (http/https)")
	}
	if u.Host == "" {
		return "", errors.New("sdk: base URL missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return strings.TrimSuffix(u.String(), "/"), nil
}

// RequestOption customizes a single call.
type RequestOption func(*request)

// WithQuery sets the query string. For reads it is also part of the cache key.
func WithQuery(params url.Values) RequestOption {
	return func(r *request) { r.query = params }
}

// WithHeader adds a header to every attempt of the call.
func WithHeader(key, value string) RequestOption {
	return func(r *request) {
		if r.headers == nil {
			r.headers = make(http.Header)
		}
		r.headers.Set(key, value)
	}
}

// WithCacheKey overrides the derived cache key of a read.
func WithCacheKey(key string) RequestOption {
	return func(r *request) { r.cacheKey = key }
}

// WithoutCache bypasses the cache for a read; the result is not stored.
func WithoutCache() RequestOption {
	return func(r *request) { r.noCache = true }
}

// WithInvalidation replaces the cache patterns a successful write clears.
// By default a write clears every key of its path's first segment.
func WithInvalidation(patterns ...string) RequestOption {
	return func(r *request) { r.invalidate = patterns }
}

type request struct {
	method     string
	path       string
	query      url.Values
	body       any
	headers    http.Header
	cacheKey   string
	noCache    bool
	invalidate []string
}

func (r request) public() bool {
	return routes.IsAuthRoute(r.path) || r.path == routes.CSRFToken
}

// Do sends one request through the pipeline and decodes the JSON response
// into out (nil discards it). GET responses are served from and stored in
// the cache; other methods clear the affected cache keys on success.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...RequestOption) error {
	r := request{method: strings.ToUpper(method), path: path, body: body}
	for _, opt := range opts {
		opt(&r)
	}
	if r.method == http.MethodGet {
		return c.read(ctx, r, out)
	}
	data, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	if isMutation(r.method) {
		c.invalidateAfterWrite(r)
	}
	return decodeInto(data, out)
}

// Get reads path into out.
func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodGet, path, nil, out, opts...)
}

// Post creates or triggers an action at path.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPost, path, body, out, opts...)
}

// Put replaces the resource at path.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPut, path, body, out, opts...)
}

// Patch partially updates the resource at path.
func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPatch, path, body, out, opts...)
}

// Delete removes the resource at path.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, opts...)
}

// InvalidateCache drops cached reads whose key contains pattern; an empty
// pattern drops everything. It returns the number of entries removed.
func (c *Client) InvalidateCache(pattern string) int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Invalidate(pattern)
}

func (c *Client) read(ctx context.Context, r request, out any) error {
	useCache := c.cache != nil && !r.noCache
	key := r.cacheKey
	if key == "" {
		key = cache.Key(resourceKey(r.path), r.query)
	}
	if useCache {
		if data, ok := c.cache.Get(key); ok {
			c.telemetry.metric(ctx, MetricCacheHit, 1, map[string]string{"resource": resourceFamily(r.path)})
			return decodeInto(data, out)
		}
		c.telemetry.metric(ctx, MetricCacheMiss, 1, map[string]string{"resource": resourceFamily(r.path)})
	}
	data, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	if useCache {
		c.cache.Set(key, data)
	}
	return decodeInto(data, out)
}

func (c *Client) invalidateAfterWrite(r request) {
	if c.cache == nil {
		return
	}
	patterns := r.invalidate
	if patterns == nil {
		patterns = []string{resourceFamily(r.path)}
	}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		n := c.cache.Invalidate(p)
		c.logger.Debug().Str("pattern", p).Int("removed", n).Msg("cache_invalidate")
	}
}

// do runs the request pipeline: bearer token, CSRF header, per-attempt
// timeout, one refresh on 401, and bounded retries on transient failures.
// Every attempt carries the same request id.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	body, encErr := encodeBody(r.body)
	if encErr != nil {
		return nil, encErr
	}
	requestID := uuid.NewString()
	public := r.public()

	var token, csrf string
	haveCSRF := !isMutation(r.method) || body.binary || c.csrf == nil
	refreshed, csrfRenewed := false, false
	retries := 0
	for {
		var (
			data []byte
			err  error
		)
		if !public {
			if token, err = c.tokens.Token(ctx); err != nil {
				return nil, c.authFailure(err, requestID)
			}
		}
		if !haveCSRF {
			csrf, err = c.csrfToken(ctx, requestID)
			haveCSRF = err == nil
		}
		if err == nil {
			data, err = c.attempt(ctx, r, body, token, csrf, requestID)
		}
		if err == nil {
			return data, nil
		}
		apiErr, ok := asAPIError(err)
		if !ok {
			return nil, err
		}

		switch {
		case apiErr.Status == http.StatusUnauthorized && !public:
			if refreshed {
				c.logger.Warn().Str("request_id", requestID).Str("path", r.path).Msg("unauthorized_after_refresh")
				c.expireSession(apiErr)
				return nil, apiErr
			}
			refreshed = true
			if _, err := c.tokens.Invalidate(ctx, token); err != nil {
				return nil, c.authFailure(err, requestID)
			}
			continue
		case !csrfRenewed && csrf != "" && isCSRFRejection(apiErr):
			resetter, ok := c.csrf.(csrfResetter)
			if !ok {
				return nil, apiErr
			}
			csrfRenewed = true
			resetter.Reset()
			haveCSRF = false
			c.logger.Debug().Str("request_id", requestID).Str("path", r.path).Msg("csrf_renew")
			continue
		case shouldRetry(apiErr) && retries < c.retry.MaxRetries:
			retries++
			delay := c.retry.backoffDelay(retries)
			c.logger.Warn().
				Str("request_id", requestID).
				Str("method", r.method).
				Str("path", r.path).
				Int("status", apiErr.Status).
				Int("retry", retries).
				Dur("delay", delay).
				Msg("request_retry")
			c.telemetry.metric(ctx, MetricRequestRetry, 1, map[string]string{
				"kind": string(apiErr.Kind),
				"path": r.path,
			})
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}
		return nil, apiErr
	}
}

// csrfToken asks the provider for the anti-forgery token under the same
// per-attempt bound as the request. A stalled fetch becomes a 408 and is
// retried like any other timeout.
func (c *Client) csrfToken(ctx context.Context, requestID string) (string, error) {
	csrfCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := c.csrf.CSRFToken(csrfCtx)
	if err == nil {
		return tok, nil
	}
	if apiErr, ok := asAPIError(err); ok && apiErr.Status != 0 {
		apiErr.RequestID = requestID
		return "", apiErr
	}
	return "", transportFailure(ctx, csrfCtx, err, requestID)
}

func (c *Client) attempt(ctx context.Context, r request, body encodedBody, token, csrf, requestID string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(attemptCtx, r, body)
	if err != nil {
		return nil, err
	}
	headerChain{
		requestIDHeader{id: requestID},
		bearerAuth{token: token},
		csrfHeader{token: csrf},
	}.Apply(req)

	resp, err := c.send(req)
	if err != nil {
		return nil, transportFailure(ctx, attemptCtx, err, requestID)
	}
	//nolint:errcheck // best-effort cleanup on return
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp, requestID)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportFailure(ctx, attemptCtx, err, requestID)
	}
	return data, nil
}

func (c *Client) newRequest(ctx context.Context, r request, body encodedBody) (*http.Request, error) {
	target := c.buildURL(r.path)
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	var reader io.Reader
	if body.data != nil {
		reader = bytes.NewReader(body.data)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, reader)
	if err != nil {
		return nil, err
	}
	if body.contentType != "" {
		req.Header.Set("Content-Type", body.contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range r.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	injectTraceparent(ctx, req)
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.telemetry.OnHTTPRequest != nil {
		c.telemetry.OnHTTPRequest(ctx, req)
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if c.telemetry.OnHTTPResponse != nil {
		c.telemetry.OnHTTPResponse(ctx, req, resp, err, latency)
	}
	c.telemetry.metric(ctx, MetricHTTPLatency, float64(latency.Milliseconds()), map[string]string{
		"path": req.URL.Path,
	})
	evt := c.logger.Debug().Str("method", req.Method).Str("path", req.URL.Path).Dur("latency", latency)
	if err != nil {
		evt.Err(err).Msg("http_request")
		return nil, err
	}
	evt.Int("status", resp.StatusCode).Msg("http_request")
	return resp, nil
}

func (c *Client) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// transportFailure maps a failed round trip. The caller's own cancellation
// is returned unchanged; the per-attempt deadline becomes a timeout.
func transportFailure(ctx, attemptCtx context.Context, err error, requestID string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || isNetTimeout(err) {
		return timeoutError(requestID, err)
	}
	return APIError{
		Kind:      ErrorKindUnknown,
		Message:   "request failed: " + err.Error(),
		RequestID: requestID,
		Cause:     err,
	}
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) authFailure(err error, requestID string) error {
	if !errors.Is(err, auth.ErrSessionExpired) && !errors.Is(err, auth.ErrNoSession) {
		// The caller gave up while waiting on a refresh.
		return err
	}
	msg := "session expired"
	if errors.Is(err, auth.ErrNoSession) {
		msg = "not signed in"
	}
	return APIError{
		Status:    http.StatusUnauthorized,
		Kind:      ErrorKindAuth,
		Message:   msg,
		RequestID: requestID,
		Cause:     err,
	}
}

// isCSRFRejection matches the 403 a backend sends for a missing or stale
// anti-forgery token, e.g. "CSRF Failed: CSRF token missing or incorrect.".
func isCSRFRejection(err APIError) bool {
	return err.Status == http.StatusForbidden && strings.Contains(strings.ToLower(err.Message), "csrf")
}

func isMutation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func decodeInto(data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, out)
}

// resourceKey turns "/jobs/42/" into "jobs/42".
func resourceKey(path string) string {
	if u, err := url.Parse(path); err == nil && u.Path != "" {
		path = u.Path
	}
	return strings.Trim(path, "/")
}

// resourceFamily turns "/jobs/42/" into "jobs".
func resourceFamily(path string) string {
	key := resourceKey(path)
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}
