package sdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/maintdesk/maintdesk/sdk/go/routes"
)

const csrfCookieName = "csrftoken"

// CSRFProvider supplies the anti-forgery token attached to mutating JSON
// requests. An empty token means the header is omitted.
type CSRFProvider interface {
	CSRFToken(ctx context.Context) (string, error)
}

// StaticCSRF is a fixed token, typically read from the page that embeds the SDK.
type StaticCSRF string

func (s StaticCSRF) CSRFToken(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

type csrfCache struct {
	mu     sync.Mutex
	token  string
	cached bool
}

func (c *csrfCache) get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.cached
}

func (c *csrfCache) set(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.cached = true
}

func (c *csrfCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.cached = false
}

// EndpointCSRF fetches the token from the backend once and reuses it until
// Reset. The response body {"csrfToken": "..."} wins over the csrftoken
// cookie.
type EndpointCSRF struct {
	url        string
	httpClient *http.Client
	cache      csrfCache
}

// NewEndpointCSRF builds a provider for baseURL. The HTTP client should
// share its cookie jar with the API client so the token matches the session
// cookie.
func NewEndpointCSRF(baseURL string, httpClient *http.Client) (*EndpointCSRF, error) {
	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, ConfigError{Reason: err.Error()}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &EndpointCSRF{url: normalized + routes.CSRFToken, httpClient: httpClient}, nil
}

func (p *EndpointCSRF) CSRFToken(ctx context.Context) (string, error) {
	if tok, ok := p.cache.get(); ok {
		return tok, nil
	}
	tok, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	p.cache.set(tok)
	return tok, nil
}

// Reset drops the cached token; the next mutation fetches a fresh one. The
// client calls it when the backend rejects a token as stale.
func (p *EndpointCSRF) Reset() { p.cache.reset() }

// csrfResetter is implemented by providers that cache their token.
type csrfResetter interface {
	Reset()
}

func (p *EndpointCSRF) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	//nolint:errcheck // best-effort cleanup on return
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		// Backend without CSRF protection.
		return "", nil
	}
	if resp.StatusCode >= 400 {
		return "", decodeAPIError(resp, "")
	}
	var payload struct {
		CSRFToken string `json:"csrfToken"`
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return "", err
		}
	}
	if tok := strings.TrimSpace(payload.CSRFToken); tok != "" {
		return tok, nil
	}
	for _, c := range resp.Cookies() {
		if c.Name == csrfCookieName {
			return c.Value, nil
		}
	}
	return "", nil
}
