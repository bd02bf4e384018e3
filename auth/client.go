package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maintdesk/maintdesk/sdk/go/routes"
)

const (
	defaultUserAgent = "MaintdeskSDK/1"
	maxErrorBody     = 4 << 10
)

// ErrInvalidCredentials marks a sign-in the backend rejected (400/401). It
// is a user input problem, not a session failure.
var ErrInvalidCredentials = errors.New("sdk/auth: invalid credentials")

// Config controls how the auth client talks to the dashboard API.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

// Client talks to the two token endpoints directly. It never goes through
// the request pipeline, so a refresh cannot trigger another refresh.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Credentials are posted to the obtain endpoint.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest is posted to the refresh endpoint.
type RefreshRequest struct {
	RefreshToken string `json:"refresh"`
}

// TokenResponse is the body of both token endpoints. The refresh endpoint
// only includes RefreshToken when the backend rotates refresh tokens.
type TokenResponse struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh,omitempty"`
}

// Pair validates the response and turns it into a stored pair. previous is
// kept as the refresh token when the response did not rotate it; an access
// token without a readable exp is rejected.
func (r TokenResponse) Pair(previous string, buffer time.Duration) (TokenPair, error) {
	refresh := strings.TrimSpace(r.RefreshToken)
	if refresh == "" {
		refresh = previous
	}
	return NewTokenPair(strings.TrimSpace(r.AccessToken), refresh, buffer)
}

// Error is a non-2xx answer from a token endpoint.
type Error struct {
	Status int
	Body   string
	// Detail is the backend's "detail" message when the body carried one.
	Detail string
}

func (e Error) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	return fmt.Sprintf("sdk/auth: http %d: %s", e.Status, msg)
}

// Rejected reports whether the backend refused the request itself, as
// opposed to failing to serve it.
func (e Error) Rejected() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// NewClient constructs a Client with sane defaults.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("sdk/auth: base url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		baseURL:    strings.TrimSuffix(base, "/"),
		httpClient: client,
		userAgent:  ua,
	}, nil
}

// Login exchanges credentials for an access/refresh pair. Rejected
// credentials are reported as ErrInvalidCredentials wrapping the Error.
func (c *Client) Login(ctx context.Context, creds Credentials) (TokenResponse, error) {
	if strings.TrimSpace(creds.Username) == "" || strings.TrimSpace(creds.Password) == "" {
		return TokenResponse{}, fmt.Errorf("%w: username and password required", ErrInvalidCredentials)
	}
	tokens, err := c.exchange(ctx, routes.TokenObtain, creds)
	if err != nil {
		var httpErr Error
		if errors.As(err, &httpErr) && httpErr.Rejected() {
			return TokenResponse{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return TokenResponse{}, err
	}
	if strings.TrimSpace(tokens.RefreshToken) == "" {
		return TokenResponse{}, errors.New("sdk/auth: sign-in response missing refresh token")
	}
	return tokens, nil
}

// Refresh swaps a refresh token for a new access token, and a rotated
// refresh token when the backend issues one.
func (c *Client) Refresh(ctx context.Context, req RefreshRequest) (TokenResponse, error) {
	if strings.TrimSpace(req.RefreshToken) == "" {
		return TokenResponse{}, errors.New("sdk/auth: refresh token required")
	}
	return c.exchange(ctx, routes.TokenRefresh, req)
}

func (c *Client) exchange(ctx context.Context, path string, payload any) (TokenResponse, error) {
	resp, err := c.postJSON(ctx, path, payload)
	if err != nil {
		return TokenResponse{}, err
	}
	//nolint:errcheck // best-effort cleanup on return
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return TokenResponse{}, readError(resp)
	}
	var tokens TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return TokenResponse{}, fmt.Errorf("sdk/auth: decode %s: %w", path, err)
	}
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return TokenResponse{}, Error{Status: resp.StatusCode, Detail: "response missing access token"}
	}
	return tokens, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return c.httpClient.Do(req)
}

func readError(resp *http.Response) Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := Error{Status: resp.StatusCode, Body: string(body)}
	var payload struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Detail = strings.TrimSpace(payload.Detail)
	}
	return e
}
