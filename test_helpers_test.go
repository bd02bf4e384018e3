package sdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/maintdesk/maintdesk/sdk/go/auth"
)

const testAPIPrefix = "/api/v1"

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// sleepRecorder replaces the retry sleep so tests see the backoff schedule
// without waiting for it.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestClient(t *testing.T, srv *httptest.Server, mutate ...func(*Config)) (*Client, *sleepRecorder) {
	t.Helper()
	cfg := Config{
		BaseURL:    srv.URL + testAPIPrefix,
		HTTPClient: srv.Client(),
		CSRF:       StaticCSRF("csrf-1"),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new test client: %v", err)
	}
	rec := &sleepRecorder{}
	client.sleep = rec.sleep
	t.Cleanup(client.Close)
	return client, rec
}

func signIn(t *testing.T, c *Client, exp time.Time) string {
	t.Helper()
	access := mintToken(t, exp)
	if err := c.SetSession(access, "refresh-1"); err != nil {
		t.Fatalf("set session: %v", err)
	}
	return access
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within 1s")
		}
		time.Sleep(time.Millisecond)
	}
}
