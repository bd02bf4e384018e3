package auth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	resp    TokenResponse
	err     error
	lastReq atomic.Value
}

func (f *fakeRefresher) Refresh(ctx context.Context, req RefreshRequest) (TokenResponse, error) {
	f.calls.Add(1)
	f.lastReq.Store(req)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return TokenResponse{}, ctx.Err()
		}
	}
	return f.resp, f.err
}
