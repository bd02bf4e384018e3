// Package auth provides token handling for the maintdesk SDK: the token pair
// store, the sign-in/refresh endpoints and the single-flight refresh coordinator.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpiryBuffer is subtracted from the access token's exp claim so the
// SDK refreshes before the backend starts rejecting the token.
const DefaultExpiryBuffer = 60 * time.Second

// ErrMissingExpiry is returned for access tokens without an exp claim.
var ErrMissingExpiry = errors.New("sdk/auth: access token has no exp claim")

// Claims is the subset of the access token contract the SDK reads.
//
// The signature is not verified client-side; the backend does that on every
// request. The SDK only needs the expiry for proactive refresh.
type Claims struct {
	UserID    string `json:"user_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`

	jwt.RegisteredClaims
}

// ParseClaims decodes the payload of an access token without verifying it.
func ParseClaims(token string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("sdk/auth: parse access token: %w", err)
	}
	return &claims, nil
}

// ExpiresAt returns the instant after which token must be refreshed: the exp
// claim minus buffer.
func ExpiresAt(token string, buffer time.Duration) (time.Time, error) {
	claims, err := ParseClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrMissingExpiry
	}
	return claims.ExpiresAt.Add(-buffer), nil
}
