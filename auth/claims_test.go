package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestExpiresAtSubtractsBuffer(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	token := mintToken(t, exp)

	got, err := ExpiresAt(token, DefaultExpiryBuffer)
	require.NoError(t, err)
	assert.True(t, got.Equal(exp.Add(-DefaultExpiryBuffer)), "got %v", got)
}

func TestExpiresAtRejectsTokensWithoutExp(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-1"})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = ExpiresAt(signed, DefaultExpiryBuffer)
	assert.True(t, errors.Is(err, ErrMissingExpiry), "got %v", err)
}

func TestExpiresAtRejectsOpaqueTokens(t *testing.T) {
	_, err := ExpiresAt("not-a-jwt", DefaultExpiryBuffer)
	assert.Error(t, err)
}

func TestNewTokenPair(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	access := mintToken(t, exp)

	pair, err := NewTokenPair(" "+access+" ", "refresh-1", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, access, pair.AccessToken)
	assert.Equal(t, "refresh-1", pair.RefreshToken)
	assert.True(t, pair.ExpiresAt.Equal(exp.Add(-30*time.Second)))

	_, err = NewTokenPair("", "refresh-1", time.Minute)
	assert.Error(t, err)
}

func TestOAuth2RoundTrip(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	access := mintToken(t, exp)

	// Expiry on the oauth2 token is ignored in favour of the exp claim.
	pair, err := PairFromOAuth2(&oauth2.Token{
		AccessToken:  access,
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(24 * time.Hour),
	}, DefaultExpiryBuffer)
	require.NoError(t, err)
	assert.True(t, pair.ExpiresAt.Equal(exp.Add(-DefaultExpiryBuffer)))

	tok := pair.OAuth2()
	assert.Equal(t, access, tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)

	_, err = PairFromOAuth2(nil, DefaultExpiryBuffer)
	assert.Error(t, err)
}
