package auth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// TokenPair is the session credential held by the SDK.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is derived from the access token's exp claim minus the
	// expiry buffer. It is never taken from anywhere else.
	ExpiresAt time.Time
}

// NewTokenPair builds a pair, deriving ExpiresAt from the access token.
func NewTokenPair(access, refresh string, buffer time.Duration) (TokenPair, error) {
	access = strings.TrimSpace(access)
	if access == "" {
		return TokenPair{}, errors.New("sdk/auth: access token required")
	}
	expiresAt, err := ExpiresAt(access, buffer)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: strings.TrimSpace(refresh),
		ExpiresAt:    expiresAt,
	}, nil
}

// PairFromOAuth2 adapts a token handed over by an oauth2-based identity
// provider. tok.Expiry is ignored; the expiry comes from the access token.
func PairFromOAuth2(tok *oauth2.Token, buffer time.Duration) (TokenPair, error) {
	if tok == nil {
		return TokenPair{}, errors.New("sdk/auth: oauth2 token is nil")
	}
	return NewTokenPair(tok.AccessToken, tok.RefreshToken, buffer)
}

// OAuth2 returns the pair as an *oauth2.Token for callers that hand the
// session to other oauth2-aware clients.
func (p TokenPair) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  p.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: p.RefreshToken,
		Expiry:       p.ExpiresAt,
	}
}

// tokenStore holds the current pair. It is owned by a Coordinator and only
// mutated from inside the coordinator's critical section.
type tokenStore struct {
	mu   sync.RWMutex
	pair *TokenPair
}

func (s *tokenStore) load() (TokenPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pair == nil {
		return TokenPair{}, false
	}
	return *s.pair, true
}

func (s *tokenStore) save(p TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = &p
}

func (s *tokenStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
}
