package sdk

import (
	"context"
	"errors"

	"golang.org/x/oauth2"

	"github.com/maintdesk/maintdesk/sdk/go/auth"
)

// SignIn exchanges credentials for a token pair and starts a new session.
// Cached reads from any previous session are dropped. Rejected credentials
// come back as a validation error, never as an auth error: IsAuthError is
// reserved for sessions that ended.
func (c *Client) SignIn(ctx context.Context, username, password string) error {
	tokens, err := c.authClient.Login(ctx, auth.Credentials{Username: username, Password: password})
	if err != nil {
		return signInFailure(err)
	}
	return c.SetSession(tokens.AccessToken, tokens.RefreshToken)
}

func signInFailure(err error) error {
	var authErr auth.Error
	if !errors.As(err, &authErr) {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return APIError{Kind: ErrorKindValidation, Message: "username and password required", Cause: err}
		}
		return err
	}
	apiErr := newStatusError(authErr.Status, "", []byte(authErr.Body), "")
	apiErr.Cause = err
	if apiErr.Message == "" {
		apiErr.Message = authErr.Detail
	}
	if errors.Is(err, auth.ErrInvalidCredentials) {
		apiErr.Kind = ErrorKindValidation
	} else if apiErr.Kind == ErrorKindAuth {
		apiErr.Kind = ErrorKindUnknown
	}
	return apiErr
}

// SetSession installs an existing token pair, e.g. one restored from disk.
func (c *Client) SetSession(accessToken, refreshToken string) error {
	pair, err := auth.NewTokenPair(accessToken, refreshToken, c.tokens.ExpiryBuffer())
	if err != nil {
		return err
	}
	c.startSession(pair)
	return nil
}

// SetOAuth2Token installs a session from an oauth2 token, for callers that
// persist sessions with golang.org/x/oauth2 tooling.
func (c *Client) SetOAuth2Token(tok *oauth2.Token) error {
	pair, err := auth.PairFromOAuth2(tok, c.tokens.ExpiryBuffer())
	if err != nil {
		return err
	}
	c.startSession(pair)
	return nil
}

// Session returns the current token pair, if any.
func (c *Client) Session() (auth.TokenPair, bool) {
	return c.tokens.Session()
}

// SignOut ends the session locally: tokens, cached reads, and the event
// channel are all dropped. It does not call OnSessionExpired.
func (c *Client) SignOut() {
	c.tokens.SignOut()
	c.InvalidateCache("")
	c.disconnectRealtime()
	c.logger.Info().Msg("signed_out")
}

// Close releases background resources.
func (c *Client) Close() {
	c.disconnectRealtime()
}

func (c *Client) startSession(pair auth.TokenPair) {
	c.InvalidateCache("")
	c.tokens.SetSession(pair)
	c.logger.Info().Time("expires_at", pair.ExpiresAt).Msg("session_started")
}

// expireSession forces a sign-out after the backend kept rejecting a
// freshly refreshed token.
func (c *Client) expireSession(err error) {
	if _, ok := c.tokens.Session(); !ok {
		return
	}
	c.tokens.SignOut()
	c.handleSessionExpired(err)
}

func (c *Client) handleSessionExpired(err error) {
	c.logger.Warn().Err(err).Msg("session_expired")
	c.telemetry.metric(context.Background(), MetricSessionExpired, 1, nil)
	c.InvalidateCache("")
	c.disconnectRealtime()
	if c.onSessionExpired != nil {
		c.onSessionExpired(err)
	}
}

func (c *Client) recordRefresh(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.telemetry.metric(context.Background(), MetricTokenRefresh, 1, map[string]string{"outcome": outcome})
}
