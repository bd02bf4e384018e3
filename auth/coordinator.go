package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultRefreshTimeout = 30 * time.Second

var (
	// ErrNoSession is returned when no token pair has been stored yet or the
	// session was signed out.
	ErrNoSession = errors.New("sdk/auth: no active session")

	// ErrSessionExpired is terminal: the refresh token was rejected or the
	// refresh endpoint could not be reached. Callers must sign the user out.
	ErrSessionExpired = errors.New("sdk/auth: session expired")
)

// Refresher swaps a refresh token for a new access token. *Client
// implements it.
type Refresher interface {
	Refresh(ctx context.Context, req RefreshRequest) (TokenResponse, error)
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Refresher Refresher
	// ExpiryBuffer is subtracted from exp; zero means DefaultExpiryBuffer.
	ExpiryBuffer time.Duration
	// RefreshTimeout bounds one refresh call independently of the caller
	// that started it.
	RefreshTimeout time.Duration
	// OnSessionExpired fires once per failed refresh, after every waiter
	// has been resumed. It is the forced sign-out signal.
	OnSessionExpired func(err error)
	// OnRefresh fires after every refresh attempt with its outcome.
	OnRefresh func(err error)
	Logger    *zerolog.Logger
	Now       func() time.Time
}

type refreshResult struct {
	pair TokenPair
	err  error
}

// Coordinator hands out a valid access token to any number of concurrent
// callers and guarantees at most one refresh call is in flight.
//
// Callers that find the token expired while a refresh is running are queued
// and resumed in arrival order with the refresh outcome. The caller that
// starts the refresh is the first entry of that queue.
type Coordinator struct {
	refresher      Refresher
	buffer         time.Duration
	refreshTimeout time.Duration
	onExpired      func(error)
	onRefresh      func(error)
	logger         zerolog.Logger
	now            func() time.Time

	mu         sync.Mutex
	store      tokenStore
	refreshing bool
	pending    []func(refreshResult)
	// generation changes on SetSession/SignOut so an in-flight refresh does
	// not resurrect a session that was replaced underneath it.
	generation uint64
}

// NewCoordinator validates cfg and returns a Coordinator with no session.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Refresher == nil {
		return nil, errors.New("sdk/auth: refresher required")
	}
	buffer := cfg.ExpiryBuffer
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		refresher:      cfg.Refresher,
		buffer:         buffer,
		refreshTimeout: timeout,
		onExpired:      cfg.OnSessionExpired,
		onRefresh:      cfg.OnRefresh,
		logger:         logger,
		now:            now,
	}, nil
}

// ExpiryBuffer returns the safety margin applied to exp.
func (c *Coordinator) ExpiryBuffer() time.Duration { return c.buffer }

// SetSession stores a freshly signed-in pair.
func (c *Coordinator) SetSession(pair TokenPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.store.save(pair)
}

// SignOut discards the session. An in-flight refresh settles without
// storing its result.
func (c *Coordinator) SignOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.store.clear()
}

// Session returns a copy of the current pair.
func (c *Coordinator) Session() (TokenPair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.load()
}

// Token returns a valid access token, refreshing it first when the stored
// one is past its buffered expiry.
func (c *Coordinator) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	pair, ok := c.store.load()
	if !ok {
		c.mu.Unlock()
		return "", ErrNoSession
	}
	if c.now().Before(pair.ExpiresAt) {
		c.mu.Unlock()
		return pair.AccessToken, nil
	}
	return c.refreshLocked(ctx, pair)
}

// Invalidate is called after the backend rejected stale with a 401. When the
// stored token has already moved on, the current one is returned; otherwise
// the caller joins (or starts) the single refresh.
func (c *Coordinator) Invalidate(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	pair, ok := c.store.load()
	if !ok {
		c.mu.Unlock()
		return "", ErrNoSession
	}
	if !c.refreshing && pair.AccessToken != stale && c.now().Before(pair.ExpiresAt) {
		c.mu.Unlock()
		return pair.AccessToken, nil
	}
	return c.refreshLocked(ctx, pair)
}

// refreshLocked must be entered with c.mu held and releases it. The
// refreshing flag is set before the lock is released so no second caller can
// observe a stale "not refreshing" state.
func (c *Coordinator) refreshLocked(ctx context.Context, pair TokenPair) (string, error) {
	wait := c.enqueueLocked()
	if !c.refreshing {
		c.refreshing = true
		gen := c.generation
		// Detached from the caller: one caller's timeout must not fail the
		// refresh everybody else is waiting on.
		go c.run(context.WithoutCancel(ctx), pair.RefreshToken, gen)
	}
	c.mu.Unlock()

	select {
	case res := <-wait:
		if res.err != nil {
			return "", res.err
		}
		return res.pair.AccessToken, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Coordinator) enqueueLocked() <-chan refreshResult {
	ch := make(chan refreshResult, 1)
	c.pending = append(c.pending, func(res refreshResult) { ch <- res })
	return ch
}

func (c *Coordinator) run(ctx context.Context, refreshToken string, gen uint64) {
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	start := c.now()
	res := c.refresh(ctx, refreshToken)
	if res.err != nil {
		c.logger.Warn().Err(res.err).Dur("elapsed", c.now().Sub(start)).Msg("token_refresh_failed")
	} else {
		c.logger.Debug().Time("expires_at", res.pair.ExpiresAt).Msg("token_refresh")
	}
	c.settle(res, gen)
}

func (c *Coordinator) refresh(ctx context.Context, refreshToken string) refreshResult {
	if refreshToken == "" {
		return refreshResult{err: fmt.Errorf("%w: no refresh token", ErrSessionExpired)}
	}
	resp, err := c.refresher.Refresh(ctx, RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		// Rejections and unreachable servers are treated alike: fail closed.
		return refreshResult{err: fmt.Errorf("%w: %w", ErrSessionExpired, err)}
	}
	pair, err := resp.Pair(refreshToken, c.buffer)
	if err != nil {
		return refreshResult{err: fmt.Errorf("%w: %w", ErrSessionExpired, err)}
	}
	return refreshResult{pair: pair}
}

// settle stores the outcome and drains the queue in FIFO order.
func (c *Coordinator) settle(res refreshResult, gen uint64) {
	c.mu.Lock()
	stale := gen != c.generation
	switch {
	case stale:
		// The session was replaced or signed out mid-refresh; waiters get
		// whatever is current instead of the outdated outcome.
		if current, ok := c.store.load(); ok {
			res = refreshResult{pair: current}
		} else {
			res = refreshResult{err: ErrNoSession}
		}
	case res.err != nil:
		c.store.clear()
	default:
		c.store.save(res.pair)
	}
	pending := c.pending
	c.pending = nil
	c.refreshing = false
	c.mu.Unlock()

	for _, resume := range pending {
		resume(res)
	}
	if stale {
		return
	}
	if c.onRefresh != nil {
		c.onRefresh(res.err)
	}
	if res.err != nil && c.onExpired != nil {
		c.onExpired(res.err)
	}
}
