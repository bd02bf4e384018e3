package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultReconnectDelay       = time.Second
	DefaultMaxReconnectAttempts = 5
)

// TokenSource supplies a current access token for reconnects.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config wires a Channel.
type Config struct {
	Transport Transport
	// Tokens, when set, is asked for a fresh token before every reconnect so
	// a long-lived channel survives access token rotation.
	Tokens TokenSource
	// ReconnectDelay is the base of the linear backoff: reconnect n waits
	// n*ReconnectDelay.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts consecutive failures put the channel in
	// StateUnavailable.
	MaxReconnectAttempts int
	Logger               *zerolog.Logger
	OnStateChange        func(State)
	OnReconnect          func(attempt int, delay time.Duration)
	// After replaces time.After, mainly for tests.
	After func(time.Duration) <-chan time.Time
}

type subscription struct {
	id uint64
	fn Listener
}

// Channel is a self-healing subscription to the job stream.
//
// Failures (dial errors, rejected requests, dropped streams) are retried with
// a linearly growing delay; every successful open resets the attempt
// counter. After MaxReconnectAttempts consecutive failures the channel stops
// in StateUnavailable. Disconnect stops it for good until the next Connect.
type Channel struct {
	transport   Transport
	tokens      TokenSource
	delay       time.Duration
	maxAttempts int
	logger      zerolog.Logger
	onState     func(State)
	onReconnect func(int, time.Duration)
	after       func(time.Duration) <-chan time.Time

	mu        sync.Mutex
	state     State
	attempts  int
	token     string
	cancel    context.CancelFunc
	gen       uint64
	listeners []subscription
	nextID    uint64
}

// New validates cfg and returns a disconnected Channel.
func New(cfg Config) (*Channel, error) {
	if cfg.Transport == nil {
		return nil, errors.New("realtime: transport required")
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReconnectAttempts
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "realtime").Logger()
	}
	after := cfg.After
	if after == nil {
		after = time.After
	}
	return &Channel{
		transport:   cfg.Transport,
		tokens:      cfg.Tokens,
		delay:       delay,
		maxAttempts: maxAttempts,
		logger:      logger,
		onState:     cfg.OnStateChange,
		onReconnect: cfg.OnReconnect,
		after:       after,
	}, nil
}

// State reports the current lifecycle state.
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Attempts reports consecutive failures since the last successful open.
func (ch *Channel) Attempts() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.attempts
}

// Subscribe registers l and returns a function that removes it.
func (ch *Channel) Subscribe(l Listener) (unsubscribe func()) {
	ch.mu.Lock()
	ch.nextID++
	id := ch.nextID
	ch.listeners = append(ch.listeners, subscription{id: id, fn: l})
	ch.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ch.mu.Lock()
			defer ch.mu.Unlock()
			for i, s := range ch.listeners {
				if s.id == id {
					ch.listeners = append(ch.listeners[:i:i], ch.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Connect starts the connection loop in the background and returns
// immediately. It is a no-op while the channel is connecting or connected.
// The loop stops on Disconnect or when ctx is done.
func (ch *Channel) Connect(ctx context.Context, token string) error {
	if token == "" && ch.tokens == nil {
		return errors.New("realtime: access token required")
	}
	ch.mu.Lock()
	if ch.state == StateConnecting || ch.state == StateConnected {
		ch.mu.Unlock()
		return nil
	}
	ch.gen++
	gen := ch.gen
	runCtx, cancel := context.WithCancel(ctx)
	ch.cancel = cancel
	ch.token = token
	ch.attempts = 0
	ch.state = StateConnecting
	ch.mu.Unlock()

	ch.notify(StateConnecting)
	go ch.run(runCtx, gen)
	return nil
}

// Disconnect closes the stream and cancels any pending reconnect. It is
// idempotent.
func (ch *Channel) Disconnect() {
	ch.mu.Lock()
	if ch.cancel == nil && ch.state == StateDisconnected {
		ch.mu.Unlock()
		return
	}
	ch.gen++
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	ch.attempts = 0
	ch.state = StateDisconnected
	ch.mu.Unlock()

	ch.logger.Debug().Msg("realtime_disconnected")
	ch.notify(StateDisconnected)
}

func (ch *Channel) run(ctx context.Context, gen uint64) {
	defer ch.stopped(gen)
	for {
		err := ch.connectOnce(ctx, gen)
		if ctx.Err() != nil {
			return
		}
		delay, ok := ch.scheduleReconnect(gen, err)
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ch.after(delay):
		}
	}
}

// stopped handles a loop that ended because the Connect context was
// cancelled rather than through Disconnect or the reconnect budget.
func (ch *Channel) stopped(gen uint64) {
	ch.mu.Lock()
	if gen != ch.gen || ch.state == StateUnavailable {
		ch.mu.Unlock()
		return
	}
	ch.gen++
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	ch.attempts = 0
	ch.state = StateDisconnected
	ch.mu.Unlock()
	ch.notify(StateDisconnected)
}

// connectOnce opens one stream and consumes it until it fails.
func (ch *Channel) connectOnce(ctx context.Context, gen uint64) error {
	token, err := ch.currentToken(ctx)
	if err != nil {
		return err
	}
	stream, err := ch.transport.Open(ctx, token)
	if err != nil {
		return err
	}
	//nolint:errcheck // best-effort cleanup on return
	defer func() { _ = stream.Close() }()

	if !ch.opened(gen) {
		return ctx.Err()
	}
	for {
		ev, err := stream.Next()
		if err != nil {
			var malformed *MalformedEventError
			if errors.As(err, &malformed) {
				ch.logger.Warn().Err(err).Msg("realtime_malformed_event")
				continue
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ch.dispatch(ev)
	}
}

func (ch *Channel) currentToken(ctx context.Context) (string, error) {
	ch.mu.Lock()
	token, attempts := ch.token, ch.attempts
	ch.mu.Unlock()
	if ch.tokens == nil || (token != "" && attempts == 0) {
		return token, nil
	}
	fresh, err := ch.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	ch.mu.Lock()
	ch.token = fresh
	ch.mu.Unlock()
	return fresh, nil
}

func (ch *Channel) opened(gen uint64) bool {
	ch.mu.Lock()
	if gen != ch.gen {
		ch.mu.Unlock()
		return false
	}
	ch.attempts = 0
	ch.state = StateConnected
	ch.mu.Unlock()

	ch.logger.Info().Msg("realtime_connected")
	ch.notify(StateConnected)
	return true
}

// scheduleReconnect counts the failure and returns the wait before the next
// attempt, or false once the budget is spent.
func (ch *Channel) scheduleReconnect(gen uint64, cause error) (time.Duration, bool) {
	ch.mu.Lock()
	if gen != ch.gen {
		ch.mu.Unlock()
		return 0, false
	}
	ch.attempts++
	attempts := ch.attempts
	if attempts >= ch.maxAttempts {
		cancel := ch.cancel
		ch.state = StateUnavailable
		ch.cancel = nil
		ch.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		ch.logger.Error().Err(cause).Int("attempts", attempts).Msg("realtime_unavailable")
		ch.notify(StateUnavailable)
		return 0, false
	}
	delay := ch.delay * time.Duration(attempts)
	prev := ch.state
	ch.state = StateConnecting
	ch.mu.Unlock()

	ch.logger.Warn().Err(cause).Int("attempt", attempts).Dur("delay", delay).Msg("realtime_reconnect_scheduled")
	if prev != StateConnecting {
		ch.notify(StateConnecting)
	}
	if ch.onReconnect != nil {
		ch.onReconnect(attempts, delay)
	}
	return delay, true
}

func (ch *Channel) dispatch(ev Event) {
	ch.mu.Lock()
	subs := make([]subscription, len(ch.listeners))
	copy(subs, ch.listeners)
	ch.mu.Unlock()

	for _, s := range subs {
		ch.deliver(s.fn, ev)
	}
}

// deliver isolates listeners from each other: a panic is logged and the
// remaining listeners still run.
func (ch *Channel) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			ch.logger.Error().Interface("panic", r).Str("event", string(ev.Type)).Msg("listener_panic")
		}
	}()
	l(ev)
}

func (ch *Channel) notify(s State) {
	if ch.onState != nil {
		ch.onState(s)
	}
}
