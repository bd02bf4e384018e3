package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maintdesk/maintdesk/sdk/go/testutil"
)

// scriptedTransport answers each Open with the next entry of script; once
// the script runs out every Open fails.
type scriptedTransport struct {
	mu     sync.Mutex
	script []func(ctx context.Context) (Stream, error)
	tokens []string
}

func (t *scriptedTransport) Open(ctx context.Context, token string) (Stream, error) {
	t.mu.Lock()
	t.tokens = append(t.tokens, token)
	n := len(t.tokens)
	t.mu.Unlock()
	if n > len(t.script) {
		return nil, errors.New("dial tcp: connection refused")
	}
	return t.script[n-1](ctx)
}

func (t *scriptedTransport) opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tokens)
}

func (t *scriptedTransport) seenTokens() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.tokens...)
}

// fakeStream emits events, then ends with io.EOF or, when hold is set,
// blocks until the connection context is cancelled.
type fakeStream struct {
	ctx    context.Context
	events []Event
	errs   []error
	hold   bool
	i      int
}

func (s *fakeStream) Next() (Event, error) {
	if s.i < len(s.events) {
		ev := s.events[s.i]
		var err error
		if s.i < len(s.errs) {
			err = s.errs[s.i]
		}
		s.i++
		return ev, err
	}
	if s.hold {
		<-s.ctx.Done()
		return Event{}, s.ctx.Err()
	}
	return Event{}, io.EOF
}

func (s *fakeStream) Close() error { return nil }

func failOpen(context.Context) (Stream, error) { return nil, &StatusError{Status: 502} }

func streamOf(hold bool, events ...Event) func(ctx context.Context) (Stream, error) {
	return func(ctx context.Context) (Stream, error) {
		return &fakeStream{ctx: ctx, events: events, hold: hold}, nil
	}
}

type recordingAfter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingAfter) after(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *recordingAfter) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestChannel(t *testing.T, transport Transport, clock *recordingAfter) *Channel {
	t.Helper()
	ch, err := New(Config{Transport: transport, After: clock.after})
	require.NoError(t, err)
	t.Cleanup(ch.Disconnect)
	return ch
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestConnectRequiresToken(t *testing.T) {
	ch := newTestChannel(t, &scriptedTransport{}, &recordingAfter{})
	assert.Error(t, ch.Connect(context.Background(), ""))
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestReconnectBackoffIsLinearAndBounded(t *testing.T) {
	transport := &scriptedTransport{}
	clock := &recordingAfter{}
	ch := newTestChannel(t, transport, clock)

	require.NoError(t, ch.Connect(context.Background(), "tok"))
	require.Eventually(t, func() bool { return ch.State() == StateUnavailable }, time.Second, time.Millisecond)

	assert.Equal(t, DefaultMaxReconnectAttempts, transport.opens())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second}, clock.recorded())
	assert.Equal(t, DefaultMaxReconnectAttempts, ch.Attempts())
}

func TestSuccessfulOpenResetsAttempts(t *testing.T) {
	transport := &scriptedTransport{script: []func(context.Context) (Stream, error){
		failOpen,
		failOpen,
		streamOf(false, Event{Type: EventJobUpdated, JobID: "42"}),
	}}
	clock := &recordingAfter{}
	ch := newTestChannel(t, transport, clock)

	require.NoError(t, ch.Connect(context.Background(), "tok"))
	require.Eventually(t, func() bool { return ch.State() == StateUnavailable }, time.Second, time.Millisecond)

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second,
		time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second,
	}, clock.recorded())
}

func TestListenersReceiveEventsInOrder(t *testing.T) {
	events := []Event{
		{Type: EventJobCreated, JobID: "1"},
		{Type: EventJobUpdated, JobID: "1"},
		{Type: EventJobDeleted, JobID: "1"},
	}
	transport := &scriptedTransport{script: []func(context.Context) (Stream, error){streamOf(true, events...)}}
	ch := newTestChannel(t, transport, &recordingAfter{})

	var mu sync.Mutex
	var got []Event
	ch.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	require.NoError(t, ch.Connect(context.Background(), "tok"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(events)
	}, time.Second, time.Millisecond)
	assert.Equal(t, events, got)
	assert.Equal(t, StateConnected, ch.State())
}

func TestPanickingListenerDoesNotStarveOthers(t *testing.T) {
	transport := &scriptedTransport{script: []func(context.Context) (Stream, error){
		streamOf(true, Event{Type: EventJobCreated, JobID: "1"}, Event{Type: EventJobUpdated, JobID: "1"}),
	}}
	ch := newTestChannel(t, transport, &recordingAfter{})

	ch.Subscribe(func(Event) { panic("boom") })
	received := make(chan Event, 2)
	ch.Subscribe(func(ev Event) { received <- ev })

	require.NoError(t, ch.Connect(context.Background(), "tok"))
	assert.Equal(t, EventJobCreated, (<-received).Type)
	assert.Equal(t, EventJobUpdated, (<-received).Type)
	assert.Equal(t, StateConnected, ch.State())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ch := newTestChannel(t, &scriptedTransport{}, &recordingAfter{})
	var calls int
	unsubscribe := ch.Subscribe(func(Event) { calls++ })
	ch.dispatch(Event{Type: EventJobUpdated})
	unsubscribe()
	unsubscribe()
	ch.dispatch(Event{Type: EventJobUpdated})
	assert.Equal(t, 1, calls)
}

func TestMalformedEventsAreSkipped(t *testing.T) {
	stream := func(ctx context.Context) (Stream, error) {
		return &fakeStream{
			ctx:    ctx,
			events: []Event{{}, {Type: EventJobUpdated, JobID: "7"}},
			errs:   []error{&MalformedEventError{Line: "{"}},
			hold:   true,
		}, nil
	}
	transport := &scriptedTransport{script: []func(context.Context) (Stream, error){stream}}
	ch := newTestChannel(t, transport, &recordingAfter{})
	received := make(chan Event, 1)
	ch.Subscribe(func(ev Event) { received <- ev })

	require.NoError(t, ch.Connect(context.Background(), "tok"))
	assert.Equal(t, "7", (<-received).JobID)
	assert.Equal(t, 1, transport.opens())
}

func TestDisconnectIsIdempotentAndTerminal(t *testing.T) {
	transport := &scriptedTransport{script: []func(context.Context) (Stream, error){streamOf(true)}}
	clock := &recordingAfter{}
	var mu sync.Mutex
	var states []State
	ch, err := New(Config{
		Transport: transport,
		After:     clock.after,
		OnStateChange: func(s State) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		},
	})
	require.NoError(t, err)

	require.NoError(t, ch.Connect(context.Background(), "tok"))
	require.Eventually(t, func() bool { return ch.State() == StateConnected }, time.Second, time.Millisecond)

	ch.Disconnect()
	ch.Disconnect()
	assert.Equal(t, StateDisconnected, ch.State())

	// Give a rogue reconnect the chance to show up.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, transport.opens())
	assert.Empty(t, clock.recorded())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestConnectWhileConnectedIsNoop(t *testing.T) {
	transport := &scriptedTransport{script: []func(context.Context) (Stream, error){streamOf(true)}}
	ch := newTestChannel(t, transport, &recordingAfter{})

	require.NoError(t, ch.Connect(context.Background(), "tok"))
	require.Eventually(t, func() bool { return ch.State() == StateConnected }, time.Second, time.Millisecond)
	require.NoError(t, ch.Connect(context.Background(), "tok"))
	assert.Equal(t, 1, transport.opens())
}

type staticTokens struct{ token string }

func (s staticTokens) Token(context.Context) (string, error) { return s.token, nil }

func TestReconnectUsesFreshToken(t *testing.T) {
	transport := &scriptedTransport{script: []func(context.Context) (Stream, error){
		failOpen,
		streamOf(true),
	}}
	clock := &recordingAfter{}
	ch, err := New(Config{Transport: transport, Tokens: staticTokens{token: "rotated"}, After: clock.after})
	require.NoError(t, err)
	t.Cleanup(ch.Disconnect)

	require.NoError(t, ch.Connect(context.Background(), "original"))
	require.Eventually(t, func() bool { return ch.State() == StateConnected }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"original", "rotated"}, transport.seenTokens())
}

func TestHTTPTransportStreamsNDJSON(t *testing.T) {
	var gotToken, gotPath string
	var reqMu sync.Mutex
	srv := testutil.NewNDJSONServer([]testutil.NDJSONStep{
		{Line: `{"type":"job_created","job":{"id":5,"title":"Leak"}}`},
		{Line: `not json`},
		{Line: ``},
		{Line: `{"type":"job_deleted","jobId":"5"}`},
	}, testutil.NDJSONServerConfig{
		HoldOpen: true,
		OnRequest: func(r *http.Request) {
			reqMu.Lock()
			defer reqMu.Unlock()
			gotToken = r.URL.Query().Get("token")
			gotPath = r.URL.Path
		},
	})
	defer srv.Close()

	ch, err := New(Config{Transport: NewHTTPTransport(srv.URL+"/api/v1", srv.Client(), "test-agent")})
	require.NoError(t, err)
	defer ch.Disconnect()

	received := make(chan Event, 2)
	ch.Subscribe(func(ev Event) { received <- ev })
	require.NoError(t, ch.Connect(context.Background(), "access-1"))

	first := <-received
	assert.Equal(t, EventJobCreated, first.Type)
	assert.JSONEq(t, `{"id":5,"title":"Leak"}`, string(first.Job))
	second := <-received
	assert.Equal(t, EventJobDeleted, second.Type)
	assert.Equal(t, "5", second.JobID)

	reqMu.Lock()
	defer reqMu.Unlock()
	assert.Equal(t, "access-1", gotToken)
	assert.Equal(t, "/api/v1/jobs/stream/", gotPath)
}

func TestHTTPTransportRejectsNon200(t *testing.T) {
	srv := testutil.NewNDJSONServer(nil, testutil.NDJSONServerConfig{Status: http.StatusForbidden})
	defer srv.Close()

	transport := NewHTTPTransport(srv.URL, srv.Client(), "")
	_, err := transport.Open(context.Background(), "tok")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Status)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unavailable", StateUnavailable.String())
	assert.Equal(t, "state(9)", State(9).String())
}
