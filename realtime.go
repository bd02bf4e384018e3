package sdk

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/maintdesk/maintdesk/sdk/go/realtime"
)

// Realtime returns the job event channel. It reconnects with the session's
// current access token, and every job event clears cached job reads so the
// next read goes to the network.
func (c *Client) Realtime() *realtime.Channel {
	return c.channel
}

// ConnectRealtime opens the job event channel with a valid access token,
// refreshing it first if needed. The channel runs until SignOut, Close, or
// ctx is done.
func (c *Client) ConnectRealtime(ctx context.Context) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return c.authFailure(err, "")
	}
	return c.channel.Connect(ctx, token)
}

func (c *Client) newChannel() (*realtime.Channel, error) {
	ch, err := realtime.New(realtime.Config{
		Transport:            realtime.NewHTTPTransport(c.baseURL, streamClient(c.httpClient), c.userAgent),
		Tokens:               c.tokens,
		ReconnectDelay:       c.realtimeCfg.ReconnectDelay,
		MaxReconnectAttempts: c.realtimeCfg.MaxReconnectAttempts,
		Logger:               &c.logger,
		OnReconnect: func(attempt int, _ time.Duration) {
			c.telemetry.metric(context.Background(), MetricRealtimeReconnect, 1, map[string]string{
				"attempt": strconv.Itoa(attempt),
			})
		},
	})
	if err != nil {
		return nil, err
	}
	ch.Subscribe(func(ev realtime.Event) {
		n := c.InvalidateCache(c.Jobs.Name())
		c.logger.Debug().Str("event", string(ev.Type)).Int("invalidated", n).Msg("realtime_cache_invalidate")
	})
	return ch, nil
}

func (c *Client) disconnectRealtime() {
	if c.channel != nil {
		c.channel.Disconnect()
	}
}

// streamClient drops the overall client timeout, which would cut a
// long-lived stream.
func streamClient(hc *http.Client) *http.Client {
	if hc.Timeout == 0 {
		return hc
	}
	clone := *hc
	clone.Timeout = 0
	return &clone
}
