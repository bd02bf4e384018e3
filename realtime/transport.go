package realtime

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/maintdesk/maintdesk/sdk/go/routes"
)

const maxLineSize = 1 << 20

// Stream is one open connection. Next blocks until the next event; it
// returns io.EOF when the server ends the stream.
type Stream interface {
	Next() (Event, error)
	Close() error
}

// Transport opens streams. The context bounds the whole connection, not
// just the dial.
type Transport interface {
	Open(ctx context.Context, token string) (Stream, error)
}

// StatusError is a non-200 answer to the stream request.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("realtime: stream rejected with http %d", e.Status)
}

// HTTPTransport reads newline-delimited JSON from the job stream endpoint.
// The access token travels in the query string because the browser event
// APIs the backend was built for cannot set headers.
type HTTPTransport struct {
	url       string
	client    *http.Client
	userAgent string
}

// NewHTTPTransport targets baseURL's job stream. client must not set a
// Timeout, which would cut long-lived streams; nil uses
// http.DefaultClient.
func NewHTTPTransport(baseURL string, client *http.Client, userAgent string) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		url:       strings.TrimSuffix(baseURL, "/") + routes.JobsStream,
		client:    client,
		userAgent: userAgent,
	}
}

func (t *HTTPTransport) Open(ctx context.Context, token string) (Stream, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("realtime: access token required")
	}
	u, err := url.Parse(t.url)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		//nolint:errcheck // best-effort cleanup on return
		_ = resp.Body.Close()
		return nil, &StatusError{Status: resp.StatusCode}
	}
	return newNDJSONStream(resp.Body), nil
}

type ndjsonStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newNDJSONStream(body io.ReadCloser) *ndjsonStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &ndjsonStream{body: body, scanner: scanner}
}

func (s *ndjsonStream) Next() (Event, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return decodeEvent(line)
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func (s *ndjsonStream) Close() error {
	return s.body.Close()
}
