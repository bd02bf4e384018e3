// Package testutil provides helpers for SDK tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"
)

// NDJSONStep describes a line to emit with an optional delay.
type NDJSONStep struct {
	Delay time.Duration
	Line  string
}

// NDJSONServerConfig configures the NDJSON test server.
type NDJSONServerConfig struct {
	Status  int
	Headers map[string]string
	// OnRequest sees every incoming request before anything is written.
	OnRequest func(r *http.Request)
	// HoldOpen keeps the stream open after the last step until the client
	// goes away, like a live event stream.
	HoldOpen   bool
	FinalDelay time.Duration
}

// NDJSONServer is an httptest server that streams the same NDJSON script to
// every request.
type NDJSONServer struct {
	*httptest.Server
	requests atomic.Int32
}

// Requests reports how many streams have been opened.
func (s *NDJSONServer) Requests() int {
	return int(s.requests.Load())
}

// NewNDJSONServer returns an httptest server that streams NDJSON lines with delays.
func NewNDJSONServer(steps []NDJSONStep, cfg NDJSONServerConfig) *NDJSONServer {
	srv := &NDJSONServer{}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.requests.Add(1)
		if cfg.OnRequest != nil {
			cfg.OnRequest(r)
		}
		status := cfg.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for k, v := range cfg.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		if status != http.StatusOK {
			return
		}
		flusher, _ := w.(http.Flusher)
		for _, step := range steps {
			if step.Delay > 0 {
				select {
				case <-time.After(step.Delay):
				case <-r.Context().Done():
					return
				}
			}
			_, _ = w.Write([]byte(step.Line + "\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
		if cfg.FinalDelay > 0 {
			time.Sleep(cfg.FinalDelay)
		}
		if cfg.HoldOpen {
			<-r.Context().Done()
		}
	}))
	return srv
}
