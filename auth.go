// Package sdk is the Go client for the Maintdesk dashboard API: token
// lifecycle, cached reads, and the job event channel.
package sdk

import (
	"net/http"

	"github.com/maintdesk/maintdesk/sdk/go/headers"
)

type headerStrategy interface {
	Apply(req *http.Request)
}

type headerChain []headerStrategy

func (c headerChain) Apply(req *http.Request) {
	for _, s := range c {
		if s == nil {
			continue
		}
		s.Apply(req)
	}
}

type bearerAuth struct {
	token string
}

func (b bearerAuth) Apply(req *http.Request) {
	if b.token == "" {
		return
	}
	req.Header.Set(headers.Authorization, "Bearer "+b.token)
}

// csrfHeader carries the anti-forgery token on mutating JSON requests.
type csrfHeader struct {
	token string
}

func (c csrfHeader) Apply(req *http.Request) {
	if c.token == "" {
		return
	}
	req.Header.Set(headers.CSRFToken, c.token)
}

type requestIDHeader struct {
	id string
}

func (r requestIDHeader) Apply(req *http.Request) {
	if r.id == "" || req.Header.Get(headers.RequestID) != "" {
		return
	}
	req.Header.Set(headers.RequestID, r.id)
}
