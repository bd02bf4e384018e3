// Package headers defines HTTP header constants used by the maintdesk SDK.
// This is the single source of truth for header names sent to the dashboard API.
package headers

const (
	// RequestID correlates every attempt of one logical request.
	// The same value is sent on retries so the backend can deduplicate.
	RequestID = "X-Request-Id"

	// CSRFToken carries the anti-forgery token on state-changing requests.
	CSRFToken = "X-CSRFToken" //nolint:gosec // This is a header name, not a credential

	// Authorization carries the bearer access token.
	Authorization = "Authorization"

	// Traceparent propagates the W3C trace context.
	Traceparent = "Traceparent"

	// Tracestate carries vendor trace state alongside Traceparent.
	Tracestate = "Tracestate"
)
