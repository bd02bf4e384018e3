package sdk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

const maxErrorBody = 64 << 10

// ErrorKind classifies a failed request for callers that branch on it.
type ErrorKind string

const (
	// ErrorKindTimeout is a client-side deadline; Status is 408.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindAuth means the session is gone: a 401 survived the
	// refresh-and-retry, or the refresh itself failed. Redirect to sign-in.
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindTransientServer is a 502/503/504 that outlived its retries.
	ErrorKindTransientServer ErrorKind = "transient_server"
	// ErrorKindValidation is a 4xx carrying field-level detail.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindUnknown is everything else, passed through with the best
	// message available.
	ErrorKindUnknown ErrorKind = "unknown"
)

// APIError is the normalized failure returned by every request.
type APIError struct {
	Status    int
	Kind      ErrorKind
	Message   string
	Fields    []FieldError
	RequestID string
	Cause     error
}

// FieldError represents a validation failure for a single field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e APIError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = ErrorKindUnknown
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%s (%d): %s", kind, e.Status, msg)
}

// Unwrap exposes the underlying cause (transport error, auth sentinel).
func (e APIError) Unwrap() error { return e.Cause }

// ConfigError reports an invalid client configuration.
type ConfigError struct {
	Reason string
}

func (e ConfigError) Error() string { return "sdk: invalid config: " + e.Reason }

func asAPIError(err error) (APIError, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return APIError{}, false
}

func isKind(err error, kind ErrorKind) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Kind == kind
}

// IsAuthError reports a terminal authentication failure. The caller should
// treat it as a forced sign-out.
func IsAuthError(err error) bool { return isKind(err, ErrorKindAuth) }

// IsTimeout reports a client-side timeout.
func IsTimeout(err error) bool { return isKind(err, ErrorKindTimeout) }

// IsTransient reports a 502/503/504 that exhausted its retries.
func IsTransient(err error) bool { return isKind(err, ErrorKindTransientServer) }

// IsValidation reports a rejected payload.
func IsValidation(err error) bool { return isKind(err, ErrorKindValidation) }

// IsNotFound reports a 404.
func IsNotFound(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Status == http.StatusNotFound
}

// IsForbidden reports a 403 (permission denied).
func IsForbidden(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Status == http.StatusForbidden
}

func classifyStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return ErrorKindAuth
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrorKindTransientServer
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrorKindValidation
	default:
		return ErrorKindUnknown
	}
}

func decodeAPIError(resp *http.Response, requestID string) APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return newStatusError(resp.StatusCode, resp.Status, data, requestID)
}

func newStatusError(status int, statusLine string, body []byte, requestID string) APIError {
	apiErr := APIError{
		Status:    status,
		Kind:      classifyStatus(status),
		RequestID: requestID,
	}
	msg, fields := parseErrorPayload(body)
	apiErr.Fields = fields
	if len(fields) > 0 && status >= 400 && status < 500 && apiErr.Kind == ErrorKindUnknown {
		apiErr.Kind = ErrorKindValidation
	}
	if msg == "" {
		msg = strings.TrimSpace(statusLine)
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	apiErr.Message = msg
	return apiErr
}

func timeoutError(requestID string, cause error) APIError {
	return APIError{
		Status:    http.StatusRequestTimeout,
		Kind:      ErrorKindTimeout,
		Message:   "request timed out",
		RequestID: requestID,
		Cause:     cause,
	}
}

// parseErrorPayload understands the backend's two error shapes:
// {"detail": "..."} and {"field": ["error", ...], ...}. The latter becomes
// "field: error; field: error" with fields in name order.
func parseErrorPayload(data []byte) (string, []FieldError) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		var s string
		if json.Unmarshal(trimmed, &s) == nil {
			return s, nil
		}
		if trimmed[0] == '<' {
			// HTML error page from a proxy; the status line says more.
			return "", nil
		}
		return truncate(string(trimmed), 512), nil
	}
	if raw, ok := obj["detail"]; ok {
		if msgs := messagesOf(raw); len(msgs) > 0 {
			return strings.Join(msgs, ", "), nil
		}
	}

	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]FieldError, 0, len(names))
	parts := make([]string, 0, len(names))
	for _, name := range names {
		msgs := messagesOf(obj[name])
		if len(msgs) == 0 {
			continue
		}
		msg := strings.Join(msgs, ", ")
		fields = append(fields, FieldError{Field: name, Message: msg})
		parts = append(parts, name+": "+msg)
	}
	if len(fields) == 0 {
		return "", nil
	}
	return strings.Join(parts, "; "), fields
}

func messagesOf(raw json.RawMessage) []string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return []string{s}
		}
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []string
		for _, item := range list {
			out = append(out, messagesOf(item)...)
		}
		return out
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err == nil {
		if msg, _ := parseErrorPayload(raw); msg != "" {
			return []string{msg}
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
