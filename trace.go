package sdk

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/maintdesk/maintdesk/sdk/go/headers"
)

// injectTraceparent propagates the caller's span so backend logs line up
// with the client's trace.
func injectTraceparent(ctx context.Context, req *http.Request) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return
	}
	req.Header.Set(headers.Traceparent, fmt.Sprintf("00-%s-%s-%s", sc.TraceID(), sc.SpanID(), sc.TraceFlags()))
	if ts := sc.TraceState().String(); ts != "" {
		req.Header.Set(headers.Tracestate, ts)
	}
}
