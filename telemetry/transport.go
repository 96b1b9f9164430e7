package telemetry

import (
	"context"
	"io"
	"net/http"
	"time"
)

// InstrumentedTransport wraps an http.RoundTripper with gateway request metrics.
type InstrumentedTransport struct {
	base http.RoundTripper
}

// NewInstrumentedTransport creates a new instrumented transport.
// If base is nil, http.DefaultTransport is used.
func NewInstrumentedTransport(base http.RoundTripper) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base}
}

// RoundTrip implements http.RoundTripper with metrics recording.
// Requests that return a response are recorded when the body is closed so
// that the duration and byte count cover the whole transfer.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	host := req.URL.Host

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		outcome := "error"
		if req.Context().Err() != nil {
			outcome = "canceled"
		}
		RecordGatewayRequest(req.Context(), host, time.Since(start), 0, outcome)
		return nil, err
	}

	outcome := "success"
	if resp.StatusCode >= 400 {
		outcome = StatusClass(resp.StatusCode)
	}

	resp.Body = &instrumentedBody{
		ReadCloser: resp.Body,
		ctx:        req.Context(),
		host:       host,
		start:      start,
		outcome:    outcome,
	}

	return resp, nil
}

// instrumentedBody wraps a response body to record bytes read on close.
type instrumentedBody struct {
	io.ReadCloser
	ctx      context.Context
	host     string
	start    time.Time
	bytes    int64
	outcome  string
	recorded bool
}

func (b *instrumentedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.bytes += int64(n)
	return n, err
}

func (b *instrumentedBody) Close() error {
	if !b.recorded {
		b.recorded = true
		RecordGatewayRequest(b.ctx, b.host, time.Since(b.start), b.bytes, b.outcome)
	}
	return b.ReadCloser.Close()
}
