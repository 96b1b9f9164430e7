package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInstrumentedTransport_Success(t *testing.T) {
	reader := setupTestMetrics(t)

	body := "proving key bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil)}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, body, string(got))
	require.NoError(t, resp.Body.Close())

	rm := collectMetrics(t, reader)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	dps := findCounter(rm, "artifact_fetcher_gateway_request_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "host", u.Host))
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "success"))

	bytesDps := findCounter(rm, "artifact_fetcher_gateway_request_bytes_total")
	require.Len(t, bytesDps, 1)
	require.Equal(t, int64(len(body)), bytesDps[0].Value)

	histDps := findHistogram(rm, "artifact_fetcher_gateway_request_duration_seconds")
	require.Len(t, histDps, 1)
	require.Equal(t, uint64(1), histDps[0].Count)
}

func TestInstrumentedTransport_HTTPErrors(t *testing.T) {
	tests := []struct {
		status  int
		outcome string
	}{
		{http.StatusNotFound, "4xx"},
		{http.StatusBadGateway, "5xx"},
	}

	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			reader := setupTestMetrics(t)

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			client := &http.Client{Transport: NewInstrumentedTransport(nil)}

			resp, err := client.Get(srv.URL)
			require.NoError(t, err)
			require.Equal(t, tt.status, resp.StatusCode)
			_, _ = io.ReadAll(resp.Body)
			require.NoError(t, resp.Body.Close())

			dps := findCounter(collectMetrics(t, reader), "artifact_fetcher_gateway_request_total")
			require.Len(t, dps, 1)
			require.True(t, hasAttr(dps[0].Attributes, "outcome", tt.outcome))
		})
	}
}

func TestInstrumentedTransport_ConnectionError(t *testing.T) {
	reader := setupTestMetrics(t)

	client := &http.Client{Transport: NewInstrumentedTransport(nil), Timeout: 100 * time.Millisecond}

	// Use a port that is not listening
	_, err := client.Get("http://127.0.0.1:1")
	require.Error(t, err)

	dps := findCounter(collectMetrics(t, reader), "artifact_fetcher_gateway_request_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "error"))
}

func TestInstrumentedTransport_Canceled(t *testing.T) {
	reader := setupTestMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil)}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	require.Error(t, err)

	dps := findCounter(collectMetrics(t, reader), "artifact_fetcher_gateway_request_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "canceled"))
}

func TestInstrumentedTransport_BodyCloseIdempotent(t *testing.T) {
	reader := setupTestMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil)}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_, _ = io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	// Second close must not double-record
	require.NoError(t, resp.Body.Close())

	dps := findCounter(collectMetrics(t, reader), "artifact_fetcher_gateway_request_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
}

func TestInstrumentedTransport_NilBaseUsesDefault(t *testing.T) {
	tr := NewInstrumentedTransport(nil)
	require.Equal(t, http.DefaultTransport, tr.base)

	custom := &http.Transport{}
	require.Equal(t, custom, NewInstrumentedTransport(custom).base)
}

func TestInstrumentedBody_ReadBeforeClose(t *testing.T) {
	b := &instrumentedBody{
		ReadCloser: io.NopCloser(strings.NewReader("test data")),
		ctx:        context.Background(),
		host:       "gateway.example",
		start:      time.Now(),
		outcome:    "success",
	}

	buf := make([]byte, 4)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "test", string(buf))
	require.EqualValues(t, 4, b.bytes)
}

var _ http.RoundTripper = (*InstrumentedTransport)(nil)
