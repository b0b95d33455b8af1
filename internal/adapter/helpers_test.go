package adapter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/portfolio-tracker/internal/retry"
)

func newTestClient(t *testing.T) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(HTTPClientConfig{
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             100,
		Retry: &retry.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	})
	require.NoError(t, err)
	return c
}

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}
