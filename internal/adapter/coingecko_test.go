package adapter

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-tracker/internal/types"
)

func TestCoinGecko_FetchQuote(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "matic-network", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		_, _ = w.Write([]byte(`{"matic-network":{"usd":0.52,"usd_24h_change":-2.5}}`))
	})

	q, err := NewCoinGecko(newTestClient(t), srv.URL).FetchQuote(context.Background(), "matic-network")
	require.NoError(t, err)
	assert.InDelta(t, 0.52, q.Price, 1e-9)
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, "CRYPTO", q.Exchange)
	assert.Equal(t, types.SourceCoinGecko, q.Source)
	require.NotNil(t, q.ChangePercent)
	assert.InDelta(t, -2.5, *q.ChangePercent, 1e-9)
}

func TestCoinGecko_MissingChangeDefaultsToZero(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":65000}}`))
	})
	q, err := NewCoinGecko(newTestClient(t), srv.URL).FetchQuote(context.Background(), "bitcoin")
	require.NoError(t, err)
	require.NotNil(t, q.ChangePercent)
	assert.Equal(t, 0.0, *q.ChangePercent)
}

func TestCoinGecko_UnknownID(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := NewCoinGecko(newTestClient(t), srv.URL).FetchQuote(context.Background(), "nocoin")
	assert.True(t, IsNotFound(err), "got %v", err)
}
