package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/portfolio-tracker/internal/types"
)

const coinGeckoBaseURL = "https://api.coingecko.com/api/v3/simple/price"

// CoinGecko reads USD spot prices from the simple-price endpoint. Symbols
// passed to FetchQuote are CoinGecko ids ("bitcoin"), not tickers.
type CoinGecko struct {
	http    *HTTPClient
	baseURL string
	now     func() time.Time
}

// NewCoinGecko creates a client. An empty baseURL uses the public API.
func NewCoinGecko(client *HTTPClient, baseURL string) *CoinGecko {
	if baseURL == "" {
		baseURL = coinGeckoBaseURL
	}
	return &CoinGecko{http: client, baseURL: baseURL, now: time.Now}
}

func (c *CoinGecko) Name() string { return string(types.SourceCoinGecko) }

// FetchQuote returns the USD price and 24h change of the coin id
func (c *CoinGecko) FetchQuote(ctx context.Context, id string) (*Quote, error) {
	u := c.baseURL + "?ids=" + url.QueryEscape(id) + "&vs_currencies=usd&include_24hr_change=true"
	header := http.Header{}
	header.Set("Accept", "application/json")

	body, err := c.http.Get(ctx, u, header)
	if err != nil {
		return nil, NewProviderError(c.Name(), "FetchQuote", id, err, nil)
	}
	obj, err := decodeAny(body)
	if err != nil {
		return nil, NewProviderError(c.Name(), "FetchQuote", id, err, nil)
	}

	root := fmt.Sprintf("$[%q]", id)
	price, ok := lookupFloat(obj, root+".usd")
	if !ok || price <= 0 {
		return nil, NewProviderError(c.Name(), "FetchQuote", id, fmt.Errorf("%w: no usd price", ErrNotFound), nil)
	}

	q := &Quote{
		Symbol:    id,
		Price:     price,
		Currency:  "USD",
		Exchange:  "CRYPTO",
		Source:    types.SourceCoinGecko,
		FetchedAt: c.now(),
	}
	change := 0.0
	if v, ok := lookupFloat(obj, root+".usd_24h_change"); ok {
		change = v
	}
	q.ChangePercent = &change
	return q, nil
}
