package adapter

import (
	"context"
	"strings"

	"github.com/portfolio-tracker/internal/market"
)

// WithPunctuationRetry calls fetch with symbol and, when that reports
// ErrNotFound and the symbol ends in a single-letter share class, once more
// with "." and "-" swapped. An exchange qualifier ("BRK.B:NYSE") is kept.
// The symbol that produced the result is returned alongside it.
func WithPunctuationRetry[T any](ctx context.Context, symbol string, fetch func(context.Context, string) (T, error)) (T, string, error) {
	res, err := fetch(ctx, symbol)
	if err == nil || !IsNotFound(err) {
		return res, symbol, err
	}
	alt, ok := punctuationVariant(symbol)
	if !ok {
		return res, symbol, err
	}
	altRes, altErr := fetch(ctx, alt)
	if altErr != nil {
		return res, symbol, err
	}
	return altRes, alt, nil
}

func punctuationVariant(symbol string) (string, bool) {
	base, qualifier := symbol, ""
	if i := strings.Index(symbol, ":"); i >= 0 {
		base, qualifier = symbol[:i], symbol[i:]
	}
	alt, ok := market.PunctuationVariant(base)
	if !ok {
		return "", false
	}
	return alt + qualifier, true
}

// PunctuationProvider retries a provider with the share-class punctuation swapped
type PunctuationProvider struct {
	inner QuoteProvider
}

// NewPunctuationProvider wraps inner
func NewPunctuationProvider(inner QuoteProvider) *PunctuationProvider {
	return &PunctuationProvider{inner: inner}
}

func (p *PunctuationProvider) Name() string { return p.inner.Name() }

func (p *PunctuationProvider) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	q, _, err := WithPunctuationRetry(ctx, symbol, p.inner.FetchQuote)
	return q, err
}
