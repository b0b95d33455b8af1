// Package main provides a CLI tool that resolves a quote or asks one
// provider directly, for checking symbol mappings.
//
// Usage:
//
//	quote -ticker BRK.B
//	quote -ticker BTC -type crypto -fresh
//	quote -provider yahoo -symbol BRK-B
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/portfolio-tracker/internal/adapter"
	"github.com/portfolio-tracker/internal/app"
	"github.com/portfolio-tracker/internal/config"
	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/service"
)

func main() {
	var (
		ticker    = flag.String("ticker", "", "Instrument to resolve through the full provider chain")
		fresh     = flag.Bool("fresh", false, "Ignore the freshness window")
		currency  = flag.String("currency", "", "Currency hint for a new instrument")
		assetType = flag.String("type", "", "Asset type hint for a new instrument")
		provider  = flag.String("provider", "", "Ask this provider only (no writes)")
		symbol    = flag.String("symbol", "", "Provider symbol used with -provider")
		timeout   = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *ticker == "" && (*provider == "" || *symbol == "") {
		fmt.Fprintln(os.Stderr, "either -ticker or -provider with -symbol is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	ctx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), logger), *timeout)
	defer cancel()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize engine")
	}
	defer engine.Close()

	var out interface{}
	if *provider != "" {
		p, ok := engine.Provider(*provider)
		if !ok {
			names := engine.ProviderNames()
			sort.Strings(names)
			logger.WithField("known", strings.Join(names, ",")).Fatalf("Unknown provider %q", *provider)
		}
		q, err := adapter.NewPunctuationProvider(p).FetchQuote(ctx, *symbol)
		if err != nil {
			logger.WithProvider(*provider).WithError(err).Fatal("Provider lookup failed")
		}
		out = q
	} else {
		res, err := engine.Quotes.Resolve(ctx, service.QuoteRequest{
			Ticker:        *ticker,
			ForceFresh:    *fresh,
			CurrencyHint:  *currency,
			AssetTypeHint: *assetType,
		})
		if err != nil {
			logger.WithError(err).Fatal("Quote not resolved")
		}
		out = res
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}
}
