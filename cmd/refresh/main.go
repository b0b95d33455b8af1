// Package main provides a CLI tool that refreshes stored price history
// without going through the HTTP API.
//
// Usage:
//
//	refresh -ticker ALL -period max
//	refresh -ticker AAPL -period 5y -quote
//	refresh -ticker ALL -async
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/portfolio-tracker/internal/app"
	"github.com/portfolio-tracker/internal/config"
	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/service"
	"github.com/portfolio-tracker/internal/types"
)

func main() {
	var (
		ticker = flag.String("ticker", types.AllInstruments, "Instrument id, or ALL for every active instrument")
		period = flag.String("period", "", "History period: max, <N>y, or empty for the smart window")
		quote  = flag.Bool("quote", false, "Also resolve a fresh live quote for a single ticker")
		async  = flag.Bool("async", false, "Queue the refresh for the worker instead of running it here")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	ctx, cancel := signal.NotifyContext(logging.WithLogger(context.Background(), logger), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize engine")
	}
	defer engine.Close()

	id := strings.ToUpper(strings.TrimSpace(*ticker))
	start := time.Now()

	var out interface{}
	switch {
	case *async:
		job, created, err := engine.Jobs.Enqueue(ctx, id, *period, "cli")
		if err != nil {
			logger.WithError(err).Fatal("Failed to queue refresh")
		}
		out = map[string]interface{}{"job": job, "created": created}

	case id == types.AllInstruments:
		summary, err := engine.History.RefreshAll(ctx, *period)
		if err != nil {
			logger.WithError(err).Fatal("Refresh failed")
		}
		out = summary

	default:
		res, err := engine.History.Refresh(ctx, id, *period)
		if err != nil {
			logger.WithError(err).Fatal("Refresh failed")
		}
		result := map[string]interface{}{"history": res}
		if *quote {
			q, err := engine.Quotes.Resolve(ctx, service.QuoteRequest{Ticker: id, ForceFresh: true})
			if err != nil {
				logger.WithError(err).WithTicker(id, "").Warn("Live quote unavailable")
			} else {
				result["quote"] = q
			}
		}
		out = result
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}
	logger.WithField("elapsed", time.Since(start).String()).Info("Refresh finished")
}
