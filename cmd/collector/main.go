package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"

	"github.com/hetulpatel/crossmatch/internal/collectors"
	"github.com/hetulpatel/crossmatch/internal/config"
	"github.com/hetulpatel/crossmatch/internal/kalshi"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/polymarket"
)

// collector fetches one platform's open events and prints the normalized
// records as JSON.
func main() {
	configPath := flag.String("config", os.Getenv("ARB_CONFIG"), "path to a TOML config file")
	venue := flag.String("venue", "polymarket", "polymarket | kalshi")
	limit := flag.Int("limit", 20, "events to fetch")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatalf("[collector] load config: %v", err)
	}
	logging.SetLevel(cfg.LogLevel)

	var c collectors.Collector
	switch collectors.Venue(*venue) {
	case collectors.VenuePolymarket:
		c = polymarket.NewClient(polymarket.Config{BaseURL: cfg.Polymarket.BaseURL, Timeout: cfg.Polymarket.Timeout.Duration})
	case collectors.VenueKalshi:
		c = kalshi.NewClient(kalshi.Config{BaseURL: cfg.Kalshi.BaseURL, APIKey: cfg.Kalshi.APIKey, Timeout: cfg.Kalshi.Timeout.Duration})
	default:
		logging.Fatalf("[collector] unknown venue %q", *venue)
	}

	res := collectors.FetchAll(ctx, *limit, cfg.Engine.FetchTimeout.Duration, c)[0]
	if res.Err != nil {
		logging.Fatalf("[collector] %v", res.Err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Events); err != nil {
		logging.Errorf("[collector] encode: %v", err)
	}
}
