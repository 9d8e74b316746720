package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/hetulpatel/crossmatch/internal/app"
	"github.com/hetulpatel/crossmatch/internal/config"
	"github.com/hetulpatel/crossmatch/internal/engine"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/stream"
)

// progress prints run progress to stderr so stdout stays machine-readable.
type progress struct{}

func (progress) Progress(msg string) { fmt.Fprintln(os.Stderr, msg) }
func (progress) Done(stream.Done)    {}
func (progress) Error(msg string)    { fmt.Fprintln(os.Stderr, "error:", msg) }

func main() {
	configPath := flag.String("config", os.Getenv("ARB_CONFIG"), "path to a TOML config file")
	cmd := flag.String("cmd", "arb", "compare | arb | stats | clear")
	limit := flag.Int("limit", 0, "events to fetch per platform (0 = configured default)")
	minProfit := flag.Float64("min-profit", -1, "minimum profit in cents (default from config)")
	maxDays := flag.Int("max-days", -1, "maximum days to resolution, 0 = unlimited (default from config)")
	refresh := flag.Bool("refresh", false, "ignore cached matches")
	eventMin := flag.Float64("event-min-score", 0, "event similarity threshold for this run (0 = configured)")
	marketMin := flag.Float64("market-min-score", 0, "market similarity threshold for this run (0 = configured)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatalf("[arb-cli] load config: %v", err)
	}
	deps, cleanup, err := app.Wire(ctx, cfg)
	if err != nil {
		logging.Fatalf("[arb-cli] %v", err)
	}
	defer cleanup()

	req := engine.Request{
		Limit:          *limit,
		MinProfitCents: cfg.Engine.MinProfitCents,
		MaxDays:        cfg.Engine.MaxDays,
		ForceRefresh:   *refresh || cfg.Engine.ForceRefresh,
		EventMinScore:  *eventMin,
		MarketMinScore: *marketMin,
	}
	if *minProfit >= 0 {
		req.MinProfitCents = *minProfit
	}
	if *maxDays >= 0 {
		req.MaxDays = *maxDays
	}

	var out any
	switch strings.ToLower(*cmd) {
	case "compare":
		out, err = deps.Engine.Compare(ctx, req, progress{})
	case "arb", "arbitrage":
		out, err = deps.Engine.Arbitrage(ctx, req, progress{})
	case "stats":
		out, err = deps.Engine.CacheStats(ctx)
	case "clear":
		err = deps.Engine.CacheClear(ctx)
		out = map[string]string{"status": "cleared"}
	default:
		err = fmt.Errorf("unknown command %q", *cmd)
	}
	if err != nil {
		cleanup()
		logging.Fatalf("[arb-cli] %s: %v", *cmd, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logging.Errorf("[arb-cli] encode output: %v", err)
	}
}
