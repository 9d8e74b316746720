package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hetulpatel/crossmatch/internal/arb"
	"github.com/hetulpatel/crossmatch/internal/collectors"
	"github.com/hetulpatel/crossmatch/internal/domain"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/matchcache"
	"github.com/hetulpatel/crossmatch/internal/matcher"
	"github.com/hetulpatel/crossmatch/internal/matches"
	"github.com/hetulpatel/crossmatch/internal/stream"
)

const (
	DefaultLimit        = 200
	DefaultFetchTimeout = 60 * time.Second
)

// Matcher is the matching stage used by the engine.
type Matcher interface {
	MatchEvents(ctx context.Context, pm, ks []collectors.Event, opts matcher.Options) ([]matches.MatchResult, error)
	MatchMarkets(ctx context.Context, pair matches.MatchResult, opts matcher.Options) ([]matches.MarketMatchResult, error)
}

// HistoryRecorder appends a run's arbitrage results to durable history.
type HistoryRecorder interface {
	InsertArbitrageResults(ctx context.Context, runID string, results []matches.ArbitrageResult) error
}

// OpportunityPublisher announces a run's opportunities downstream.
type OpportunityPublisher interface {
	PublishOpportunities(ctx context.Context, runID string, results []matches.ArbitrageResult) (int, error)
}

type Config struct {
	Polymarket   collectors.Collector
	Kalshi       collectors.Collector
	Matcher      Matcher
	Cache        *matchcache.Cache
	History      HistoryRecorder
	Publisher    OpportunityPublisher
	FetchTimeout time.Duration
	DefaultLimit int
	Now          func() time.Time
}

// Request carries the per-run options.
type Request struct {
	Limit          int     `json:"limit"`
	MinProfitCents float64 `json:"min_profit"`
	MaxDays        int     `json:"max_days"`
	ForceRefresh   bool    `json:"refresh_cache"`
	IncludeEvents  bool    `json:"include_events"`
	// Zero or out-of-range thresholds fall back to the matcher's configuration.
	EventMinScore  float64 `json:"event_min_score"`
	MarketMinScore float64 `json:"market_min_score"`
}

// Engine runs compare and arbitrage passes, one at a time.
type Engine struct {
	pm        collectors.Collector
	ks        collectors.Collector
	matcher   Matcher
	cache     *matchcache.Cache
	history   HistoryRecorder
	publisher OpportunityPublisher
	timeout   time.Duration
	limit     int
	now       func() time.Time

	sem *semaphore.Weighted
}

func New(cfg Config) (*Engine, error) {
	if cfg.Polymarket == nil || cfg.Kalshi == nil {
		return nil, fmt.Errorf("engine: both collectors are required")
	}
	if cfg.Matcher == nil {
		return nil, fmt.Errorf("engine: matcher is required")
	}
	e := &Engine{
		pm:        cfg.Polymarket,
		ks:        cfg.Kalshi,
		matcher:   cfg.Matcher,
		cache:     cfg.Cache,
		history:   cfg.History,
		publisher: cfg.Publisher,
		timeout:   cfg.FetchTimeout,
		limit:     cfg.DefaultLimit,
		now:       cfg.Now,
		sem:       semaphore.NewWeighted(1),
	}
	if e.timeout <= 0 {
		e.timeout = DefaultFetchTimeout
	}
	if e.limit <= 0 {
		e.limit = DefaultLimit
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

func (e *Engine) normalize(req Request) Request {
	if req.Limit <= 0 {
		req.Limit = e.limit
	}
	if req.MinProfitCents < 0 {
		req.MinProfitCents = 0
	}
	if req.MaxDays < 0 {
		req.MaxDays = 0
	}
	return req
}

type runOutput struct {
	pm, ks   []collectors.Event
	compare  []matches.CompareResult
	warnings []string
}

func (o *runOutput) done(data any, req Request) stream.Done {
	d := stream.Done{Data: data, Warnings: o.warnings}
	if req.IncludeEvents {
		d.PMEvents, d.KSEvents = o.pm, o.ks
	}
	return d
}

// Compare fetches both platforms, matches events and their markets and reports
// the grouped result. The terminal frame is sent to rep before returning.
func (e *Engine) Compare(ctx context.Context, req Request, rep stream.Reporter) ([]matches.CompareResult, error) {
	g := stream.Guarded(rep)
	req = e.normalize(req)
	out, err := e.run(ctx, req, g)
	if err != nil {
		g.Error(err.Error())
		return nil, err
	}
	g.Done(out.done(out.compare, req))
	return out.compare, nil
}

// Arbitrage runs a compare pass and returns the filtered, sorted opportunities
// of every matched market pair.
func (e *Engine) Arbitrage(ctx context.Context, req Request, rep stream.Reporter) ([]matches.ArbitrageResult, error) {
	g := stream.Guarded(rep)
	req = e.normalize(req)
	out, err := e.run(ctx, req, g)
	if err != nil {
		g.Error(err.Error())
		return nil, err
	}

	pairs := flatten(out.compare)
	g.Progress(fmt.Sprintf("Computing arbitrage for %d market pairs...", len(pairs)))
	all := arb.Detect(pairs, e.now())
	results := arb.Filter{MinProfitCents: req.MinProfitCents, MaxDays: req.MaxDays}.Apply(all)
	logging.Infof("[engine] %d of %d market pairs pass arbitrage filters", len(results), len(all))

	e.record(ctx, results)
	g.Done(out.done(results, req))
	return results, nil
}

func (e *Engine) record(ctx context.Context, results []matches.ArbitrageResult) {
	if len(results) == 0 {
		return
	}
	runID := uuid.NewString()
	if e.history != nil {
		if err := e.history.InsertArbitrageResults(ctx, runID, results); err != nil {
			logging.Warnf("[engine] record history for run %s: %v", runID, err)
		}
	}
	if e.publisher != nil {
		n, err := e.publisher.PublishOpportunities(ctx, runID, results)
		if err != nil {
			logging.Warnf("[engine] publish opportunities for run %s: %v", runID, err)
		} else if n > 0 {
			logging.Infof("[engine] published %d changed opportunities (run %s)", n, runID)
		}
	}
}

func (e *Engine) run(ctx context.Context, req Request, rep *stream.Guard) (*runOutput, error) {
	if !e.sem.TryAcquire(1) {
		rep.Progress("Another run is in progress, waiting...")
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrRunFailed, err)
		}
	}
	defer e.sem.Release(1)

	out := &runOutput{}
	rep.Progress(fmt.Sprintf("Fetching up to %d events from %s and %s...", req.Limit, e.pm.Name(), e.ks.Name()))
	fetched := collectors.FetchAll(ctx, req.Limit, e.timeout, e.pm, e.ks)
	var errs []error
	for _, res := range fetched {
		if res.Err != nil {
			errs = append(errs, res.Err)
			warning := fmt.Sprintf("%s unavailable: %v", res.Venue, res.Err)
			out.warnings = append(out.warnings, warning)
			rep.Progress("Warning: " + warning)
			continue
		}
		switch res.Venue {
		case collectors.VenuePolymarket:
			out.pm = res.Events
		case collectors.VenueKalshi:
			out.ks = res.Events
		}
	}
	if len(errs) == len(fetched) {
		return nil, fmt.Errorf("%w: %w", domain.ErrRunFailed, errors.Join(errs...))
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRunFailed, err)
	}
	rep.Progress(fmt.Sprintf("Fetched %d Polymarket and %d Kalshi events", len(out.pm), len(out.ks)))

	opts := matcher.Options{
		ForceRefresh:   req.ForceRefresh,
		EventMinScore:  req.EventMinScore,
		MarketMinScore: req.MarketMinScore,
		Progress:       rep.Progress,
	}
	rep.Progress("Matching events...")
	pairs, err := e.matcher.MatchEvents(ctx, out.pm, out.ks, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: event matching: %w", domain.ErrRunFailed, err)
	}

	marketMatches := make([][]matches.MarketMatchResult, len(pairs))
	for i, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrRunFailed, err)
		}
		rep.Progress(fmt.Sprintf("Matching markets %d/%d: %s", i+1, len(pairs), pair.PolyEvent.Title))
		mm, err := e.matcher.MatchMarkets(ctx, pair, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: market matching for %s: %w", domain.ErrRunFailed, pair.PolyEvent.Title, err)
		}
		marketMatches[i] = mm
	}

	out.compare = assemble(pairs, marketMatches)
	return out, nil
}

// FetchEvents lists one platform's events.
func (e *Engine) FetchEvents(ctx context.Context, venue collectors.Venue, limit int) ([]collectors.Event, error) {
	var c collectors.Collector
	switch venue {
	case collectors.VenuePolymarket:
		c = e.pm
	case collectors.VenueKalshi:
		c = e.ks
	default:
		return nil, fmt.Errorf("%w: unknown venue %q", domain.ErrValidation, venue)
	}
	if limit <= 0 {
		limit = e.limit
	}
	res := collectors.FetchAll(ctx, limit, e.timeout, c)[0]
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Events == nil {
		res.Events = []collectors.Event{}
	}
	return res.Events, nil
}

func (e *Engine) CacheStats(ctx context.Context) (matchcache.Stats, error) {
	return e.cache.Stats(ctx)
}

// CacheClear drops every match-cache entry. Running passes are not interrupted.
func (e *Engine) CacheClear(ctx context.Context) error {
	return e.cache.Clear(ctx)
}
