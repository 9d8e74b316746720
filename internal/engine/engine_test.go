package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hetulpatel/crossmatch/internal/collectors"
	"github.com/hetulpatel/crossmatch/internal/domain"
	"github.com/hetulpatel/crossmatch/internal/matchcache"
	"github.com/hetulpatel/crossmatch/internal/matcher"
	"github.com/hetulpatel/crossmatch/internal/matches"
	"github.com/hetulpatel/crossmatch/internal/stream"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeCollector struct {
	venue   collectors.Venue
	events  []collectors.Event
	err     error
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeCollector) Name() string            { return string(f.venue) }
func (f *fakeCollector) Venue() collectors.Venue { return f.venue }

func (f *fakeCollector) Fetch(ctx context.Context, limit int) ([]collectors.Event, error) {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

type vectorEmbedder map[string][]float32

func (v vectorEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, ok := v[t]
		if !ok {
			vec = []float32{0, 0, 1}
		}
		out[i] = vec
	}
	return out, nil
}

type fakeHistory struct {
	runID   string
	results []matches.ArbitrageResult
}

func (h *fakeHistory) InsertArbitrageResults(_ context.Context, runID string, results []matches.ArbitrageResult) error {
	h.runID, h.results = runID, results
	return nil
}

type fakePublisher struct {
	runID string
	count int
	err   error
}

func (p *fakePublisher) PublishOpportunities(_ context.Context, runID string, results []matches.ArbitrageResult) (int, error) {
	p.runID = runID
	p.count = len(results)
	return len(results), p.err
}

func market(venue collectors.Venue, id, q string, yes, no float64, closes *time.Time) collectors.Market {
	return collectors.Market{MarketID: id, Question: q, YesPrice: yes, NoPrice: no, Source: venue, Volume: 10, CloseTime: closes}
}

func fixtures() (pm, ks []collectors.Event) {
	closes := now.Add(73 * time.Hour)
	pm = []collectors.Event{
		{Source: collectors.VenuePolymarket, ID: "p1", Title: "Fed March", Volume: 100,
			Markets: []collectors.Market{market(collectors.VenuePolymarket, "pm-1", "Cut in March?", 0.40, 0.60, &closes)}},
		{Source: collectors.VenuePolymarket, ID: "p2", Title: "Election", Volume: 50,
			Markets: []collectors.Market{market(collectors.VenuePolymarket, "pm-2", "Winner X", 0.5, 0.5, nil)}},
	}
	ks = []collectors.Event{
		{Source: collectors.VenueKalshi, ID: "k2", Title: "Election", Volume: 50,
			Markets: []collectors.Market{market(collectors.VenueKalshi, "KS-2", "X wins", 0.5, 0.5, nil)}},
		{Source: collectors.VenueKalshi, ID: "k1", Title: "Fed March", Volume: 100,
			Markets: []collectors.Market{market(collectors.VenueKalshi, "KS-1", "March cut", 0.45, 0.58, nil)}},
	}
	return pm, ks
}

func embedder() vectorEmbedder {
	return vectorEmbedder{
		"Fed March":     {1, 0},
		"Cut in March?": {1, 0},
		"March cut":     {1, 0},
		"Election":      {0, 1},
		"Winner X":      {0, 1},
		"X wins":        {0, 1},
	}
}

func newEngine(t *testing.T, pmC, ksC collectors.Collector, cfg Config) *Engine {
	t.Helper()
	mc := matchcache.New(matchcache.NewMemoryBackend(), 0, matchcache.WithClock(func() time.Time { return now }))
	m, err := matcher.New(matcher.Config{Embedder: embedder(), Cache: mc})
	if err != nil {
		t.Fatal(err)
	}
	cfg.Polymarket, cfg.Kalshi, cfg.Matcher, cfg.Cache = pmC, ksC, m, mc
	cfg.Now = func() time.Time { return now }
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func terminal(t *testing.T, rec *stream.Recorder) stream.Frame {
	t.Helper()
	frames := rec.Frames()
	var terms []stream.Frame
	for _, f := range frames {
		if f.Type != stream.TypeProgress {
			terms = append(terms, f)
		}
	}
	if len(terms) != 1 {
		t.Fatalf("terminal frames = %d (%+v)", len(terms), frames)
	}
	if last := frames[len(frames)-1]; last.Type == stream.TypeProgress {
		t.Fatalf("last frame is progress: %+v", last)
	}
	return terms[0]
}

func TestCompare(t *testing.T) {
	pm, ks := fixtures()
	e := newEngine(t,
		&fakeCollector{venue: collectors.VenuePolymarket, events: pm},
		&fakeCollector{venue: collectors.VenueKalshi, events: ks}, Config{})
	rec := &stream.Recorder{}

	got, err := e.Compare(context.Background(), Request{IncludeEvents: true}, rec)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	// equal scores: larger combined volume first
	if got[0].EventMatch.PolyEvent.ID != "p1" || got[0].EventMatch.KalshiEvent.ID != "k1" {
		t.Errorf("first pair = %s/%s", got[0].EventMatch.PolyEvent.ID, got[0].EventMatch.KalshiEvent.ID)
	}
	if len(got[0].MarketMatches) != 1 || got[0].MarketMatches[0].KalshiMarket.MarketID != "KS-1" {
		t.Errorf("markets = %+v", got[0].MarketMatches)
	}

	done := terminal(t, rec)
	if done.Type != stream.TypeDone || len(done.PMEvents) != 2 || len(done.KSEvents) != 2 || len(done.Warnings) != 0 {
		t.Errorf("done frame = %+v", done)
	}
	if len(rec.Frames()) < 3 {
		t.Errorf("expected progress frames, got %+v", rec.Frames())
	}
}

func TestArbitrageFiltersAndRecords(t *testing.T) {
	pm, ks := fixtures()
	hist := &fakeHistory{}
	pub := &fakePublisher{}
	e := newEngine(t,
		&fakeCollector{venue: collectors.VenuePolymarket, events: pm},
		&fakeCollector{venue: collectors.VenueKalshi, events: ks},
		Config{History: hist, Publisher: pub})
	rec := &stream.Recorder{}

	got, err := e.Arbitrage(context.Background(), Request{}, rec)
	if err != nil {
		t.Fatalf("Arbitrage: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("results = %+v", got)
	}
	r := got[0]
	if r.PolyMarket.MarketID != "pm-1" || r.BestLeg != matches.DirectionBuyYesPMBuyNoKalshi || r.Profit != 0.02 {
		t.Errorf("result = %+v", r)
	}
	if r.DaysToResolution == nil || *r.DaysToResolution != 3 || r.AnnualizedReturn == nil {
		t.Errorf("resolution = %v / %v", r.DaysToResolution, r.AnnualizedReturn)
	}
	if hist.runID == "" || len(hist.results) != 1 || pub.runID != hist.runID || pub.count != 1 {
		t.Errorf("history %q/%d publisher %q/%d", hist.runID, len(hist.results), pub.runID, pub.count)
	}
	if done := terminal(t, rec); done.Type != stream.TypeDone || done.PMEvents != nil {
		t.Errorf("done frame = %+v", done)
	}

	got, err = e.Arbitrage(context.Background(), Request{MaxDays: 2}, stream.Discard{})
	if err != nil || len(got) != 0 {
		t.Errorf("max days filter: %+v, %v", got, err)
	}
	got, err = e.Arbitrage(context.Background(), Request{MinProfitCents: 3}, stream.Discard{})
	if err != nil || len(got) != 0 {
		t.Errorf("min profit filter: %+v, %v", got, err)
	}
}

func TestArbitragePublishFailureNotFatal(t *testing.T) {
	pm, ks := fixtures()
	e := newEngine(t,
		&fakeCollector{venue: collectors.VenuePolymarket, events: pm},
		&fakeCollector{venue: collectors.VenueKalshi, events: ks},
		Config{Publisher: &fakePublisher{err: errors.New("broker down")}})
	got, err := e.Arbitrage(context.Background(), Request{}, nil)
	if err != nil || len(got) != 1 {
		t.Errorf("Arbitrage = %v, %v", got, err)
	}
}

func TestOnePlatformFailing(t *testing.T) {
	pm, _ := fixtures()
	e := newEngine(t,
		&fakeCollector{venue: collectors.VenuePolymarket, events: pm},
		&fakeCollector{venue: collectors.VenueKalshi, err: errors.New("503")}, Config{})
	rec := &stream.Recorder{}

	got, err := e.Compare(context.Background(), Request{}, rec)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("results = %+v", got)
	}
	done := terminal(t, rec)
	if done.Type != stream.TypeDone || len(done.Warnings) != 1 || !strings.Contains(done.Warnings[0], "kalshi") {
		t.Errorf("done frame = %+v", done)
	}
	warned := false
	for _, f := range rec.Frames() {
		if f.Type == stream.TypeProgress && strings.HasPrefix(f.Msg, "Warning:") {
			warned = true
		}
	}
	if !warned {
		t.Error("missing warning progress frame")
	}
}

func TestBothPlatformsFailing(t *testing.T) {
	e := newEngine(t,
		&fakeCollector{venue: collectors.VenuePolymarket, err: errors.New("dns")},
		&fakeCollector{venue: collectors.VenueKalshi, err: errors.New("503")}, Config{})
	rec := &stream.Recorder{}

	_, err := e.Arbitrage(context.Background(), Request{}, rec)
	if !errors.Is(err, domain.ErrRunFailed) || !errors.Is(err, domain.ErrUpstreamFetch) {
		t.Fatalf("err = %v", err)
	}
	if f := terminal(t, rec); f.Type != stream.TypeError || f.Msg == "" {
		t.Errorf("terminal = %+v", f)
	}
}

func TestSingleFlight(t *testing.T) {
	pm, ks := fixtures()
	release := make(chan struct{})
	started := make(chan struct{})
	e := newEngine(t,
		&fakeCollector{venue: collectors.VenuePolymarket, events: pm, block: release, started: started},
		&fakeCollector{venue: collectors.VenueKalshi, events: ks}, Config{})

	firstDone := make(chan error, 1)
	go func() {
		_, err := e.Compare(context.Background(), Request{}, nil)
		firstDone <- err
	}()
	<-started

	rec := &stream.Recorder{}
	secondDone := make(chan error, 1)
	go func() {
		_, err := e.Compare(context.Background(), Request{}, rec)
		secondDone <- err
	}()

	deadline := time.After(5 * time.Second)
	for waiting := false; !waiting; {
		for _, f := range rec.Frames() {
			if strings.Contains(f.Msg, "waiting") {
				waiting = true
			}
		}
		if waiting {
			break
		}
		select {
		case <-deadline:
			t.Fatal("second run never reported waiting")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Errorf("first run: %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Errorf("second run: %v", err)
	}
	terminal(t, rec)
}

func TestCancelledWhileWaiting(t *testing.T) {
	pm, ks := fixtures()
	release := make(chan struct{})
	started := make(chan struct{})
	e := newEngine(t,
		&fakeCollector{venue: collectors.VenuePolymarket, events: pm, block: release, started: started},
		&fakeCollector{venue: collectors.VenueKalshi, events: ks}, Config{})
	defer close(release)

	go e.Compare(context.Background(), Request{}, nil)
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &stream.Recorder{}
	if _, err := e.Compare(ctx, Request{}, rec); !errors.Is(err, domain.ErrRunFailed) {
		t.Fatalf("err = %v", err)
	}
	if f := terminal(t, rec); f.Type != stream.TypeError {
		t.Errorf("terminal = %+v", f)
	}
}

func TestFetchEvents(t *testing.T) {
	pm, ks := fixtures()
	e := newEngine(t,
		&fakeCollector{venue: collectors.VenuePolymarket, events: pm},
		&fakeCollector{venue: collectors.VenueKalshi, events: ks}, Config{})
	ctx := context.Background()

	got, err := e.FetchEvents(ctx, collectors.VenueKalshi, 1)
	if err != nil || len(got) != 1 || got[0].ID != "k2" {
		t.Errorf("FetchEvents = %+v, %v", got, err)
	}
	if _, err := e.FetchEvents(ctx, "manifold", 1); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("unknown venue err = %v", err)
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	pm, ks := fixtures()
	e := newEngine(t,
		&fakeCollector{venue: collectors.VenuePolymarket, events: pm},
		&fakeCollector{venue: collectors.VenueKalshi, events: ks}, Config{})
	ctx := context.Background()
	if _, err := e.Compare(ctx, Request{}, nil); err != nil {
		t.Fatal(err)
	}
	st, err := e.CacheStats(ctx)
	if err != nil || st.EventPairs != 2 || st.MarketPairs != 2 {
		t.Fatalf("stats = %+v, %v", st, err)
	}
	for i := 0; i < 2; i++ {
		if err := e.CacheClear(ctx); err != nil {
			t.Fatalf("clear: %v", err)
		}
	}
	st, _ = e.CacheStats(ctx)
	if st.EventPairs != 0 || st.MarketPairs != 0 {
		t.Errorf("after clear = %+v", st)
	}
}

func TestAssembleDropsRepeats(t *testing.T) {
	ev := func(venue collectors.Venue, id string) collectors.Event {
		return collectors.Event{Source: venue, ID: id}
	}
	mk := func(venue collectors.Venue, id string) collectors.Market {
		return collectors.Market{Source: venue, MarketID: id}
	}
	pairs := []matches.MatchResult{
		{PolyEvent: ev(collectors.VenuePolymarket, "p1"), KalshiEvent: ev(collectors.VenueKalshi, "k1")},
		{PolyEvent: ev(collectors.VenuePolymarket, "p1"), KalshiEvent: ev(collectors.VenueKalshi, "k2")},
		{PolyEvent: ev(collectors.VenuePolymarket, "p3"), KalshiEvent: ev(collectors.VenueKalshi, "k3")},
	}
	mm := [][]matches.MarketMatchResult{
		{{PolyMarket: mk(collectors.VenuePolymarket, "a"), KalshiMarket: mk(collectors.VenueKalshi, "A")}},
		{{PolyMarket: mk(collectors.VenuePolymarket, "b"), KalshiMarket: mk(collectors.VenueKalshi, "B")}},
		{
			{PolyMarket: mk(collectors.VenuePolymarket, "a"), KalshiMarket: mk(collectors.VenueKalshi, "C")},
			{PolyMarket: mk(collectors.VenuePolymarket, "c"), KalshiMarket: mk(collectors.VenueKalshi, "C")},
		},
	}
	got := assemble(pairs, mm)
	if len(got) != 2 || got[1].EventMatch.PolyEvent.ID != "p3" {
		t.Fatalf("assemble = %+v", got)
	}
	if len(got[1].MarketMatches) != 1 || got[1].MarketMatches[0].PolyMarket.MarketID != "c" {
		t.Errorf("markets = %+v", got[1].MarketMatches)
	}
	if n := len(flatten(got)); n != 2 {
		t.Errorf("flatten = %d", n)
	}
}
