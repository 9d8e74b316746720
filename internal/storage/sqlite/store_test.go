package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hetulpatel/crossmatch/internal/collectors"
	"github.com/hetulpatel/crossmatch/internal/matchcache"
	"github.com/hetulpatel/crossmatch/internal/matches"
	"github.com/hetulpatel/crossmatch/internal/storage/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "nested", "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.CreateTables(context.Background()); err != nil {
		t.Fatalf("CreateTables: %v", err)
	}
	return store
}

func TestEventPairsRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	cachedAt := time.Date(2026, 2, 1, 8, 30, 0, 123, time.UTC)

	in := matchcache.Entry{
		Key: "event|kalshi:K|polymarket:P", PolyID: "P", KalshiID: "K", Score: 0.8125,
		PolyTitle: "Fed cuts in March?", KalshiTitle: "Fed rate cut March", MarketsDigest: "abc", CachedAt: cachedAt,
	}
	if err := store.PutEventPairs(ctx, []matchcache.Entry{in}); err != nil {
		t.Fatalf("PutEventPairs: %v", err)
	}

	got, err := store.Get(ctx, matches.KindEvent, in.Key)
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if got.Score != in.Score || got.PolyTitle != in.PolyTitle || got.MarketsDigest != "abc" || got.Kind != matches.KindEvent {
		t.Errorf("got %+v", got)
	}
	if !got.CachedAt.Equal(cachedAt) {
		t.Errorf("CachedAt = %v, want %v", got.CachedAt, cachedAt)
	}

	in.Score = 0.9
	if err := store.PutEventPairs(ctx, []matchcache.Entry{in}); err != nil {
		t.Fatal(err)
	}
	all, err := store.EventPairs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Score != 0.9 {
		t.Errorf("upsert should overwrite, got %+v", all)
	}

	missing, err := store.Get(ctx, matches.KindEvent, "nope")
	if err != nil || missing != nil {
		t.Errorf("missing key = %v, %v", missing, err)
	}
}

func TestReplaceMarketPairsAndStats(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	t1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(48 * time.Hour)
	closes := t2.Add(24 * time.Hour)

	first := []matchcache.Entry{
		{Key: "m1", PolyID: "1", KalshiID: "A", Score: 0.9, CachedAt: t1},
		{Key: "m2", PolyID: "2", KalshiID: "B", Score: 0.85, CachedAt: t1},
	}
	if err := store.ReplaceMarketPairs(ctx, "ev", "d1", first); err != nil {
		t.Fatalf("ReplaceMarketPairs: %v", err)
	}
	second := []matchcache.Entry{{Key: "m3", PolyID: "1", KalshiID: "B", Score: 0.95, KalshiCloseTime: &closes, CachedAt: t2}}
	if err := store.ReplaceMarketPairs(ctx, "ev", "d2", second); err != nil {
		t.Fatal(err)
	}

	got, err := store.MarketPairs(ctx, "ev")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key != "m3" || got[0].EventKey != "ev" {
		t.Fatalf("MarketPairs = %+v", got)
	}
	if got[0].KalshiCloseTime == nil || !got[0].KalshiCloseTime.Equal(closes) || got[0].PolyCloseTime != nil {
		t.Errorf("close times = %v / %v", got[0].PolyCloseTime, got[0].KalshiCloseTime)
	}

	if err := store.PutEventPairs(ctx, []matchcache.Entry{{Key: "ev", PolyID: "P", KalshiID: "K", Score: 0.8, CachedAt: t1}}); err != nil {
		t.Fatal(err)
	}
	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.EventPairs != 1 || st.MarketPairs != 1 {
		t.Errorf("counts = %d/%d", st.EventPairs, st.MarketPairs)
	}
	if st.OldestEntry == nil || !st.OldestEntry.Equal(t1) || st.NewestEntry == nil || !st.NewestEntry.Equal(t2) {
		t.Errorf("range = %v .. %v", st.OldestEntry, st.NewestEntry)
	}

	for i := 0; i < 2; i++ {
		if err := store.Clear(ctx); err != nil {
			t.Fatalf("Clear: %v", err)
		}
	}
	st, err = store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.EventPairs != 0 || st.MarketPairs != 0 || st.OldestEntry != nil || st.NewestEntry != nil {
		t.Errorf("after clear: %+v", st)
	}
}

func TestCachePolicyOverSQLite(t *testing.T) {
	store := openStore(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	cache := matchcache.New(store, 24*time.Hour, matchcache.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	cache.Store(ctx, matchcache.Entry{Key: "k", PolyID: "P", KalshiID: "K", Score: 0.77})
	if e, ok := cache.Lookup(ctx, matches.KindEvent, "k"); !ok || e.Score != 0.77 {
		t.Fatalf("Lookup = %+v, %v", e, ok)
	}
	now = now.Add(25 * time.Hour)
	if _, ok := cache.Lookup(ctx, matches.KindEvent, "k"); ok {
		t.Fatal("expired entry returned")
	}
}

func TestArbitrageHistory(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	days := 3
	ann := 2.4333
	results := []matches.ArbitrageResult{
		{
			PolyMarket:   collectors.Market{MarketID: "1", Question: "Q1", YesPrice: 0.4, NoPrice: 0.6},
			KalshiMarket: collectors.Market{MarketID: "A", Question: "QA", YesPrice: 0.62, NoPrice: 0.38},
			MatchScore:   0.9, BestLeg: matches.DirectionBuyYesPMBuyNoKalshi, Spread: 0.78, Profit: 0.22,
			DaysToResolution: &days, AnnualizedReturn: &ann,
		},
		{
			PolyMarket:   collectors.Market{MarketID: "2", Question: "Q2"},
			KalshiMarket: collectors.Market{MarketID: "B", Question: "QB"},
			BestLeg:      matches.DirectionBuyYesKalshiBuyNoPM,
		},
	}
	if err := store.InsertArbitrageResults(ctx, "run-1", results); err != nil {
		t.Fatalf("InsertArbitrageResults: %v", err)
	}

	rows, err := store.RecentArbitrage(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("len = %d", len(rows))
	}
	if rows[0].PolyMarketID != "2" || rows[0].DaysToResolution != nil || rows[0].AnnualizedReturn != nil {
		t.Errorf("newest row = %+v", rows[0])
	}
	if rows[1].DaysToResolution == nil || *rows[1].DaysToResolution != 3 || rows[1].RunID != "run-1" {
		t.Errorf("oldest row = %+v", rows[1])
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	rows, err = store.RecentArbitrage(ctx, 10)
	if err != nil || len(rows) != 2 {
		t.Errorf("history should survive cache clear: %d rows, %v", len(rows), err)
	}
}
