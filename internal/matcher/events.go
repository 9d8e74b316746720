package matcher

import (
	"context"

	"github.com/hetulpatel/crossmatch/internal/collectors"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/matchcache"
	"github.com/hetulpatel/crossmatch/internal/matches"
)

// MatchEvents pairs Polymarket events with Kalshi events one-to-one. Results are
// in acceptance order (best score first) and every accepted pair is written back
// to the match cache.
func (m *Matcher) MatchEvents(ctx context.Context, pm, ks []collectors.Event, opts Options) ([]matches.MatchResult, error) {
	if len(pm) == 0 || len(ks) == 0 {
		return nil, nil
	}

	var cached map[string]matchcache.Entry
	if !opts.ForceRefresh {
		cached = m.cache.EventPairs(ctx)
	}
	lookup := func(i, j int) (matchcache.Entry, bool) {
		e, ok := cached[matches.EventPairKey(pm[i], ks[j])]
		if !ok || e.PolyTitle != pm[i].Title || e.KalshiTitle != ks[j].Title {
			return matchcache.Entry{}, false
		}
		return e, true
	}

	left := make([]string, len(pm))
	for i, ev := range pm {
		left[i] = ev.Title
	}
	right := make([]string, len(ks))
	for j, ev := range ks {
		right[j] = ev.Title
	}

	scores, err := m.scoreMatrix(ctx, left, right, func(i, j int) (float64, bool) {
		e, ok := lookup(i, j)
		return e.Score, ok
	}, opts, "event titles")
	if err != nil {
		return nil, err
	}

	minScore := m.eventThreshold(opts)
	accepted := assign(scores, func(i, j int) float64 {
		return pm[i].Volume + ks[j].Volume
	}, minScore)

	results := make([]matches.MatchResult, 0, len(accepted))
	entries := make([]matchcache.Entry, 0, len(accepted))
	for _, c := range accepted {
		res := matches.MatchResult{PolyEvent: pm[c.i], KalshiEvent: ks[c.j], Score: c.score}
		results = append(results, res)
		m.logger.LogEvent(res, minScore)

		entry := matchcache.Entry{
			Kind:        matches.KindEvent,
			Key:         matches.EventPairKey(pm[c.i], ks[c.j]),
			PolyID:      pm[c.i].ID,
			KalshiID:    ks[c.j].ID,
			Score:       c.score,
			PolyTitle:   pm[c.i].Title,
			KalshiTitle: ks[c.j].Title,
			PolyURL:     pm[c.i].URL,
			KalshiURL:   ks[c.j].URL,
		}
		// a cached score keeps its original age and market digest
		if prev, ok := lookup(c.i, c.j); ok {
			entry.CachedAt = prev.CachedAt
			entry.MarketsDigest = prev.MarketsDigest
		}
		entries = append(entries, entry)
	}
	m.cache.Store(ctx, entries...)

	logging.Infof("[matcher] %d event matches from %d x %d events (min score %.2f)", len(results), len(pm), len(ks), minScore)
	opts.progress("Matched %d event pairs", len(results))
	return results, nil
}
