package matcher

import (
	"context"
	"sort"

	"github.com/hetulpatel/crossmatch/internal/collectors"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/matchcache"
	"github.com/hetulpatel/crossmatch/internal/matches"
)

// MatchMarkets pairs the contracts of one matched event pair one-to-one.
func (m *Matcher) MatchMarkets(ctx context.Context, pair matches.MatchResult, opts Options) ([]matches.MarketMatchResult, error) {
	pm, ks := pair.PolyEvent.Markets, pair.KalshiEvent.Markets
	if len(pm) == 0 || len(ks) == 0 {
		return nil, nil
	}

	eventKey := matches.EventPairKey(pair.PolyEvent, pair.KalshiEvent)
	digest := matches.MarketsDigest(pair.PolyEvent, pair.KalshiEvent)

	// One contract per side: the event match is the contract match. Kalshi's
	// lone question often reads differently from its event title, so it is
	// not re-embedded.
	if len(pm) == 1 && len(ks) == 1 {
		res := matches.MarketMatchResult{PolyMarket: pm[0], KalshiMarket: ks[0], Score: pair.Score}
		m.logger.LogMarket(res, m.marketThreshold(opts))
		m.cache.StoreMarketPairs(ctx, eventKey, digest, []matchcache.Entry{marketEntry(eventKey, pm[0], ks[0], pair.Score)})
		return []matches.MarketMatchResult{res}, nil
	}

	if !opts.ForceRefresh {
		if res, ok := m.reuseMarkets(ctx, eventKey, digest, pm, ks); ok {
			logging.Debugf("[matcher] reused %d cached market pairs for %s", len(res), eventKey)
			return res, nil
		}
	}

	left := make([]string, len(pm))
	for i, mk := range pm {
		left[i] = mk.Question
	}
	right := make([]string, len(ks))
	for j, mk := range ks {
		right[j] = mk.Question
	}
	noCache := func(int, int) (float64, bool) { return 0, false }
	scores, err := m.scoreMatrix(ctx, left, right, noCache, opts, "market questions")
	if err != nil {
		return nil, err
	}

	minScore := m.marketThreshold(opts)
	accepted := assign(scores, func(i, j int) float64 {
		return pm[i].Volume + ks[j].Volume
	}, minScore)

	results := make([]matches.MarketMatchResult, 0, len(accepted))
	entries := make([]matchcache.Entry, 0, len(accepted))
	for _, c := range accepted {
		res := matches.MarketMatchResult{PolyMarket: pm[c.i], KalshiMarket: ks[c.j], Score: c.score}
		results = append(results, res)
		m.logger.LogMarket(res, minScore)
		entries = append(entries, marketEntry(eventKey, pm[c.i], ks[c.j], c.score))
	}
	m.cache.StoreMarketPairs(ctx, eventKey, digest, entries)
	return results, nil
}

func marketEntry(eventKey string, pm, ks collectors.Market, score float64) matchcache.Entry {
	return matchcache.Entry{
		Kind:            matches.KindMarket,
		Key:             matches.MarketPairKey(pm, ks),
		PolyID:          pm.MarketID,
		KalshiID:        ks.MarketID,
		EventKey:        eventKey,
		Score:           score,
		PolyTitle:       pm.Question,
		KalshiTitle:     ks.Question,
		PolyURL:         pm.URL,
		KalshiURL:       ks.URL,
		PolyCloseTime:   pm.CloseTime,
		KalshiCloseTime: ks.CloseTime,
	}
}

// reuseMarkets rebuilds the event pair's assignment from the cache when the
// market sets are unchanged and every cached pair is still fresh and current.
func (m *Matcher) reuseMarkets(ctx context.Context, eventKey, digest string, pm, ks []collectors.Market) ([]matches.MarketMatchResult, bool) {
	ev, ok := m.cache.Lookup(ctx, matches.KindEvent, eventKey)
	if !ok || ev.MarketsDigest == "" || ev.MarketsDigest != digest {
		return nil, false
	}
	entries, complete := m.cache.MarketPairs(ctx, eventKey)
	if !complete {
		return nil, false
	}

	pmIdx := make(map[string]int, len(pm))
	for i, mk := range pm {
		pmIdx[mk.MarketID] = i
	}
	ksIdx := make(map[string]int, len(ks))
	for j, mk := range ks {
		ksIdx[mk.MarketID] = j
	}

	now := m.cache.Now()
	cands := make([]candidate, 0, len(entries))
	for _, e := range entries {
		i, okP := pmIdx[e.PolyID]
		j, okK := ksIdx[e.KalshiID]
		if !okP || !okK {
			return nil, false
		}
		if pm[i].Question != e.PolyTitle || ks[j].Question != e.KalshiTitle {
			return nil, false
		}
		if pm[i].ClosedAt(now) || ks[j].ClosedAt(now) {
			return nil, false
		}
		cands = append(cands, candidate{i: i, j: j, score: e.Score, volume: pm[i].Volume + ks[j].Volume})
	}
	sort.SliceStable(cands, func(a, b int) bool {
		ca, cb := cands[a], cands[b]
		if ca.score != cb.score {
			return ca.score > cb.score
		}
		if ca.volume != cb.volume {
			return ca.volume > cb.volume
		}
		if ca.i != cb.i {
			return ca.i < cb.i
		}
		return ca.j < cb.j
	})

	out := make([]matches.MarketMatchResult, 0, len(cands))
	for _, c := range cands {
		out = append(out, matches.MarketMatchResult{PolyMarket: pm[c.i], KalshiMarket: ks[c.j], Score: c.score})
	}
	return out, true
}
