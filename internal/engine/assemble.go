package engine

import (
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/matches"
)

// assemble groups market matches under their event pair. No event or market id
// appears twice in the output; repeats are dropped with a log line.
func assemble(pairs []matches.MatchResult, marketMatches [][]matches.MarketMatchResult) []matches.CompareResult {
	out := make([]matches.CompareResult, 0, len(pairs))
	seenEvents := make(map[string]struct{})
	seenMarkets := make(map[string]struct{})

	for i, pair := range pairs {
		pmKey := "polymarket:" + pair.PolyEvent.ID
		ksKey := "kalshi:" + pair.KalshiEvent.ID
		if seen(seenEvents, pmKey) || seen(seenEvents, ksKey) {
			logging.Warnf("[assembler] dropped repeated event pair %s / %s", pmKey, ksKey)
			continue
		}
		seenEvents[pmKey] = struct{}{}
		seenEvents[ksKey] = struct{}{}

		var mm []matches.MarketMatchResult
		if i < len(marketMatches) {
			mm = marketMatches[i]
		}
		kept := make([]matches.MarketMatchResult, 0, len(mm))
		for _, m := range mm {
			pmM := "polymarket:" + m.PolyMarket.MarketID
			ksM := "kalshi:" + m.KalshiMarket.MarketID
			if seen(seenMarkets, pmM) || seen(seenMarkets, ksM) {
				logging.Warnf("[assembler] dropped repeated market pair %s / %s", pmM, ksM)
				continue
			}
			seenMarkets[pmM] = struct{}{}
			seenMarkets[ksM] = struct{}{}
			kept = append(kept, m)
		}
		out = append(out, matches.CompareResult{EventMatch: pair, MarketMatches: kept})
	}
	return out
}

func seen(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

// flatten lists every market match of the run, event grouping discarded.
func flatten(results []matches.CompareResult) []matches.MarketMatchResult {
	var out []matches.MarketMatchResult
	for _, r := range results {
		out = append(out, r.MarketMatches...)
	}
	return out
}
