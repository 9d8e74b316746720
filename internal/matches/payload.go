package matches

import "github.com/hetulpatel/crossmatch/internal/collectors"

// MatchResult pairs a Polymarket event with a Kalshi event judged equivalent.
type MatchResult struct {
	PolyEvent   collectors.Event `json:"poly_event"`
	KalshiEvent collectors.Event `json:"kalshi_event"`
	Score       float64          `json:"score"`
}

// MarketMatchResult pairs two contracts within a matched event pair.
type MarketMatchResult struct {
	PolyMarket   collectors.Market `json:"poly_market"`
	KalshiMarket collectors.Market `json:"kalshi_market"`
	Score        float64           `json:"score"`
}

// CompareResult is one event match with its bracket-level matches.
type CompareResult struct {
	EventMatch    MatchResult         `json:"event_match"`
	MarketMatches []MarketMatchResult `json:"market_matches"`
}
