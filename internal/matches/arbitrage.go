package matches

import "github.com/hetulpatel/crossmatch/internal/collectors"

// Direction names the cheaper combined leg of a matched market pair.
type Direction string

const (
	DirectionNone                Direction = ""
	DirectionBuyYesPMBuyNoKalshi Direction = "pm_yes_ks_no"
	DirectionBuyYesKalshiBuyNoPM Direction = "ks_yes_pm_no"
)

// ArbitrageResult is the gross mid-price spread of a matched market pair.
// DaysToResolution and AnnualizedReturn are nil when unknown.
type ArbitrageResult struct {
	PolyMarket       collectors.Market `json:"poly_market"`
	KalshiMarket     collectors.Market `json:"kalshi_market"`
	MatchScore       float64           `json:"match_score"`
	BestLeg          Direction         `json:"best_leg"`
	Spread           float64           `json:"spread"`
	Profit           float64           `json:"profit"`
	DaysToResolution *int              `json:"days_to_resolution"`
	AnnualizedReturn *float64          `json:"annualized_return"`
}

// PairKey returns the market pair key for the result.
func (r ArbitrageResult) PairKey() string {
	return MarketPairKey(r.PolyMarket, r.KalshiMarket)
}
