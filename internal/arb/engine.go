package arb

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/matches"
)

var (
	one         = decimal.NewFromInt(1)
	hundred     = decimal.NewFromInt(100)
	daysPerYear = decimal.NewFromInt(365)
)

// Evaluate computes both hedge legs of a matched market pair and reports the
// cheaper one. Non-opportunities (profit <= 0) are returned as well.
func Evaluate(pair matches.MarketMatchResult, now time.Time) matches.ArbitrageResult {
	pm, ks := pair.PolyMarket, pair.KalshiMarket

	leg1 := decimal.NewFromFloat(pm.YesPrice).Add(decimal.NewFromFloat(ks.NoPrice))
	leg2 := decimal.NewFromFloat(ks.YesPrice).Add(decimal.NewFromFloat(pm.NoPrice))

	best, spread := matches.DirectionBuyYesPMBuyNoKalshi, leg1
	if leg2.LessThan(leg1) {
		best, spread = matches.DirectionBuyYesKalshiBuyNoPM, leg2
	}
	profit := one.Sub(spread)

	res := matches.ArbitrageResult{
		PolyMarket:   pm,
		KalshiMarket: ks,
		MatchScore:   pair.Score,
		BestLeg:      best,
		Spread:       spread.InexactFloat64(),
		Profit:       profit.InexactFloat64(),
	}

	res.DaysToResolution = daysToResolution(pm.CloseTime, ks.CloseTime, now)
	if d := res.DaysToResolution; d != nil && *d > 0 {
		ann := profit.Div(decimal.NewFromInt(int64(*d))).Mul(daysPerYear).InexactFloat64()
		res.AnnualizedReturn = &ann
	}
	return res
}

// daysToResolution floors the whole days from now until the earlier close time.
// It is nil when neither side has a close time or the close is already past.
func daysToResolution(a, b *time.Time, now time.Time) *int {
	var earliest *time.Time
	for _, t := range []*time.Time{a, b} {
		if t != nil && (earliest == nil || t.Before(*earliest)) {
			earliest = t
		}
	}
	if earliest == nil {
		return nil
	}
	days := int(math.Floor(earliest.Sub(now).Hours() / 24))
	if days < 0 {
		return nil
	}
	return &days
}

// Detect evaluates every pair and returns the results sorted by Sort.
func Detect(pairs []matches.MarketMatchResult, now time.Time) []matches.ArbitrageResult {
	out := make([]matches.ArbitrageResult, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Evaluate(p, now))
	}
	Sort(out)
	return out
}

// Sort orders results by annualized return descending with unknown returns last,
// then by profit descending. Equal results keep their input order.
func Sort(results []matches.ArbitrageResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].AnnualizedReturn, results[j].AnnualizedReturn
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && *a != *b:
			return *a > *b
		}
		return results[i].Profit > results[j].Profit
	})
}

// Filter narrows detector output for arbitrage views.
type Filter struct {
	// MinProfitCents drops results whose profit in hundredths is below it.
	MinProfitCents float64
	// MaxDays drops results resolving later than it. Zero disables the check;
	// results with unknown resolution are kept.
	MaxDays int
}

// Apply keeps true opportunities passing f, preserving order.
func (f Filter) Apply(results []matches.ArbitrageResult) []matches.ArbitrageResult {
	minCents := decimal.NewFromFloat(f.MinProfitCents)
	out := make([]matches.ArbitrageResult, 0, len(results))
	dropped := 0
	for _, r := range results {
		profit := decimal.NewFromFloat(r.Profit)
		switch {
		case !profit.IsPositive():
			dropped++
			continue
		case profit.Mul(hundred).LessThan(minCents):
			dropped++
			continue
		case f.MaxDays > 0 && r.DaysToResolution != nil && *r.DaysToResolution > f.MaxDays:
			dropped++
			continue
		}
		out = append(out, r)
	}
	if dropped > 0 {
		logging.Debugf("[arb] filtered out %d of %d results (min %.2fc, max days %d)", dropped, len(results), f.MinProfitCents, f.MaxDays)
	}
	return out
}
