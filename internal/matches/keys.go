package matches

import (
	"fmt"
	"sort"

	"github.com/hetulpatel/crossmatch/internal/collectors"
	"github.com/hetulpatel/crossmatch/internal/hashutil"
)

// Kind distinguishes event-level from market-level pairs in the match cache.
type Kind string

const (
	KindEvent  Kind = "event"
	KindMarket Kind = "market"
)

// NaturalID identifies a record on its platform.
type NaturalID struct {
	Venue collectors.Venue
	ID    string
}

func (n NaturalID) String() string {
	return fmt.Sprintf("%s:%s", n.Venue, n.ID)
}

// PairKey builds an order-independent cache key for a pair of records:
// PairKey(k, a, b) == PairKey(k, b, a).
func PairKey(kind Kind, a, b NaturalID) string {
	parts := []string{a.String(), b.String()}
	sort.Strings(parts)
	return fmt.Sprintf("%s|%s|%s", kind, parts[0], parts[1])
}

// EventPairKey keys a (Polymarket, Kalshi) event pair.
func EventPairKey(pm, ks collectors.Event) string {
	return PairKey(KindEvent,
		NaturalID{Venue: collectors.VenuePolymarket, ID: pm.ID},
		NaturalID{Venue: collectors.VenueKalshi, ID: ks.ID})
}

// MarketPairKey keys a (Polymarket, Kalshi) market pair.
func MarketPairKey(pm, ks collectors.Market) string {
	return PairKey(KindMarket,
		NaturalID{Venue: collectors.VenuePolymarket, ID: pm.MarketID},
		NaturalID{Venue: collectors.VenueKalshi, ID: ks.MarketID})
}

// MarketsDigest fingerprints the market-id sets on both sides of an event pair.
// A new bracket on either side changes the digest.
func MarketsDigest(pm, ks collectors.Event) string {
	return hashutil.HashStrings(
		hashutil.HashSet(pm.MarketIDs()),
		hashutil.HashSet(ks.MarketIDs()),
	)
}
