package matches

import (
	"testing"

	"github.com/hetulpatel/crossmatch/internal/collectors"
)

func TestPairKeyOrderIndependent(t *testing.T) {
	a := NaturalID{Venue: collectors.VenuePolymarket, ID: "123"}
	b := NaturalID{Venue: collectors.VenueKalshi, ID: "KXFED-26"}

	if PairKey(KindEvent, a, b) != PairKey(KindEvent, b, a) {
		t.Fatal("pair key depends on argument order")
	}
	if PairKey(KindEvent, a, b) == PairKey(KindMarket, a, b) {
		t.Fatal("event and market keys collide")
	}
}

func TestMarketsDigest(t *testing.T) {
	pm := collectors.Event{ID: "p", Markets: []collectors.Market{{MarketID: "1"}, {MarketID: "2"}}}
	ks := collectors.Event{ID: "k", Markets: []collectors.Market{{MarketID: "A"}}}
	reordered := collectors.Event{ID: "p", Markets: []collectors.Market{{MarketID: "2"}, {MarketID: "1"}}}
	grown := collectors.Event{ID: "k", Markets: []collectors.Market{{MarketID: "A"}, {MarketID: "B"}}}

	base := MarketsDigest(pm, ks)
	if MarketsDigest(reordered, ks) != base {
		t.Error("digest should ignore market order")
	}
	if MarketsDigest(pm, grown) == base {
		t.Error("digest should change when a bracket appears")
	}
	if MarketsDigest(ks, pm) == base {
		t.Error("digest should distinguish the two sides")
	}
}
