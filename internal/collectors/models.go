package collectors

import (
	"context"
	"time"
)

// Venue identifies the platform a market/event belongs to.
type Venue string

const (
	VenuePolymarket Venue = "polymarket"
	VenueKalshi     Venue = "kalshi"
)

// Collector is implemented by venue-specific fetchers (Polymarket, Kalshi).
// Each collector fetches up to limit open events, normalizes them and returns
// them in the venue's ranking order.
type Collector interface {
	Name() string
	Venue() Venue
	Fetch(ctx context.Context, limit int) ([]Event, error)
}

// Event is a normalized event listing that groups one or more markets.
// Markets[0] is the headline contract.
type Event struct {
	Source    Venue      `json:"source"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Category  string     `json:"category"`
	Volume    float64    `json:"volume"`
	Liquidity float64    `json:"liquidity"`
	EndDate   *time.Time `json:"end_date"`
	URL       string     `json:"url"`
	Markets   []Market   `json:"markets"`
}

// Market is a single binary contract. Prices are probabilities in [0,1].
type Market struct {
	Question         string     `json:"question"`
	YesPrice         float64    `json:"yes_price"`
	NoPrice          float64    `json:"no_price"`
	Volume           float64    `json:"volume"`
	Source           Venue      `json:"source"`
	MarketID         string     `json:"market_id"`
	ParentEventID    string     `json:"parent_event_id"`
	ParentEventTitle string     `json:"parent_event_title"`
	CloseTime        *time.Time `json:"close_time"`
	URL              string     `json:"url"`
}

// ClosedAt reports whether the market's close time is known and not after now.
func (m Market) ClosedAt(now time.Time) bool {
	return m.CloseTime != nil && !m.CloseTime.After(now)
}

// MarketIDs returns the ids of the event's markets in order.
func (e Event) MarketIDs() []string {
	ids := make([]string, 0, len(e.Markets))
	for _, m := range e.Markets {
		ids = append(ids, m.MarketID)
	}
	return ids
}
