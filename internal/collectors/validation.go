package collectors

import (
	"fmt"
	"math"
	"strings"

	"github.com/hetulpatel/crossmatch/internal/domain"
	"github.com/hetulpatel/crossmatch/internal/logging"
)

// ValidateMarket checks the invariants every normalized market must hold.
func ValidateMarket(m Market) error {
	switch {
	case strings.TrimSpace(m.MarketID) == "":
		return fmt.Errorf("%w: market without id", domain.ErrValidation)
	case strings.TrimSpace(m.Question) == "":
		return fmt.Errorf("%w: market %s has empty question", domain.ErrValidation, m.MarketID)
	case !isProbability(m.YesPrice):
		return fmt.Errorf("%w: market %s yes_price %v outside [0,1]", domain.ErrValidation, m.MarketID, m.YesPrice)
	case !isProbability(m.NoPrice):
		return fmt.Errorf("%w: market %s no_price %v outside [0,1]", domain.ErrValidation, m.MarketID, m.NoPrice)
	case m.Volume < 0 || math.IsNaN(m.Volume):
		return fmt.Errorf("%w: market %s has negative volume", domain.ErrValidation, m.MarketID)
	}
	return nil
}

// ValidateEvent checks the event itself; markets are validated separately.
func ValidateEvent(e Event) error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return fmt.Errorf("%w: event without id", domain.ErrValidation)
	case strings.TrimSpace(e.Title) == "":
		return fmt.Errorf("%w: event %s has empty title", domain.ErrValidation, e.ID)
	case e.Volume < 0 || math.IsNaN(e.Volume):
		return fmt.Errorf("%w: event %s has negative volume", domain.ErrValidation, e.ID)
	}
	return nil
}

// Sanitize drops invalid events, invalid markets and duplicate ids, logging each
// skipped record. Order is preserved.
func Sanitize(events []Event) []Event {
	out := make([]Event, 0, len(events))
	seenEvents := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if err := ValidateEvent(ev); err != nil {
			logging.Warnf("[%s] skip event: %v", ev.Source, err)
			continue
		}
		if _, dup := seenEvents[ev.ID]; dup {
			logging.Warnf("[%s] skip duplicate event %s", ev.Source, ev.ID)
			continue
		}
		seenEvents[ev.ID] = struct{}{}

		clean := ev
		clean.Markets = make([]Market, 0, len(ev.Markets))
		seenMarkets := make(map[string]struct{}, len(ev.Markets))
		for _, m := range ev.Markets {
			if err := ValidateMarket(m); err != nil {
				logging.Warnf("[%s] skip market in event %s: %v", ev.Source, ev.ID, err)
				continue
			}
			if _, dup := seenMarkets[m.MarketID]; dup {
				logging.Warnf("[%s] skip duplicate market %s", ev.Source, m.MarketID)
				continue
			}
			seenMarkets[m.MarketID] = struct{}{}
			clean.Markets = append(clean.Markets, m)
		}
		out = append(out, clean)
	}
	return out
}

func isProbability(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
