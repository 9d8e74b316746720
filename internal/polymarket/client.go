package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hetulpatel/crossmatch/internal/collectors"
	"github.com/hetulpatel/crossmatch/internal/logging"
)

const (
	defaultBaseURL = "https://gamma-api.polymarket.com"
	eventURL       = "https://polymarket.com/event"
	maxPageSize    = 100
	maxAttempts    = 5
)

// Client fetches open Polymarket events from the Gamma API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	backoff    time.Duration
}

// Config controls optional overrides for the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Backoff is the first retry delay; it doubles per attempt up to 30s.
	Backoff time.Duration
}

// NewClient builds a Polymarket client with sane defaults.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
		backoff:    backoff,
	}
}

func (c *Client) Name() string {
	return "polymarket"
}

func (c *Client) Venue() collectors.Venue {
	return collectors.VenuePolymarket
}

// Fetch pages through open events ordered by 24h volume until limit events are
// collected or the listing ends.
func (c *Client) Fetch(ctx context.Context, limit int) ([]collectors.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	pageSize := limit
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var events []collectors.Event
	offset := 0
	for len(events) < limit {
		page, err := c.listEvents(ctx, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("polymarket list events: %w", err)
		}
		if len(page) == 0 {
			break
		}
		logging.Debugf("[polymarket] page of %d events (offset: %d)", len(page), offset)
		for _, ev := range page {
			events = append(events, normalizeEvent(ev))
			if len(events) >= limit {
				break
			}
		}
		if len(page) < pageSize {
			break
		}
		offset += pageSize
	}
	return events, nil
}

func (c *Client) listEvents(ctx context.Context, limit, offset int) ([]event, error) {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	var events []event
	if err := c.do(req, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) do(req *http.Request, dst any) error {
	var attempt int
	for {
		attempt++
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() == nil && shouldRetry(attempt, 0) {
				if err := sleep(req.Context(), c.backoff, attempt); err != nil {
					return err
				}
				continue
			}
			return err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			defer resp.Body.Close()
			return json.NewDecoder(resp.Body).Decode(dst)
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()

		if shouldRetry(attempt, resp.StatusCode) {
			logging.Debugf("[polymarket] %s returned %s, retrying (attempt %d)", req.URL.Path, resp.Status, attempt)
			if err := sleep(req.Context(), c.backoff, attempt); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("polymarket API %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
}

func normalizeEvent(ev event) collectors.Event {
	link := eventURL + "/" + ev.Slug
	norm := collectors.Event{
		Source:    collectors.VenuePolymarket,
		ID:        ev.ID.String(),
		Title:     strings.TrimSpace(ev.Title),
		Category:  category(ev),
		Volume:    float64(ev.Volume),
		Liquidity: float64(ev.Liquidity),
		EndDate:   parseTime(ev.EndDate),
		URL:       link,
	}

	for _, m := range ev.Markets {
		if m.Closed {
			continue
		}
		market := normalizeMarket(m, norm, link)
		if isSettled(market) {
			continue
		}
		norm.Markets = append(norm.Markets, market)
	}
	return norm
}

func normalizeMarket(m market, parent collectors.Event, link string) collectors.Market {
	prices := []flexFloat(m.OutcomePrices)

	var yes float64
	switch {
	case m.LastTradePrice != nil:
		yes = float64(*m.LastTradePrice)
	case len(prices) > 0:
		yes = float64(prices[0])
	}

	var no float64
	if len(prices) > 1 {
		no = float64(prices[1])
	} else {
		no = complement(yes)
	}

	return collectors.Market{
		Question:         strings.TrimSpace(m.Question),
		YesPrice:         yes,
		NoPrice:          no,
		Volume:           float64(m.Volume),
		Source:           collectors.VenuePolymarket,
		MarketID:         m.ID.String(),
		ParentEventID:    parent.ID,
		ParentEventTitle: parent.Title,
		CloseTime:        parseTime(m.EndDate),
		URL:              link,
	}
}

// isSettled reports a market already priced at 0/1.
func isSettled(m collectors.Market) bool {
	return (m.YesPrice <= 0.001 && m.NoPrice >= 0.999) ||
		(m.YesPrice >= 0.999 && m.NoPrice <= 0.001)
}

func category(ev event) string {
	if ev.Category != "" {
		return ev.Category
	}
	for _, t := range ev.Tags {
		if t.Label != "" {
			return t.Label
		}
	}
	return "Other"
}

// complement returns 1-p rounded to four places.
func complement(p float64) float64 {
	return decimal.NewFromInt(1).Sub(decimal.NewFromFloat(p)).Round(4).InexactFloat64()
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}

func shouldRetry(attempt int, status int) bool {
	if attempt >= maxAttempts {
		return false
	}
	if status == 0 {
		return true
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return true
	}
	return false
}

func sleep(ctx context.Context, base time.Duration, attempt int) error {
	backoff := base * time.Duration(1<<uint(attempt-1))
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	t := time.NewTimer(backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type event struct {
	ID        flexString `json:"id"`
	Title     string     `json:"title"`
	Slug      string     `json:"slug"`
	Category  string     `json:"category"`
	Tags      []tag      `json:"tags"`
	Volume    flexFloat  `json:"volume"`
	Liquidity flexFloat  `json:"liquidity"`
	EndDate   string     `json:"endDate"`
	Markets   []market   `json:"markets"`
}

type tag struct {
	Label string `json:"label"`
}

type market struct {
	ID             flexString `json:"id"`
	Question       string     `json:"question"`
	LastTradePrice *flexFloat `json:"lastTradePrice"`
	OutcomePrices  priceList  `json:"outcomePrices"`
	Volume         flexFloat  `json:"volume"`
	EndDate        string     `json:"endDate"`
	Closed         bool       `json:"closed"`
}
