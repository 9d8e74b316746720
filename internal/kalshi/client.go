package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hetulpatel/crossmatch/internal/collectors"
	"github.com/hetulpatel/crossmatch/internal/logging"
)

const (
	defaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	marketURL      = "https://kalshi.com/markets"
	maxPageSize    = 200
	maxAttempts    = 5
	seriesTimeout  = 10 * time.Second
)

var (
	errUnauthorized = errors.New("kalshi requires authentication: set KALSHI_API_KEY")
	errForbidden    = errors.New("kalshi access forbidden: check KALSHI_API_KEY permissions")
)

// Client talks to the Kalshi Trade API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	backoff    time.Duration

	slugMu sync.Mutex
	slugs  map[string]string
}

// Config provides optional overrides.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Backoff is the first retry delay; it doubles per attempt up to 30s.
	Backoff time.Duration
}

// NewClient builds a configured Kalshi API client.
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
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		backoff:    backoff,
		slugs:      make(map[string]string),
	}
}

func (c *Client) Name() string {
	return "kalshi"
}

func (c *Client) Venue() collectors.Venue {
	return collectors.VenueKalshi
}

// Fetch pages through open events (with nested markets) by cursor until limit
// events are collected or the listing ends.
func (c *Client) Fetch(ctx context.Context, limit int) ([]collectors.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	pageSize := limit
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var events []collectors.Event
	cursor := ""
	for len(events) < limit {
		resp, err := c.listEvents(ctx, pageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("list kalshi events: %w", err)
		}
		if len(resp.Events) == 0 {
			break
		}
		logging.Debugf("[kalshi] page of %d events (cursor: %q)", len(resp.Events), cursor)
		for _, ev := range resp.Events {
			events = append(events, c.normalizeEvent(ctx, ev))
			if len(events) >= limit {
				break
			}
		}
		cursor = resp.Cursor
		if cursor == "" || len(resp.Events) < pageSize {
			break
		}
	}
	return events, nil
}

func (c *Client) listEvents(ctx context.Context, limit int, cursor string) (*eventsResponse, error) {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("with_nested_markets", "true")
	q.Set("status", "open")
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := c.newRequest(ctx, u.String())
	if err != nil {
		return nil, err
	}
	var out eventsResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) fetchSeries(ctx context.Context, ticker string) (*seriesResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, seriesTimeout)
	defer cancel()
	req, err := c.newRequest(ctx, fmt.Sprintf("%s/series/%s", c.baseURL, url.PathEscape(ticker)))
	if err != nil {
		return nil, err
	}
	var out seriesResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) newRequest(ctx context.Context, u string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
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

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return errUnauthorized
		case http.StatusForbidden:
			return errForbidden
		}
		if shouldRetry(attempt, resp.StatusCode) {
			logging.Debugf("[kalshi] %s returned %s, retrying (attempt %d)", req.URL.Path, resp.Status, attempt)
			if err := sleep(req.Context(), c.backoff, attempt); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("kalshi API %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
}

// seriesSlug returns the URL slug of a series: its title lowercased with spaces
// replaced by hyphens, or the lowercased ticker when the lookup fails. Slugs are
// remembered for the life of the client.
func (c *Client) seriesSlug(ctx context.Context, ticker string) string {
	c.slugMu.Lock()
	slug, ok := c.slugs[ticker]
	c.slugMu.Unlock()
	if ok {
		return slug
	}

	slug = strings.ToLower(ticker)
	if series, err := c.fetchSeries(ctx, ticker); err != nil {
		logging.Debugf("[kalshi] series %s lookup failed, using ticker slug: %v", ticker, err)
	} else if title := strings.TrimSpace(series.Series.Title); title != "" {
		slug = strings.ReplaceAll(strings.ToLower(title), " ", "-")
	}

	c.slugMu.Lock()
	c.slugs[ticker] = slug
	c.slugMu.Unlock()
	return slug
}

func (c *Client) normalizeEvent(ctx context.Context, ev event) collectors.Event {
	ticker := ev.Ticker
	seriesTicker := ev.SeriesTicker
	if seriesTicker == "" {
		seriesTicker = ticker
	}
	link := fmt.Sprintf("%s/%s/%s/%s", marketURL, strings.ToLower(seriesTicker), c.seriesSlug(ctx, seriesTicker), strings.ToLower(ticker))

	category := ev.Category
	if category == "" {
		category = "Other"
	}
	norm := collectors.Event{
		Source:    collectors.VenueKalshi,
		ID:        ticker,
		Title:     strings.TrimSpace(ev.Title),
		Category:  category,
		Liquidity: float64(ev.Liquidity),
		URL:       link,
	}
	if len(ev.Markets) > 0 {
		norm.EndDate = parseTime(ev.Markets[0].CloseTime)
	}

	for _, m := range ev.Markets {
		if m.Status != "active" {
			continue
		}
		market := normalizeMarket(m, norm, link)
		norm.Volume += market.Volume
		norm.Markets = append(norm.Markets, market)
	}
	return norm
}

func normalizeMarket(m market, parent collectors.Event, link string) collectors.Market {
	yes := centsToProb(float64(m.LastPrice))
	no := centsToProb(float64(m.NoBid))
	if no == 0 && yes > 0 {
		no = decimal.NewFromInt(1).Sub(decimal.NewFromFloat(yes)).Round(4).InexactFloat64()
	}
	return collectors.Market{
		Question:         buildQuestion(m, parent.Title),
		YesPrice:         yes,
		NoPrice:          no,
		Volume:           float64(m.Volume),
		Source:           collectors.VenueKalshi,
		MarketID:         m.Ticker,
		ParentEventID:    parent.ID,
		ParentEventTitle: parent.Title,
		CloseTime:        parseTime(m.CloseTime),
		URL:              link,
	}
}

// buildQuestion makes sub-markets of one event distinguishable: Kalshi repeats
// the event title on every market and puts the option in no_sub_title.
func buildQuestion(m market, eventTitle string) string {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		title = strings.TrimSpace(eventTitle)
	}
	sub := strings.TrimSpace(m.NoSubTitle)
	if sub != "" && !strings.Contains(strings.ToLower(title), strings.ToLower(sub)) {
		return title + ": " + sub
	}
	return title
}

func centsToProb(cents float64) float64 {
	return decimal.NewFromFloat(cents).Div(decimal.NewFromInt(100)).InexactFloat64()
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

type eventsResponse struct {
	Events []event `json:"events"`
	Cursor string  `json:"cursor"`
}

type event struct {
	Ticker       string   `json:"event_ticker"`
	SeriesTicker string   `json:"series_ticker"`
	Title        string   `json:"title"`
	Category     string   `json:"category"`
	Liquidity    number   `json:"liquidity"`
	Markets      []market `json:"markets"`
}

type market struct {
	Ticker     string `json:"ticker"`
	Title      string `json:"title"`
	NoSubTitle string `json:"no_sub_title"`
	Status     string `json:"status"`
	LastPrice  number `json:"last_price"`
	NoBid      number `json:"no_bid"`
	Volume     number `json:"volume"`
	CloseTime  string `json:"close_time"`
}

type seriesResponse struct {
	Series series `json:"series"`
}

type series struct {
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// number accepts JSON numbers, numeric strings and null.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("kalshi: bad number %q: %w", s, err)
	}
	*n = number(v)
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
