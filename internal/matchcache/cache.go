package matchcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hetulpatel/crossmatch/internal/domain"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/matches"
)

const (
	DefaultMaxAge       = 7 * 24 * time.Hour
	defaultWriteTimeout = 10 * time.Second
)

// Entry is one cached accepted pair. Event entries carry MarketsDigest; market
// entries carry EventKey and the two close times.
type Entry struct {
	Kind            matches.Kind `json:"kind"`
	Key             string       `json:"key"`
	PolyID          string       `json:"poly_id"`
	KalshiID        string       `json:"kalshi_id"`
	EventKey        string       `json:"event_key,omitempty"`
	Score           float64      `json:"score"`
	PolyTitle       string       `json:"poly_title"`
	KalshiTitle     string       `json:"kalshi_title"`
	PolyURL         string       `json:"poly_url,omitempty"`
	KalshiURL       string       `json:"kalshi_url,omitempty"`
	MarketsDigest   string       `json:"markets_digest,omitempty"`
	PolyCloseTime   *time.Time   `json:"poly_close_time,omitempty"`
	KalshiCloseTime *time.Time   `json:"kalshi_close_time,omitempty"`
	CachedAt        time.Time    `json:"cached_at"`
}

// Stats summarizes the cache contents, stale entries included.
type Stats struct {
	EventPairs  int        `json:"event_pairs"`
	MarketPairs int        `json:"market_pairs"`
	OldestEntry *time.Time `json:"oldest_entry"`
	NewestEntry *time.Time `json:"newest_entry"`
	Location    string     `json:"location"`
}

// Backend is the persistence layer behind the cache.
type Backend interface {
	Get(ctx context.Context, kind matches.Kind, key string) (*Entry, error)
	EventPairs(ctx context.Context) ([]Entry, error)
	MarketPairs(ctx context.Context, eventKey string) ([]Entry, error)
	PutEventPairs(ctx context.Context, entries []Entry) error
	ReplaceMarketPairs(ctx context.Context, eventKey, digest string, entries []Entry) error
	Stats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context) error
	Location() string
}

// Cache applies the staleness policy and the single-writer rule on top of a
// Backend. A nil Cache or nil backend behaves as an always-empty cache.
type Cache struct {
	backend Backend
	maxAge  time.Duration
	now     func() time.Time

	mu sync.Mutex
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for staleness checks and cached_at.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New wraps backend. maxAge <= 0 selects DefaultMaxAge.
func New(backend Backend, maxAge time.Duration, opts ...Option) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	c := &Cache{backend: backend, maxAge: maxAge, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the cache's clock reading.
func (c *Cache) Now() time.Time {
	if c == nil || c.now == nil {
		return time.Now()
	}
	return c.now()
}

func (c *Cache) available() bool {
	return c != nil && c.backend != nil
}

// Fresh reports whether e is usable at now.
func (c *Cache) Fresh(e Entry, now time.Time) bool {
	if now.Sub(e.CachedAt) > c.maxAge {
		return false
	}
	if e.Kind == matches.KindMarket {
		if closed(e.PolyCloseTime, now) || closed(e.KalshiCloseTime, now) {
			return false
		}
	}
	return true
}

func closed(t *time.Time, now time.Time) bool {
	return t != nil && !t.After(now)
}

// Lookup returns the fresh entry for key, or false when absent, stale or the
// backend fails.
func (c *Cache) Lookup(ctx context.Context, kind matches.Kind, key string) (Entry, bool) {
	if !c.available() {
		return Entry{}, false
	}
	e, err := c.backend.Get(ctx, kind, key)
	if err != nil {
		c.degrade("lookup", err)
		return Entry{}, false
	}
	if e == nil || !c.Fresh(*e, c.Now()) {
		return Entry{}, false
	}
	return *e, true
}

// EventPairs returns every fresh event entry keyed by pair key.
func (c *Cache) EventPairs(ctx context.Context) map[string]Entry {
	out := make(map[string]Entry)
	if !c.available() {
		return out
	}
	entries, err := c.backend.EventPairs(ctx)
	if err != nil {
		c.degrade("list event pairs", err)
		return out
	}
	now := c.Now()
	for _, e := range entries {
		if c.Fresh(e, now) {
			out[e.Key] = e
		}
	}
	return out
}

// MarketPairs returns the cached market assignment of an event pair. complete is
// false when any entry is stale or the backend failed.
func (c *Cache) MarketPairs(ctx context.Context, eventKey string) (entries []Entry, complete bool) {
	if !c.available() {
		return nil, false
	}
	all, err := c.backend.MarketPairs(ctx, eventKey)
	if err != nil {
		c.degrade("list market pairs", err)
		return nil, false
	}
	now := c.Now()
	for _, e := range all {
		if !c.Fresh(e, now) {
			return nil, false
		}
	}
	return all, true
}

// Store writes event entries. Entries without CachedAt are stamped with the
// cache clock. The write is skipped when ctx is already done; once started it
// runs to completion in a single transaction.
func (c *Cache) Store(ctx context.Context, entries ...Entry) {
	if !c.available() || len(entries) == 0 {
		return
	}
	if ctx.Err() != nil {
		logging.Debugf("[match-cache] skip store of %d entries: %v", len(entries), ctx.Err())
		return
	}
	entries = c.stamp(entries)

	c.mu.Lock()
	defer c.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultWriteTimeout)
	defer cancel()
	if err := c.backend.PutEventPairs(writeCtx, entries); err != nil {
		c.degrade("store", err)
	}
}

// StoreMarketPairs replaces the cached market assignment of one event pair and
// records digest (the market-id sets it was computed from) on the event entry.
func (c *Cache) StoreMarketPairs(ctx context.Context, eventKey, digest string, entries []Entry) {
	if !c.available() {
		return
	}
	if ctx.Err() != nil {
		logging.Debugf("[match-cache] skip market store for %s: %v", eventKey, ctx.Err())
		return
	}
	entries = c.stamp(entries)

	c.mu.Lock()
	defer c.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultWriteTimeout)
	defer cancel()
	if err := c.backend.ReplaceMarketPairs(writeCtx, eventKey, digest, entries); err != nil {
		c.degrade("store market pairs", err)
	}
}

func (c *Cache) stamp(entries []Entry) []Entry {
	now := c.Now().UTC()
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if e.CachedAt.IsZero() {
			e.CachedAt = now
		}
		out[i] = e
	}
	return out
}

// Stats reports counts and the age range of all entries, stale ones included.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	if !c.available() {
		return Stats{Location: "unavailable"}, fmt.Errorf("%w: no backend", domain.ErrCacheUnavailable)
	}
	st, err := c.backend.Stats(ctx)
	if err != nil {
		return Stats{Location: c.backend.Location()}, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return st, nil
}

// Clear removes every entry. Clearing an empty cache is a no-op.
func (c *Cache) Clear(ctx context.Context) error {
	if !c.available() {
		return fmt.Errorf("%w: no backend", domain.ErrCacheUnavailable)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.backend.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	logging.Infof("[match-cache] cleared %s", c.backend.Location())
	return nil
}

func (c *Cache) degrade(op string, err error) {
	logging.Warnf("[match-cache] %s: %v", op, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err))
}
