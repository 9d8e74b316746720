package matchcache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hetulpatel/crossmatch/internal/matches"
)

// MemoryBackend keeps entries in process memory. Used when no database path is
// configured and in tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	events  map[string]Entry
	markets map[string]Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		events:  make(map[string]Entry),
		markets: make(map[string]Entry),
	}
}

func (m *MemoryBackend) Location() string { return "memory" }

func (m *MemoryBackend) Get(_ context.Context, kind matches.Kind, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	table := m.events
	if kind == matches.KindMarket {
		table = m.markets
	}
	e, ok := table[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryBackend) EventPairs(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryBackend) MarketPairs(_ context.Context, eventKey string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.markets {
		if e.EventKey == eventKey {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryBackend) PutEventPairs(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.Kind = matches.KindEvent
		m.events[e.Key] = e
	}
	return nil
}

func (m *MemoryBackend) ReplaceMarketPairs(_ context.Context, eventKey, digest string, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[eventKey]; ok {
		ev.MarketsDigest = digest
		m.events[eventKey] = ev
	}
	for k, e := range m.markets {
		if e.EventKey == eventKey {
			delete(m.markets, k)
		}
	}
	for _, e := range entries {
		e.Kind = matches.KindMarket
		e.EventKey = eventKey
		m.markets[e.Key] = e
	}
	return nil
}

func (m *MemoryBackend) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{EventPairs: len(m.events), MarketPairs: len(m.markets), Location: m.Location()}
	track := func(t time.Time) {
		if st.OldestEntry == nil || t.Before(*st.OldestEntry) {
			tt := t
			st.OldestEntry = &tt
		}
		if st.NewestEntry == nil || t.After(*st.NewestEntry) {
			tt := t
			st.NewestEntry = &tt
		}
	}
	for _, e := range m.events {
		track(e.CachedAt)
	}
	for _, e := range m.markets {
		track(e.CachedAt)
	}
	return st, nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string]Entry)
	m.markets = make(map[string]Entry)
	return nil
}
