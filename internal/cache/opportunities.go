package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// OpportunityRecord is the last published opportunity for a market pair.
type OpportunityRecord struct {
	BestLeg   string    `json:"best_leg"`
	Profit    float64   `json:"profit"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Same reports whether r describes the same opportunity as other.
func (r OpportunityRecord) Same(other OpportunityRecord) bool {
	return r.BestLeg == other.BestLeg && math.Abs(r.Profit-other.Profit) < 1e-9
}

// OpportunityCache remembers the last opportunity per pair so unchanged ones are
// not republished.
type OpportunityCache interface {
	Get(ctx context.Context, pairID string) (*OpportunityRecord, bool, error)
	Set(ctx context.Context, pairID string, record OpportunityRecord) error
	Close() error
}

type redisOpportunityCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisOpportunityCache builds a cache keyed by the market pair key.
func NewRedisOpportunityCache(addr, password string, db int, ttl time.Duration, prefix string) (OpportunityCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if prefix == "" {
		prefix = "arb_last"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &redisOpportunityCache{client: client, ttl: ttl, prefix: prefix}, nil
}

func (c *redisOpportunityCache) key(pairID string) string {
	return fmt.Sprintf("%s:%s", c.prefix, pairID)
}

func (c *redisOpportunityCache) Get(ctx context.Context, pairID string) (*OpportunityRecord, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, c.key(pairID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var record OpportunityRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, err
	}
	return &record, true, nil
}

func (c *redisOpportunityCache) Set(ctx context.Context, pairID string, record OpportunityRecord) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(pairID), payload, c.ttl).Err()
}

func (c *redisOpportunityCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

type memoryOpportunityCache struct {
	mu      sync.Mutex
	records map[string]OpportunityRecord
}

func NewMemoryOpportunityCache() OpportunityCache {
	return &memoryOpportunityCache{records: make(map[string]OpportunityRecord)}
}

func (c *memoryOpportunityCache) Get(_ context.Context, pairID string) (*OpportunityRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[pairID]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (c *memoryOpportunityCache) Set(_ context.Context, pairID string, record OpportunityRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[pairID] = record
	return nil
}

func (c *memoryOpportunityCache) Close() error {
	return nil
}
