// Package app wires the engine and its collaborators from configuration. The
// server and CLI binaries share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hetulpatel/crossmatch/internal/cache"
	"github.com/hetulpatel/crossmatch/internal/config"
	"github.com/hetulpatel/crossmatch/internal/embed"
	"github.com/hetulpatel/crossmatch/internal/engine"
	"github.com/hetulpatel/crossmatch/internal/kafka"
	"github.com/hetulpatel/crossmatch/internal/kalshi"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/matchcache"
	"github.com/hetulpatel/crossmatch/internal/matcher"
	"github.com/hetulpatel/crossmatch/internal/polymarket"
	"github.com/hetulpatel/crossmatch/internal/queue"
	sqlstore "github.com/hetulpatel/crossmatch/internal/storage/sqlite"
)

const (
	brokerWaitTimeout = 30 * time.Second
	opportunityPrefix = "arb_last"
)

// Deps bundles what the binaries need. Store is nil when the match cache runs
// in memory.
type Deps struct {
	Engine *engine.Engine
	Cache  *matchcache.Cache
	Store  *sqlstore.Store
}

// Wire builds every dependency from cfg and returns them with a cleanup
// function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config) (*Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, args ...any) (*Deps, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, args...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("wire: config: %w", err)
	}
	logging.SetLevel(cfg.LogLevel)

	deps := &Deps{}

	// --- Match cache ---
	var backend matchcache.Backend
	if cfg.Cache.SQLitePath != "" {
		store, err := sqlstore.Open(cfg.Cache.SQLitePath)
		if err != nil {
			return fail("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { store.Close() })
		if err := store.CreateTables(ctx); err != nil {
			return fail("wire: sqlite tables: %w", err)
		}
		deps.Store = store
		backend = store
	} else {
		logging.Warnf("[app] no sqlite path configured, match cache is in memory")
		backend = matchcache.NewMemoryBackend()
	}
	deps.Cache = matchcache.New(backend, cfg.CacheMaxAge())

	// --- Embeddings ---
	provider, err := embed.New(embed.Config{
		APIKey:     cfg.Embed.APIKey,
		BaseURL:    cfg.Embed.BaseURL,
		Model:      cfg.Embed.Model,
		BatchSize:  cfg.Embed.BatchSize,
		MaxRetries: cfg.Embed.MaxRetries,
		Timeout:    cfg.Embed.Timeout.Duration,
	})
	if err != nil {
		return fail("wire: embeddings: %w", err)
	}

	redisUp := false
	if cfg.Redis.Addr != "" {
		if err := cache.Ping(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			logging.Warnf("[app] %v; using in-memory caches", err)
		} else {
			redisUp = true
		}
	}

	embCache := cache.NewMemoryEmbeddingCache()
	if redisUp {
		c, err := cache.NewRedisEmbeddingCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.EmbeddingTTL.Duration, cfg.Redis.EmbeddingPrefix)
		if err != nil {
			return fail("wire: embedding cache: %w", err)
		}
		embCache = c
	}
	closers = append(closers, func() { embCache.Close() })

	m, err := matcher.New(matcher.Config{
		Embedder:       matcher.NewCachingEmbedder(provider, embCache, provider.Model()),
		Cache:          deps.Cache,
		EventMinScore:  cfg.Engine.EventMinScore,
		MarketMinScore: cfg.Engine.MarketMinScore,
		Logger:         matcher.NewLogger(matcher.ParseLogMode(cfg.MatchLog.Mode), cfg.MatchLog.Path),
	})
	if err != nil {
		return fail("wire: matcher: %w", err)
	}

	// --- Opportunity publication ---
	var publisher engine.OpportunityPublisher
	if brokers := kafka.CleanBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, brokerWaitTimeout)
		err := kafka.WaitForBroker(waitCtx, brokers)
		cancel()
		if err != nil {
			logging.Warnf("[app] kafka unavailable, opportunities will not be published: %v", err)
		} else {
			topic := cfg.Kafka.OpportunityTopic
			if topic == "" {
				topic = kafka.DefaultOpportunityTopic
			}
			spec := kafka.TopicSpec{Name: topic, Partitions: cfg.Kafka.Partitions, ReplicationFactor: cfg.Kafka.ReplicationFactor}
			if err := kafka.EnsureTopic(ctx, brokers, spec); err != nil {
				logging.Warnf("[app] ensure topic %s: %v", topic, err)
			}
			writer := kafka.NewWriter(brokers, topic)
			closers = append(closers, func() { writer.Close() })

			last := cache.NewMemoryOpportunityCache()
			if redisUp {
				c, err := cache.NewRedisOpportunityCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.OpportunityTTL.Duration, opportunityPrefix)
				if err != nil {
					return fail("wire: opportunity cache: %w", err)
				}
				last = c
			}
			closers = append(closers, func() { last.Close() })
			publisher = queue.NewPublisher(writer, last)
			logging.Infof("[app] publishing opportunities to %s", topic)
		}
	}

	var history engine.HistoryRecorder
	if deps.Store != nil && cfg.Engine.RecordHistory {
		history = deps.Store
	}

	eng, err := engine.New(engine.Config{
		Polymarket: polymarket.NewClient(polymarket.Config{
			BaseURL: cfg.Polymarket.BaseURL,
			Timeout: cfg.Polymarket.Timeout.Duration,
		}),
		Kalshi: kalshi.NewClient(kalshi.Config{
			BaseURL: cfg.Kalshi.BaseURL,
			APIKey:  cfg.Kalshi.APIKey,
			Timeout: cfg.Kalshi.Timeout.Duration,
		}),
		Matcher:      m,
		Cache:        deps.Cache,
		History:      history,
		Publisher:    publisher,
		FetchTimeout: cfg.Engine.FetchTimeout.Duration,
		DefaultLimit: cfg.Engine.EventLimit,
	})
	if err != nil {
		return fail("wire: engine: %w", err)
	}
	deps.Engine = eng
	return deps, cleanup, nil
}
