package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full runtime configuration for the server, CLI and tools.
type Config struct {
	LogLevel   string           `toml:"log_level"`
	Engine     EngineConfig     `toml:"engine"`
	Cache      CacheConfig      `toml:"cache"`
	Embed      EmbedConfig      `toml:"embed"`
	Redis      RedisConfig      `toml:"redis"`
	Kafka      KafkaConfig      `toml:"kafka"`
	Server     ServerConfig     `toml:"server"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	MatchLog   MatchLogConfig   `toml:"match_log"`
}

// EngineConfig holds the matching and arbitrage knobs.
type EngineConfig struct {
	EventLimit     int      `toml:"event_limit"`
	EventMinScore  float64  `toml:"event_min_score"`
	MarketMinScore float64  `toml:"market_min_score"`
	MinProfitCents float64  `toml:"min_profit_cents"`
	MaxDays        int      `toml:"max_days"`
	ForceRefresh   bool     `toml:"force_refresh"`
	FetchTimeout   duration `toml:"fetch_timeout"`
	RecordHistory  bool     `toml:"record_history"`
}

// CacheConfig locates the persistent match cache.
type CacheConfig struct {
	SQLitePath string `toml:"sqlite_path"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// EmbedConfig configures the OpenAI-compatible embedding provider.
type EmbedConfig struct {
	APIKey     string   `toml:"api_key"`
	BaseURL    string   `toml:"base_url"`
	Model      string   `toml:"model"`
	BatchSize  int      `toml:"batch_size"`
	MaxRetries int      `toml:"max_retries"`
	Timeout    duration `toml:"timeout"`
}

// RedisConfig backs the embedding and opportunity caches. Empty Addr means in-memory.
type RedisConfig struct {
	Addr            string   `toml:"addr"`
	Password        string   `toml:"password"`
	DB              int      `toml:"db"`
	EmbeddingTTL    duration `toml:"embedding_ttl"`
	EmbeddingPrefix string   `toml:"embedding_prefix"`
	OpportunityTTL  duration `toml:"opportunity_ttl"`
}

// KafkaConfig enables opportunity publication when Brokers is non-empty.
type KafkaConfig struct {
	Brokers          []string `toml:"brokers"`
	OpportunityTopic string   `toml:"opportunity_topic"`
	GroupID          string   `toml:"group_id"`
	// Used when the topic has to be created.
	Partitions        int `toml:"partitions"`
	ReplicationFactor int `toml:"replication_factor"`
}

// ServerConfig configures the HTTP/WS transport.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type PolymarketConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

type KalshiConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// MatchLogConfig controls the accepted-match log (quiet|summary|verbose).
type MatchLogConfig struct {
	Mode string `toml:"mode"`
	Path string `toml:"path"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "15s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// CacheMaxAge converts the configured day count to a duration.
func (c Config) CacheMaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeDays) * 24 * time.Hour
}

// Defaults returns the configuration used when no file or env override is given.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Engine: EngineConfig{
			EventLimit:     200,
			EventMinScore:  0.75,
			MarketMinScore: 0.82,
			FetchTimeout:   duration{60 * time.Second},
			RecordHistory:  true,
		},
		Cache: CacheConfig{
			SQLitePath: "data/market_matches.db",
			MaxAgeDays: 7,
		},
		Embed: EmbedConfig{
			BaseURL:    "https://api.studio.nebius.com/v1/",
			Model:      "Qwen/Qwen3-Embedding-8B",
			BatchSize:  80,
			MaxRetries: 5,
			Timeout:    duration{60 * time.Second},
		},
		Redis: RedisConfig{
			EmbeddingTTL:    duration{240 * time.Hour},
			EmbeddingPrefix: "emb",
			OpportunityTTL:  duration{24 * time.Hour},
		},
		Kafka: KafkaConfig{
			OpportunityTopic:  "arbitrage.opportunities",
			GroupID:           "opportunity-tail",
			Partitions:        3,
			ReplicationFactor: 1,
		},
		Server: ServerConfig{
			Addr:           ":8081",
			AllowedOrigins: []string{"*"},
		},
		Polymarket: PolymarketConfig{
			Timeout: duration{15 * time.Second},
		},
		Kalshi: KalshiConfig{
			Timeout: duration{15 * time.Second},
		},
		MatchLog: MatchLogConfig{
			Mode: "summary",
			Path: "matches.log",
		},
	}
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Engine.EventLimit <= 0 {
		errs = append(errs, fmt.Errorf("engine.event_limit must be positive, got %d", c.Engine.EventLimit))
	}
	if c.Engine.EventMinScore < 0 || c.Engine.EventMinScore > 1 {
		errs = append(errs, fmt.Errorf("engine.event_min_score must be in [0,1], got %v", c.Engine.EventMinScore))
	}
	if c.Engine.MarketMinScore < 0 || c.Engine.MarketMinScore > 1 {
		errs = append(errs, fmt.Errorf("engine.market_min_score must be in [0,1], got %v", c.Engine.MarketMinScore))
	}
	if c.Engine.MinProfitCents < 0 {
		errs = append(errs, fmt.Errorf("engine.min_profit_cents must be >= 0, got %v", c.Engine.MinProfitCents))
	}
	if c.Engine.MaxDays < 0 {
		errs = append(errs, fmt.Errorf("engine.max_days must be >= 0, got %d", c.Engine.MaxDays))
	}
	if c.Cache.MaxAgeDays <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_age_days must be positive, got %d", c.Cache.MaxAgeDays))
	}
	if c.Embed.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embed.batch_size must be positive, got %d", c.Embed.BatchSize))
	}
	return errors.Join(errs...)
}
