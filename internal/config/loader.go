package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load starts from Defaults, merges the TOML file at path (skipped when path is
// empty), loads .env if present and applies environment overrides. The result is
// not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "LOG_LEVEL")

	setInt(&cfg.Engine.EventLimit, "ARB_EVENT_LIMIT")
	setFloat64(&cfg.Engine.EventMinScore, "ARB_EVENT_MIN_SCORE")
	setFloat64(&cfg.Engine.MarketMinScore, "ARB_MARKET_MIN_SCORE")
	setFloat64(&cfg.Engine.MinProfitCents, "ARB_MIN_PROFIT_CENTS")
	setInt(&cfg.Engine.MaxDays, "ARB_MAX_DAYS")
	setBool(&cfg.Engine.ForceRefresh, "ARB_FORCE_REFRESH")
	setDuration(&cfg.Engine.FetchTimeout, "ARB_FETCH_TIMEOUT")
	setBool(&cfg.Engine.RecordHistory, "ARB_RECORD_HISTORY")

	setStr(&cfg.Cache.SQLitePath, "SQLITE_PATH")
	setInt(&cfg.Cache.MaxAgeDays, "ARB_CACHE_MAX_AGE_DAYS")

	setStr(&cfg.Embed.APIKey, "NEBIUS_API_KEY")
	setStr(&cfg.Embed.BaseURL, "NEBIUS_BASE_URL")
	setStr(&cfg.Embed.Model, "NEBIUS_EMBED_MODEL")
	setInt(&cfg.Embed.BatchSize, "EMBED_BATCH_SIZE")
	setInt(&cfg.Embed.MaxRetries, "EMBED_MAX_RETRIES")
	setDuration(&cfg.Embed.Timeout, "EMBED_TIMEOUT")

	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setDuration(&cfg.Redis.EmbeddingTTL, "EMBED_CACHE_TTL")
	setStr(&cfg.Redis.EmbeddingPrefix, "EMBED_CACHE_PREFIX")
	setDuration(&cfg.Redis.OpportunityTTL, "OPPORTUNITY_CACHE_TTL")

	setStringSlice(&cfg.Kafka.Brokers, "KAFKA_BROKERS")
	setStr(&cfg.Kafka.OpportunityTopic, "KAFKA_TOPIC_OPPORTUNITIES")
	setStr(&cfg.Kafka.GroupID, "KAFKA_GROUP_ID")
	setInt(&cfg.Kafka.Partitions, "KAFKA_TOPIC_PARTITIONS")
	setInt(&cfg.Kafka.ReplicationFactor, "KAFKA_TOPIC_REPLICATION")

	setStr(&cfg.Server.Addr, "SERVER_ADDR")
	setStringSlice(&cfg.Server.AllowedOrigins, "SERVER_ALLOWED_ORIGINS")

	setStr(&cfg.Polymarket.BaseURL, "POLYMARKET_BASE_URL")
	setDuration(&cfg.Polymarket.Timeout, "POLYMARKET_TIMEOUT")
	setStr(&cfg.Kalshi.BaseURL, "KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.APIKey, "KALSHI_API_KEY")
	setDuration(&cfg.Kalshi.Timeout, "KALSHI_TIMEOUT")

	setStr(&cfg.MatchLog.Mode, "MATCH_LOG_MODE")
	setStr(&cfg.MatchLog.Path, "MATCH_LOG_PATH")
}

// Each helper only mutates the target when the variable is present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
