// Package config loads client configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// Config holds the environment-driven settings for one process instance.
type Config struct {
	// DBPath is the SQLite database file backing the durable local store.
	DBPath string `env:"DB_PATH" envDefault:"data/content.db"`

	// CacheDir is the directory holding the file cache shard.
	CacheDir string `env:"CACHE_DIR" envDefault:"data/cache/hot_content"`

	// CacheTTLHours is how long a cache entry stays fresh.
	CacheTTLHours int `env:"CACHE_TTL_HOURS" envDefault:"6"`

	// CacheEnabled toggles both cache tiers.
	CacheEnabled bool `env:"CACHE_ENABLED" envDefault:"true"`

	// BrokerAddr is the pub/sub broker address.
	BrokerAddr string `env:"BROKER_ADDR" envDefault:"localhost:6379"`

	// BrokerPassword is the optional broker password.
	BrokerPassword string `env:"BROKER_PASSWORD"`

	// BrokerDB is the broker database number.
	BrokerDB int `env:"BROKER_DB" envDefault:"0"`

	// ClientID identifies this process on the broker. Generated when empty.
	ClientID string `env:"CLIENT_ID"`

	// ReconnectInterval is the fixed delay between connection attempts.
	ReconnectInterval time.Duration `env:"RECONNECT_INTERVAL" envDefault:"5s"`

	// HeartbeatInterval drives the flush timer and heartbeat publishes.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`

	// FetchTimeout bounds each call to the external fetch collaborator.
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
}

// Load parses configuration from the environment. A missing CLIENT_ID is
// replaced with a generated identity so every process gets a stable,
// unique name on the broker for the lifetime of the run.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "content-client-" + uuid.NewString()
	}
	return cfg, nil
}

// TTL returns the cache TTL as a duration.
func (c Config) TTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}
