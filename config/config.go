package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// ListenAddr is the address the HTTP API binds to.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":30056"`
	// DataDir holds the tracked-channel file, its backup and (for the default
	// file backend) one history file per channel.
	DataDir string `env:"DATA_DIR" envDefault:"data"`
	// ChannelsFile is the name of the tracked-channel list inside DataDir.
	ChannelsFile string `env:"CHANNELS_FILE" envDefault:"channels.json"`
	// BackupFile mirrors ChannelsFile after every successful load.
	BackupFile string `env:"BACKUP_FILE" envDefault:"channels.backup.json"`
	// HistoryDSN selects the history backend. Empty means per-channel JSON
	// files in DataDir. Also accepts sqlite://path and postgres:// DSNs.
	HistoryDSN string `env:"HISTORY_DSN"`

	// UpstreamURL is the base URL of the stats service queried for channel
	// lookups and discovery searches.
	UpstreamURL string `env:"UPSTREAM_URL" envDefault:"http://localhost:8080"`
	// UpstreamTimeout bounds a single upstream request. A request that times
	// out counts as an upstream failure for the channel.
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`
	// UpstreamRateLimit caps upstream requests per second across the whole
	// process. 0 disables the cap; batching already bounds the rate.
	UpstreamRateLimit float64 `env:"UPSTREAM_RATE_LIMIT" envDefault:"0"`

	// DiscoveryEnabled toggles the randomized search loop.
	DiscoveryEnabled bool `env:"DISCOVERY_ENABLED" envDefault:"true"`
	// SearchInterval is the period of the discovery loop.
	SearchInterval time.Duration `env:"SEARCH_INTERVAL" envDefault:"3s"`

	// BatchSize is the number of channels fetched concurrently per batch.
	BatchSize int `env:"BATCH_SIZE" envDefault:"5"`
	// BatchInterval is the pause between two batches of one sweep.
	BatchInterval time.Duration `env:"BATCH_INTERVAL" envDefault:"1s"`
	// UpdateInterval is how often a full sweep over all channels starts.
	// A sweep still running when the next one is due causes that one to be skipped.
	UpdateInterval time.Duration `env:"UPDATE_INTERVAL" envDefault:"5m"`
	// MaxRetries is the number of consecutive failures after which a channel
	// is put in cool-down.
	MaxRetries int `env:"MAX_RETRIES" envDefault:"5"`
	// RetryDelay is the cool-down window during which a failing channel is
	// left out of sweeps. It must exceed UpdateInterval, otherwise no sweep
	// ever falls inside the window. 0 disables cool-down.
	RetryDelay time.Duration `env:"RETRY_DELAY" envDefault:"15m"`

	// CacheCleanupInterval is how often the in-memory history cache is dropped.
	CacheCleanupInterval time.Duration `env:"CACHE_CLEANUP_INTERVAL" envDefault:"15m"`
	// HistoryCacheCapacity bounds the number of channel histories held in memory.
	HistoryCacheCapacity uint64 `env:"HISTORY_CACHE_CAPACITY" envDefault:"1000"`
	// AvatarCacheTTL is how long proxied avatar images are kept in memory.
	AvatarCacheTTL time.Duration `env:"AVATAR_CACHE_TTL" envDefault:"1h"`

	// AddMaxRequests is the number of add-channel requests one IP may make
	// within AddWindow. 0 disables the limiter.
	AddMaxRequests int `env:"ADD_MAX_REQUESTS" envDefault:"20"`
	// AddWindow is the window used by the add-channel limiter.
	AddWindow time.Duration `env:"ADD_WINDOW" envDefault:"1m"`

	// SeedChannels (comma-separated) are tracked on a cold start with an
	// empty channel list.
	SeedChannels []string `env:"SEED_CHANNELS" envSeparator:","`
	// CORSOrigins is the set of origins (comma-separated) allowed to call the
	// API from a browser. Empty allows any origin.
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	// ShutdownTimeout is the maximum duration to wait for in-flight requests
	// to complete during graceful shutdown.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses configuration from environment variables.
// Returns an error if a value cannot be parsed into the expected type.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("config: BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxRetries > 0 && cfg.RetryDelay > 0 && cfg.UpdateInterval > 0 && cfg.RetryDelay <= cfg.UpdateInterval {
		return Config{}, fmt.Errorf("config: RETRY_DELAY (%s) must be longer than UPDATE_INTERVAL (%s)",
			cfg.RetryDelay, cfg.UpdateInterval)
	}
	return cfg, nil
}
