package config_test

import (
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/subtracker/config"
)

var _ = Describe("Load", func() {
	// Keys managed by these tests, saved and restored around each test.
	var envKeys = []string{
		"LISTEN_ADDR", "DATA_DIR", "HISTORY_DSN", "UPSTREAM_URL", "UPSTREAM_RATE_LIMIT",
		"DISCOVERY_ENABLED", "BATCH_SIZE", "BATCH_INTERVAL", "UPDATE_INTERVAL",
		"MAX_RETRIES", "RETRY_DELAY", "CACHE_CLEANUP_INTERVAL", "SEED_CHANNELS", "LOG_LEVEL",
	}

	var saved map[string]string

	BeforeEach(func() {
		saved = make(map[string]string, len(envKeys))
		for _, k := range envKeys {
			saved[k] = os.Getenv(k)
			Expect(os.Unsetenv(k)).To(Succeed())
		}
	})

	AfterEach(func() {
		for k, v := range saved {
			if v == "" {
				Expect(os.Unsetenv(k)).To(Succeed())
			} else {
				Expect(os.Setenv(k, v)).To(Succeed())
			}
		}
	})

	It("returns defaults when no env vars are set", func() {
		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.ListenAddr).To(Equal(":30056"))
		Expect(cfg.DataDir).To(Equal("data"))
		Expect(cfg.ChannelsFile).To(Equal("channels.json"))
		Expect(cfg.BackupFile).To(Equal("channels.backup.json"))
		Expect(cfg.HistoryDSN).To(BeEmpty())
		Expect(cfg.DiscoveryEnabled).To(BeTrue())
		Expect(cfg.SearchInterval).To(Equal(3 * time.Second))
		Expect(cfg.BatchSize).To(Equal(5))
		Expect(cfg.BatchInterval).To(Equal(time.Second))
		Expect(cfg.MaxRetries).To(Equal(5))
		Expect(cfg.UpdateInterval).To(Equal(5 * time.Minute))
		Expect(cfg.RetryDelay).To(Equal(15 * time.Minute))
		Expect(cfg.RetryDelay).To(BeNumerically(">", cfg.UpdateInterval))
		Expect(cfg.CacheCleanupInterval).To(Equal(15 * time.Minute))
		Expect(cfg.UpstreamRateLimit).To(BeZero())
		Expect(cfg.SeedChannels).To(BeEmpty())
		Expect(cfg.LogLevel).To(Equal(slog.LevelInfo))
	})

	It("reads scheduler tunables from env vars", func() {
		Expect(os.Setenv("BATCH_SIZE", "2")).To(Succeed())
		Expect(os.Setenv("BATCH_INTERVAL", "250ms")).To(Succeed())
		Expect(os.Setenv("UPDATE_INTERVAL", "1h")).To(Succeed())
		Expect(os.Setenv("MAX_RETRIES", "3")).To(Succeed())
		Expect(os.Setenv("RETRY_DELAY", "2h")).To(Succeed())

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.BatchSize).To(Equal(2))
		Expect(cfg.BatchInterval).To(Equal(250 * time.Millisecond))
		Expect(cfg.UpdateInterval).To(Equal(time.Hour))
		Expect(cfg.MaxRetries).To(Equal(3))
		Expect(cfg.RetryDelay).To(Equal(2 * time.Hour))
	})

	It("reads string, list and float values from env vars", func() {
		Expect(os.Setenv("HISTORY_DSN", "sqlite://history.db")).To(Succeed())
		Expect(os.Setenv("UPSTREAM_URL", "https://stats.example.com")).To(Succeed())
		Expect(os.Setenv("UPSTREAM_RATE_LIMIT", "2.5")).To(Succeed())
		Expect(os.Setenv("SEED_CHANNELS", "UCabc,UCdef")).To(Succeed())
		Expect(os.Setenv("DISCOVERY_ENABLED", "false")).To(Succeed())
		Expect(os.Setenv("LOG_LEVEL", "debug")).To(Succeed())

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.HistoryDSN).To(Equal("sqlite://history.db"))
		Expect(cfg.UpstreamURL).To(Equal("https://stats.example.com"))
		Expect(cfg.UpstreamRateLimit).To(Equal(2.5))
		Expect(cfg.SeedChannels).To(Equal([]string{"UCabc", "UCdef"}))
		Expect(cfg.DiscoveryEnabled).To(BeFalse())
		Expect(cfg.LogLevel).To(Equal(slog.LevelDebug))
	})

	It("returns an error for an invalid duration", func() {
		Expect(os.Setenv("UPDATE_INTERVAL", "not-a-duration")).To(Succeed())

		_, err := config.Load()
		Expect(err).To(HaveOccurred())
	})

	It("returns an error for an invalid int", func() {
		Expect(os.Setenv("MAX_RETRIES", "not-a-number")).To(Succeed())

		_, err := config.Load()
		Expect(err).To(HaveOccurred())
	})

	It("rejects a non-positive batch size", func() {
		Expect(os.Setenv("BATCH_SIZE", "0")).To(Succeed())

		_, err := config.Load()
		Expect(err).To(MatchError(ContainSubstring("BATCH_SIZE")))
	})

	It("rejects a cool-down no longer than the sweep interval", func() {
		Expect(os.Setenv("UPDATE_INTERVAL", "10m")).To(Succeed())
		Expect(os.Setenv("RETRY_DELAY", "10m")).To(Succeed())

		_, err := config.Load()
		Expect(err).To(MatchError(ContainSubstring("RETRY_DELAY")))
	})

	It("accepts a short cool-down when cool-down is disabled", func() {
		Expect(os.Setenv("UPDATE_INTERVAL", "10m")).To(Succeed())
		Expect(os.Setenv("RETRY_DELAY", "1m")).To(Succeed())
		Expect(os.Setenv("MAX_RETRIES", "0")).To(Succeed())

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.MaxRetries).To(BeZero())
	})
})
