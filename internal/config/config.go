// Package config collects the engine's settings from the environment.
// Mains load a .env file first (godotenv), then construct every client
// explicitly from the resulting Config; nothing reads the environment at
// call time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
)

// Defaults used when the environment is silent.
const (
	DefaultArchiveID      = "CC-MAIN-2024-33"
	DefaultLinkDBRoot     = "linkdb"
	DefaultTierTimeout    = 60 * time.Second
	DefaultMaxConcurrency = 4
)

// Config carries everything the resolution engine needs at startup.
type Config struct {
	// ArchiveID names the bulk-archive crawl used for index queries.
	ArchiveID string
	// IndexBaseURL overrides the CDX index endpoint; empty keeps the
	// client default.
	IndexBaseURL string
	// DataBaseURL overrides the container object host; empty keeps the
	// fetcher default.
	DataBaseURL string
	// AvailabilityURL overrides the snapshot availability endpoint.
	AvailabilityURL string
	// LinkDBRoot is the directory link-graph namespaces live under.
	LinkDBRoot string
	// TierTimeout is each cascade tier's own budget.
	TierTimeout time.Duration
	// MaxConcurrency bounds batch resolution workers.
	MaxConcurrency int
	// ChromePath points at a browser executable for rendered live
	// fetches; empty disables rendering.
	ChromePath string
	// RenderJS enables the browser renderer for the live tier.
	RenderJS bool
	// ExtractToolPath points at the bulk link-extraction binary.
	ExtractToolPath string
	// LogLevel is debug, info, warn, or error.
	LogLevel string
}

// Load reads the configuration from environment variables, applying
// defaults for anything unset.
func Load() Config {
	return Config{
		ArchiveID:       envOr("ARC_ARCHIVE_ID", DefaultArchiveID),
		IndexBaseURL:    os.Getenv("ARC_INDEX_URL"),
		DataBaseURL:     os.Getenv("ARC_DATA_URL"),
		AvailabilityURL: os.Getenv("ARC_AVAILABILITY_URL"),
		LinkDBRoot:      envOr("ARC_LINKDB_ROOT", DefaultLinkDBRoot),
		TierTimeout:     envDuration("ARC_TIER_TIMEOUT", DefaultTierTimeout),
		MaxConcurrency:  envInt("ARC_MAX_CONCURRENCY", DefaultMaxConcurrency),
		ChromePath:      os.Getenv("ARC_CHROME_PATH"),
		RenderJS:        envBool("ARC_RENDER_JS"),
		ExtractToolPath: os.Getenv("ARC_EXTRACT_TOOL"),
		LogLevel:        envOr("ARC_LOG_LEVEL", "info"),
	}
}

// Validate rejects configurations the engine cannot start with.
func (c Config) Validate() error {
	if c.ArchiveID == "" {
		return fmt.Errorf("archive ID must not be empty")
	}
	if c.TierTimeout <= 0 {
		return fmt.Errorf("tier timeout must be positive, got %s", c.TierTimeout)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be >= 1, got %d", c.MaxConcurrency)
	}
	return nil
}

// NewLogger builds the process logger at the configured level.
func (c Config) NewLogger() *log.Logger {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || v == "true" || v == "yes"
}
