package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ArchiveID != DefaultArchiveID {
		t.Errorf("ArchiveID = %q", cfg.ArchiveID)
	}
	if cfg.TierTimeout != DefaultTierTimeout {
		t.Errorf("TierTimeout = %s", cfg.TierTimeout)
	}
	if cfg.MaxConcurrency != DefaultMaxConcurrency {
		t.Errorf("MaxConcurrency = %d", cfg.MaxConcurrency)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ARC_ARCHIVE_ID", "CC-MAIN-2023-06")
	t.Setenv("ARC_TIER_TIMEOUT", "90s")
	t.Setenv("ARC_MAX_CONCURRENCY", "8")
	t.Setenv("ARC_RENDER_JS", "true")

	cfg := Load()
	if cfg.ArchiveID != "CC-MAIN-2023-06" {
		t.Errorf("ArchiveID = %q", cfg.ArchiveID)
	}
	if cfg.TierTimeout != 90*time.Second {
		t.Errorf("TierTimeout = %s", cfg.TierTimeout)
	}
	if cfg.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d", cfg.MaxConcurrency)
	}
	if !cfg.RenderJS {
		t.Error("RenderJS should be enabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty archive", func(c *Config) { c.ArchiveID = "" }, true},
		{"zero timeout", func(c *Config) { c.TierTimeout = 0 }, true},
		{"zero concurrency", func(c *Config) { c.MaxConcurrency = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
