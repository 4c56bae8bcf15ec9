// Package config loads and validates the agent configuration from a YAML
// file, with environment variable overrides and bounded defaults suitable
// for constrained hosts.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the top-level agent configuration.
type Config struct {
	Browser     BrowserConfig     `yaml:"browser"`
	Performance PerformanceConfig `yaml:"performance"`
	SelfHealing SelfHealingConfig `yaml:"self_healing"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// BrowserConfig controls the Chromium instance and the page pool.
type BrowserConfig struct {
	Headless            bool   `yaml:"headless" env:"FERRET_HEADLESS"`
	MaxTabs             int    `yaml:"max_tabs" env:"FERRET_MAX_TABS"`
	NavigationTimeoutMS int    `yaml:"navigation_timeout_ms"`
	DefaultTimeoutMS    int    `yaml:"default_timeout_ms"`
	ProxyURL            string `yaml:"proxy_url" env:"FERRET_PROXY"`
	RemoteURL           string `yaml:"remote_url" env:"FERRET_REMOTE_URL"`
}

// PerformanceConfig controls request blocking and post-navigation settling.
type PerformanceConfig struct {
	EnableRequestBlocking bool     `yaml:"enable_request_blocking"`
	BlockResourceTypes    []string `yaml:"block_resource_types"`
	BlockAdDomains        []string `yaml:"block_ad_domains"`
	WaitAfterNavigationMS int      `yaml:"wait_after_navigation_ms"`
}

// SelfHealingConfig controls the selector resolver and its cache.
type SelfHealingConfig struct {
	Enabled             bool     `yaml:"enabled"`
	CachePath           string   `yaml:"cache_path" env:"FERRET_CACHE_PATH"`
	CacheTTLHours       int      `yaml:"cache_ttl_hours"`
	MaxCandidates       int      `yaml:"max_candidates"`
	SimilarityThreshold float64  `yaml:"similarity_threshold"`
	Strategies          []string `yaml:"strategies"`
}

// ExtractionConfig bounds extraction output sizes.
type ExtractionConfig struct {
	MaxTextLength    int    `yaml:"max_text_length"`
	MaxTableRows     int    `yaml:"max_table_rows"`
	StreamChunkChars int    `yaml:"stream_chunk_chars"`
	MaxStreamChunks  int    `yaml:"max_stream_chunks"`
	TokenEncoding    string `yaml:"token_encoding"` // optional tiktoken encoding for exact counts
}

// SessionsConfig controls where opaque session blobs are stored.
type SessionsConfig struct {
	Directory string `yaml:"directory" env:"FERRET_SESSIONS_DIR"`
}

// LoggingConfig controls log verbosity. Logs go to stderr; stdout carries
// only the JSON result.
type LoggingConfig struct {
	Level string `yaml:"level" env:"FERRET_LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		Browser: BrowserConfig{
			Headless:            true,
			MaxTabs:             2,
			NavigationTimeoutMS: 45000,
			DefaultTimeoutMS:    12000,
		},
		Performance: PerformanceConfig{
			EnableRequestBlocking: true,
			BlockResourceTypes:    []string{"image", "media", "font"},
			WaitAfterNavigationMS: 250,
		},
		SelfHealing: SelfHealingConfig{
			Enabled:             true,
			CachePath:           "./cache/selectors.db",
			CacheTTLHours:       168,
			MaxCandidates:       1800,
			SimilarityThreshold: 3.5,
			Strategies:          []string{"direct", "cached", "text", "semantic"},
		},
		Extraction: ExtractionConfig{
			MaxTextLength:    12000,
			MaxTableRows:     1000,
			StreamChunkChars: 1800,
			MaxStreamChunks:  12,
		},
		Sessions: SessionsConfig{
			Directory: "./cache/sessions",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
	return cfg
}

// Load reads a YAML configuration file, merges it over the defaults,
// applies FERRET_* environment overrides, and clamps out-of-range values.
// A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: env overrides: %w", err)
	}

	cfg.clamp()
	return cfg, nil
}

// clamp forces every tunable into its safe range rather than failing.
// The agent runs unattended; a bad value should degrade, not abort.
func (c *Config) clamp() {
	c.Browser.MaxTabs = boundInt(c.Browser.MaxTabs, 2, 1, 16)
	c.Browser.NavigationTimeoutMS = boundInt(c.Browser.NavigationTimeoutMS, 45000, 5000, 300000)
	c.Browser.DefaultTimeoutMS = boundInt(c.Browser.DefaultTimeoutMS, 12000, 1000, 120000)

	c.SelfHealing.CacheTTLHours = boundInt(c.SelfHealing.CacheTTLHours, 168, 1, 24*365)
	c.SelfHealing.MaxCandidates = boundInt(c.SelfHealing.MaxCandidates, 1800, 50, 10000)
	c.SelfHealing.SimilarityThreshold = boundFloat(c.SelfHealing.SimilarityThreshold, 3.5, 0.5, 20.0)
	if len(c.SelfHealing.Strategies) == 0 {
		c.SelfHealing.Strategies = []string{"direct", "cached", "text", "semantic"}
	}

	c.Extraction.MaxTextLength = boundInt(c.Extraction.MaxTextLength, 12000, 500, 1<<20)
	c.Extraction.MaxTableRows = boundInt(c.Extraction.MaxTableRows, 1000, 10, 100000)
	c.Extraction.StreamChunkChars = boundInt(c.Extraction.StreamChunkChars, 1800, 200, 65536)
	c.Extraction.MaxStreamChunks = boundInt(c.Extraction.MaxStreamChunks, 12, 1, 1000)

	if c.Sessions.Directory == "" {
		c.Sessions.Directory = "./cache/sessions"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// NavigationTimeout returns the navigation timeout as a duration.
func (c *BrowserConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavigationTimeoutMS) * time.Millisecond
}

// DefaultTimeout returns the per-operation timeout as a duration.
func (c *BrowserConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMS) * time.Millisecond
}

// ApplyOverrides shallow-merges a task's config_overrides document onto
// the loaded configuration and re-clamps. The document is JSON, which the
// YAML decoder accepts directly.
func (c *Config) ApplyOverrides(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: apply overrides: %w", err)
	}
	c.clamp()
	return nil
}

// WaitAfterNavigation returns the post-load settle delay as a duration.
func (c *PerformanceConfig) WaitAfterNavigation() time.Duration {
	return time.Duration(c.WaitAfterNavigationMS) * time.Millisecond
}

// CacheTTL returns the selector cache TTL as a duration.
func (c *SelfHealingConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

func boundInt(v, def, min, max int) int {
	if v == 0 {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func boundFloat(v, def, min, max float64) float64 {
	if v == 0 {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
