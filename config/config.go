// Package config holds the engine configuration surface.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/partscout/partscout/models"
	"gopkg.in/yaml.v3"
)

// Config holds engine-wide settings plus one block per supported platform.
// Changing a platform's budget, transport, or phrase lists requires no code
// changes in the adapters.
type Config struct {
	Platforms map[models.Platform]*PlatformConfig `yaml:"platforms"`

	PipelineBufferSize int           `yaml:"pipeline_buffer_size"`
	BatchSize          int           `yaml:"batch_size"`
	DedupeMaxSize      int           `yaml:"dedupe_max_size"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`

	OutputFile   string `yaml:"output_file"`
	OutputFormat string `yaml:"output_format"` // csv, json, or dual
	MetricsAddr  string `yaml:"metrics_addr"`
	Verbose      bool   `yaml:"verbose"`
}

// PlatformConfig carries one marketplace's request budget and scrape behaviour.
type PlatformConfig struct {
	BaseURL   string               `yaml:"base_url"`
	Transport models.TransportKind `yaml:"transport"`
	UserAgent string               `yaml:"user_agent"`
	Timeout   time.Duration        `yaml:"timeout"`

	// Rate budget: at most RequestsPerWindow grants per rolling Window.
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`

	// ConcurrencyCap bounds simultaneous in-flight requests; Workers sizes the
	// platform's dispatch pool. The cap bounds concurrency, the budget bounds rate.
	ConcurrencyCap int `yaml:"concurrency_cap"`
	Workers        int `yaml:"workers"`

	MaxAttempts   int           `yaml:"max_attempts"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	BlockCooldown time.Duration `yaml:"block_cooldown"`
	MaxBlocks     int           `yaml:"max_blocks"`

	// BlockMarkers are lowercase substrings that identify interstitial or
	// CAPTCHA pages on this platform.
	BlockMarkers []string `yaml:"block_markers"`

	// AvailabilityPhrases maps lowercase site phrases to availability enum
	// values. Unmapped phrases resolve to unknown, never in_stock.
	AvailabilityPhrases map[string]models.Availability `yaml:"availability_phrases"`

	// Browser transport tuning; ignored for plain transports.
	BrowserWaitSelector string        `yaml:"browser_wait_selector"`
	BrowserSettle       time.Duration `yaml:"browser_settle"`
	BrowserHeadless     bool          `yaml:"browser_headless"`
}

// DefaultConfig returns conservative budgets for the three supported platforms.
func DefaultConfig() *Config {
	ua := "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	return &Config{
		Platforms: map[models.Platform]*PlatformConfig{
			models.PlatformPartsBay: {
				BaseURL:           "https://www.partsbay.test",
				Transport:         models.TransportPlain,
				UserAgent:         ua,
				Timeout:           10 * time.Second,
				RequestsPerWindow: 30,
				Window:            time.Minute,
				ConcurrencyCap:    4,
				Workers:           4,
				MaxAttempts:       3,
				BaseBackoff:       500 * time.Millisecond,
				MaxBackoff:        30 * time.Second,
				BlockCooldown:     2 * time.Minute,
				MaxBlocks:         3,
				BlockMarkers:      []string{"pardon our interruption", "verify you are a human"},
				AvailabilityPhrases: map[string]models.Availability{
					"in stock":               models.AvailabilityInStock,
					"only 1 left":            models.AvailabilityLowStock,
					"limited quantity":       models.AvailabilityLowStock,
					"out of stock":           models.AvailabilityOutOfStock,
					"this listing has ended": models.AvailabilityDiscontinued,
				},
			},
			models.PlatformSpeedMart: {
				BaseURL:           "https://www.speedmart.test",
				Transport:         models.TransportPlain,
				UserAgent:         ua,
				Timeout:           10 * time.Second,
				RequestsPerWindow: 60,
				Window:            time.Minute,
				ConcurrencyCap:    8,
				Workers:           8,
				MaxAttempts:       4,
				BaseBackoff:       250 * time.Millisecond,
				MaxBackoff:        20 * time.Second,
				BlockCooldown:     time.Minute,
				MaxBlocks:         3,
				BlockMarkers:      []string{"access denied", "unusual traffic from your network"},
				AvailabilityPhrases: map[string]models.Availability{
					"in stock":                     models.AvailabilityInStock,
					"only a few left":              models.AvailabilityLowStock,
					"low stock":                    models.AvailabilityLowStock,
					"currently unavailable":        models.AvailabilityOutOfStock,
					"temporarily out of stock":     models.AvailabilityOutOfStock,
					"discontinued by manufacturer": models.AvailabilityDiscontinued,
				},
			},
			models.PlatformGearHub: {
				BaseURL:           "https://www.gearhub.test",
				Transport:         models.TransportBrowser,
				UserAgent:         ua,
				Timeout:           25 * time.Second,
				RequestsPerWindow: 10,
				Window:            time.Minute,
				ConcurrencyCap:    2,
				Workers:           2,
				MaxAttempts:       3,
				BaseBackoff:       time.Second,
				MaxBackoff:        time.Minute,
				BlockCooldown:     5 * time.Minute,
				MaxBlocks:         2,
				BlockMarkers:      []string{"checking your browser", "captcha"},
				AvailabilityPhrases: map[string]models.Availability{
					"add to cart":         models.AvailabilityInStock,
					"in stock":            models.AvailabilityInStock,
					"ships today":         models.AvailabilityInStock,
					"backordered":         models.AvailabilityOutOfStock,
					"sold out":            models.AvailabilityOutOfStock,
					"no longer available": models.AvailabilityDiscontinued,
				},
				BrowserWaitSelector: "div.product-detail",
				BrowserSettle:       2 * time.Second,
				BrowserHeadless:     true,
			},
		},
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      10000,
		ShutdownGrace:      15 * time.Second,
		OutputFile:         "output/listings.csv",
		OutputFormat:       "csv",
	}
}

// Load reads a YAML config file over the defaults. Platform blocks merge
// field-by-field into that platform's default block, so a file may override
// just a budget without restating the whole platform.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw struct {
		Platforms map[models.Platform]yaml.Node `yaml:"platforms"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	defaults := cfg.Platforms
	cfg.Platforms = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.Platforms = defaults

	for platform, node := range raw.Platforms {
		merged := PlatformConfig{}
		if base, ok := cfg.Platforms[platform]; ok {
			merged = *base
		}
		if err := node.Decode(&merged); err != nil {
			return nil, fmt.Errorf("parse platform %s: %w", platform, err)
		}
		cfg.Platforms[platform] = &merged
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if len(c.Platforms) == 0 {
		return fmt.Errorf("at least one platform must be configured")
	}
	for name, pc := range c.Platforms {
		if pc == nil {
			return fmt.Errorf("platform %s: empty configuration", name)
		}
		if err := pc.validate(); err != nil {
			return fmt.Errorf("platform %s: %w", name, err)
		}
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown grace cannot be negative")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	return nil
}

func (pc *PlatformConfig) validate() error {
	parsed, err := url.Parse(pc.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if pc.Transport != models.TransportPlain && pc.Transport != models.TransportBrowser {
		return fmt.Errorf("transport must be plain or browser")
	}
	if pc.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if pc.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if pc.RequestsPerWindow <= 0 {
		return fmt.Errorf("requests per window must be positive")
	}
	if pc.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if pc.ConcurrencyCap <= 0 {
		return fmt.Errorf("concurrency cap must be positive")
	}
	if pc.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if pc.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if pc.BaseBackoff <= 0 {
		return fmt.Errorf("base backoff must be positive")
	}
	if pc.MaxBackoff < pc.BaseBackoff {
		return fmt.Errorf("max backoff (%s) cannot be below base backoff (%s)", pc.MaxBackoff, pc.BaseBackoff)
	}
	if pc.BlockCooldown <= 0 {
		return fmt.Errorf("block cooldown must be positive")
	}
	if pc.MaxBlocks <= 0 {
		return fmt.Errorf("max blocks must be positive")
	}
	return nil
}

// Platform returns the configuration block for a platform, or an error when
// the platform is not configured.
func (c *Config) Platform(p models.Platform) (*PlatformConfig, error) {
	pc, ok := c.Platforms[p]
	if !ok {
		return nil, fmt.Errorf("platform %s is not configured", p)
	}
	return pc, nil
}
