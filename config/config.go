// Package config provides configuration loading and management for the
// extraction service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/softonit/textract/ingest"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Limits  LimitsConfig  `yaml:"limits"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Render  RenderConfig  `yaml:"render"`
	SSRF    SSRFConfig    `yaml:"ssrf"`
	Formats FormatsConfig `yaml:"formats"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	// Host is the bind address (default: 0.0.0.0)
	Host string `yaml:"host"`
	// Port is the listen port (default: 8000)
	Port int `yaml:"port"`
	// ReadTimeout bounds request reading, including the body
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout bounds response writing
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AllowedOrigins is the CORS origin list (empty = allow all)
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LimitsConfig holds the per-request resource budget
type LimitsConfig struct {
	// MaxInputBytes caps one uploaded or fetched input
	MaxInputBytes int64 `yaml:"max_input_bytes"`
	// MaxArchiveBytes caps the compressed size of an archive
	MaxArchiveBytes int64 `yaml:"max_archive_bytes"`
	// MaxExpandedBytes caps cumulative decompressed output per request
	MaxExpandedBytes int64 `yaml:"max_expanded_bytes"`
	// MaxNestingDepth caps archive-within-archive recursion
	MaxNestingDepth int `yaml:"max_nesting_depth"`
	// ProcessingTimeout is the wall-clock limit for one request
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`
	// MaxImagesPerPage caps embedded images collected from one page
	MaxImagesPerPage int `yaml:"max_images_per_page"`
	// MaxScrollAttempts caps the lazy-load scroll loop
	MaxScrollAttempts int `yaml:"max_scroll_attempts"`
	// ExtractConcurrency bounds parallel per-unit extraction
	ExtractConcurrency int `yaml:"extract_concurrency"`
}

// FetchConfig configures static URL fetching
type FetchConfig struct {
	// UserAgent is sent when the request does not override it
	UserAgent string `yaml:"user_agent"`
	// ConnectTimeout bounds DNS plus TCP connect
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// TransferTimeout bounds the whole transfer, independent of connect
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
}

// RenderConfig configures headless-browser rendering
type RenderConfig struct {
	// Enabled turns rendered fetches on; requests still opt in per call
	Enabled bool `yaml:"enabled"`
	// LoadTimeout bounds navigation and network settle
	LoadTimeout time.Duration `yaml:"load_timeout"`
	// SettleDelay is the fixed wait for late script execution
	SettleDelay time.Duration `yaml:"settle_delay"`
	// ScrollDelay is the wait between scroll iterations
	ScrollDelay time.Duration `yaml:"scroll_delay"`
}

// SSRFConfig holds the process-wide fetch blocklists. Loaded once at
// startup and never mutated at request time.
type SSRFConfig struct {
	// BlockedCIDRs are address ranges fetches may never reach
	BlockedCIDRs []string `yaml:"blocked_cidrs"`
	// BlockedHostnames are exact names or ".suffix" entries
	BlockedHostnames []string `yaml:"blocked_hostnames"`
}

// FormatsConfig groups supported extensions for reporting
type FormatsConfig struct {
	Groups map[string][]string `yaml:"groups"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  320 * time.Second,
			WriteTimeout: 320 * time.Second,
		},
		Limits: LimitsConfig{
			MaxInputBytes:      20 << 20, // 20 MiB
			MaxArchiveBytes:    20 << 20,
			MaxExpandedBytes:   100 << 20,
			MaxNestingDepth:    3,
			ProcessingTimeout:  300 * time.Second,
			MaxImagesPerPage:   20,
			MaxScrollAttempts:  10,
			ExtractConcurrency: 4,
		},
		Fetch: FetchConfig{
			UserAgent:       "textract/1.0",
			ConnectTimeout:  10 * time.Second,
			TransferTimeout: 60 * time.Second,
		},
		Render: RenderConfig{
			Enabled:     false,
			LoadTimeout: 30 * time.Second,
			SettleDelay: 2 * time.Second,
			ScrollDelay: 500 * time.Millisecond,
		},
		SSRF: SSRFConfig{
			BlockedCIDRs: []string{
				"127.0.0.0/8",    // loopback
				"10.0.0.0/8",     // RFC1918
				"172.16.0.0/12",  // RFC1918
				"192.168.0.0/16", // RFC1918
				"169.254.0.0/16", // link-local, incl. cloud metadata
				"100.64.0.0/10",  // CGNAT
				"0.0.0.0/8",
				"::1/128",
				"fc00::/7",
				"fe80::/10",
			},
			BlockedHostnames: []string{
				"localhost",
				"metadata.google.internal",
				".local",
				".internal",
			},
		},
		Formats: FormatsConfig{
			Groups: map[string][]string{
				"documents":       {"txt", "md", "rtf", "pdf", "doc", "docx", "odt", "epub"},
				"spreadsheets":    {"csv", "tsv", "xls", "xlsx", "ods"},
				"presentations":   {"ppt", "pptx"},
				"structured_data": {"json", "xml", "yaml", "yml"},
				"images_ocr":      {"png", "jpg", "jpeg", "gif", "webp", "bmp"},
				"archives":        {"zip", "tar", "gz", "tgz", "bz2", "tbz2", "xz", "txz"},
				"other":           {"html", "eml", "log"},
			},
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Limits.MaxInputBytes <= 0 {
		return fmt.Errorf("limits.max_input_bytes must be positive")
	}
	if c.Limits.MaxExpandedBytes < c.Limits.MaxInputBytes {
		return fmt.Errorf("limits.max_expanded_bytes must be at least limits.max_input_bytes")
	}
	if c.Limits.MaxNestingDepth < 0 {
		return fmt.Errorf("limits.max_nesting_depth must not be negative")
	}
	if c.Limits.ProcessingTimeout <= 0 {
		return fmt.Errorf("limits.processing_timeout must be positive")
	}
	if c.Limits.MaxScrollAttempts < 1 {
		return fmt.Errorf("limits.max_scroll_attempts must be at least 1")
	}
	if len(c.SSRF.BlockedCIDRs) == 0 {
		return fmt.Errorf("ssrf.blocked_cidrs must not be empty")
	}
	return nil
}

// Budget builds the per-request resource budget from the limits
func (c *Config) Budget() ingest.Budget {
	return ingest.Budget{
		MaxInputBytes:     c.Limits.MaxInputBytes,
		MaxArchiveBytes:   c.Limits.MaxArchiveBytes,
		MaxExpandedBytes:  c.Limits.MaxExpandedBytes,
		MaxNestingDepth:   c.Limits.MaxNestingDepth,
		ProcessingTimeout: c.Limits.ProcessingTimeout,
		MaxImagesPerPage:  c.Limits.MaxImagesPerPage,
		MaxScrollAttempts: c.Limits.MaxScrollAttempts,
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.ReadTimeout != 0 {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.WriteTimeout != 0 {
		c.Server.WriteTimeout = other.Server.WriteTimeout
	}
	if len(other.Server.AllowedOrigins) > 0 {
		c.Server.AllowedOrigins = other.Server.AllowedOrigins
	}

	// Limits
	if other.Limits.MaxInputBytes != 0 {
		c.Limits.MaxInputBytes = other.Limits.MaxInputBytes
	}
	if other.Limits.MaxArchiveBytes != 0 {
		c.Limits.MaxArchiveBytes = other.Limits.MaxArchiveBytes
	}
	if other.Limits.MaxExpandedBytes != 0 {
		c.Limits.MaxExpandedBytes = other.Limits.MaxExpandedBytes
	}
	if other.Limits.MaxNestingDepth != 0 {
		c.Limits.MaxNestingDepth = other.Limits.MaxNestingDepth
	}
	if other.Limits.ProcessingTimeout != 0 {
		c.Limits.ProcessingTimeout = other.Limits.ProcessingTimeout
	}
	if other.Limits.MaxImagesPerPage != 0 {
		c.Limits.MaxImagesPerPage = other.Limits.MaxImagesPerPage
	}
	if other.Limits.MaxScrollAttempts != 0 {
		c.Limits.MaxScrollAttempts = other.Limits.MaxScrollAttempts
	}
	if other.Limits.ExtractConcurrency != 0 {
		c.Limits.ExtractConcurrency = other.Limits.ExtractConcurrency
	}

	// Fetch
	if other.Fetch.UserAgent != "" {
		c.Fetch.UserAgent = other.Fetch.UserAgent
	}
	if other.Fetch.ConnectTimeout != 0 {
		c.Fetch.ConnectTimeout = other.Fetch.ConnectTimeout
	}
	if other.Fetch.TransferTimeout != 0 {
		c.Fetch.TransferTimeout = other.Fetch.TransferTimeout
	}

	// Render
	if other.Render.Enabled {
		c.Render.Enabled = true
	}
	if other.Render.LoadTimeout != 0 {
		c.Render.LoadTimeout = other.Render.LoadTimeout
	}
	if other.Render.SettleDelay != 0 {
		c.Render.SettleDelay = other.Render.SettleDelay
	}
	if other.Render.ScrollDelay != 0 {
		c.Render.ScrollDelay = other.Render.ScrollDelay
	}

	// SSRF lists replace wholesale rather than append, so a file can
	// tighten or relax the defaults deliberately
	if len(other.SSRF.BlockedCIDRs) > 0 {
		c.SSRF.BlockedCIDRs = other.SSRF.BlockedCIDRs
	}
	if len(other.SSRF.BlockedHostnames) > 0 {
		c.SSRF.BlockedHostnames = other.SSRF.BlockedHostnames
	}

	// Formats
	if len(other.Formats.Groups) > 0 {
		c.Formats.Groups = other.Formats.Groups
	}
}
