package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration. It is an
// explicit structure passed into each pipeline invocation so tests can
// point the pipelines at mock endpoints and temporary directories.
type Config struct {
	BSE     BSEConfig     `yaml:"bse" envconfig:"BSE"`
	NSE     NSEConfig     `yaml:"nse" envconfig:"NSE"`
	HTTP    HTTPConfig    `yaml:"http" envconfig:"HTTP"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// BSEConfig contains the BSE (exchange A) endpoint and output settings.
type BSEConfig struct {
	BaseURL   string `yaml:"base_url" envconfig:"BASE_URL" validate:"required,url"`
	OutputDir string `yaml:"output_dir" envconfig:"OUTPUT_DIR" validate:"required"`
}

// NSEConfig contains the NSE (exchange B) endpoint, cookie persistence
// and output settings.
type NSEConfig struct {
	BaseURL   string `yaml:"base_url" envconfig:"BASE_URL" validate:"required,url"`
	HomeURL   string `yaml:"home_url" envconfig:"HOME_URL" validate:"required,url"`
	OutputDir string `yaml:"output_dir" envconfig:"OUTPUT_DIR" validate:"required"`
	CookieDir string `yaml:"cookie_dir" envconfig:"COOKIE_DIR" validate:"required"`
}

// HTTPConfig contains the shared HTTP client settings. The headers are
// sent on every request to both exchanges.
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`
	UserAgent string        `yaml:"user_agent" envconfig:"USER_AGENT" validate:"required"`
	Referer   string        `yaml:"referer" envconfig:"REFERER" validate:"required"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// Default returns the default configuration, matching the published
// exchange endpoints.
func Default() *Config {
	return &Config{
		BSE: BSEConfig{
			BaseURL:   "https://www.bseindia.com",
			OutputDir: "data/bse/equity",
		},
		NSE: NSEConfig{
			BaseURL:   "https://nsearchives.nseindia.com",
			HomeURL:   "https://www.nseindia.com",
			OutputDir: "data/nse/equity",
			CookieDir: "data",
		},
		HTTP: HTTPConfig{
			Timeout:   20 * time.Second,
			UserAgent: "Mozilla/5.0",
			Referer:   "https://www.nseindia.com",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/fetcher.log",
		},
	}
}

// Load builds the configuration in three layers: defaults, an optional
// YAML config file, then BHAV_* environment variables (highest
// precedence). The result is validated before being returned.
func Load() (*Config, error) {
	cfg := Default()

	if configFile := findConfigFile(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process("BHAV", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays configuration from a YAML file onto cfg.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Validate checks the configuration for missing or malformed values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging file_path is required when output is %q", c.Logging.Output)
	}

	return nil
}

// CookieFilePath returns the path of the persisted NSE cookie file.
func (c *Config) CookieFilePath() string {
	return filepath.Join(c.NSE.CookieDir, "nse_cookies.json")
}

// findConfigFile returns the path to the config file, checking common
// locations. An empty string means env vars and defaults only.
func findConfigFile() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}
