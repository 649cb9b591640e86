package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hipims/modelbuilder/internal/catalog"
	"github.com/hipims/modelbuilder/internal/workspace"
	"github.com/hipims/modelbuilder/pkg/raster"
	"gopkg.in/yaml.v3"
)

// Config defines configuration for the modelbuilder CLI.
type Config struct {
	Workspace   string        `yaml:"workspace"`
	Catalog     CatalogConfig `yaml:"catalog"`
	Resolution  float64       `yaml:"resolution"`
	Format      string        `yaml:"format"`
	HTTP        HTTPConfig    `yaml:"http"`
	Log         LogConfig     `yaml:"log"`
	MetricsAddr string        `yaml:"metrics_addr"`
	NATSURL     string        `yaml:"nats_url"`
	ValkeyAddr  string        `yaml:"valkey_addr"`
}

// CatalogConfig defines where survey tiles are looked up and fetched.
type CatalogConfig struct {
	URL         string        `yaml:"url"`
	DownloadURL string        `yaml:"download_url"`
	Name        string        `yaml:"name"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// HTTPConfig defines request timeout and retry behavior.
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Workspace: workspace.DefaultLocation,
		Catalog: CatalogConfig{
			URL:         catalog.DefaultURL,
			DownloadURL: catalog.DefaultDownloadURL,
			Name:        catalog.DefaultName,
			CacheTTL:    24 * time.Hour,
		},
		Resolution: 2.0,
		Format:     string(raster.EHdr),
		HTTP: HTTPConfig{
			Timeout:      10 * time.Minute,
			RetryBackoff: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Workspace string `yaml:"workspace"`
	Catalog   struct {
		URL         string `yaml:"url"`
		DownloadURL string `yaml:"download_url"`
		Name        string `yaml:"name"`
		CacheTTL    string `yaml:"cache_ttl"`
	} `yaml:"catalog"`
	Resolution float64 `yaml:"resolution"`
	Format     string  `yaml:"format"`
	HTTP       struct {
		Timeout       string `yaml:"timeout"`
		RetryAttempts int    `yaml:"retry_attempts"`
		RetryBackoff  string `yaml:"retry_backoff"`
	} `yaml:"http"`
	Log         LogConfig `yaml:"log"`
	MetricsAddr string    `yaml:"metrics_addr"`
	NATSURL     string    `yaml:"nats_url"`
	ValkeyAddr  string    `yaml:"valkey_addr"`
}

// LoadFromFile loads configuration from a YAML file. Keys absent from the
// file keep their defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	override := Config{
		Workspace: yc.Workspace,
		Catalog: CatalogConfig{
			URL:         yc.Catalog.URL,
			DownloadURL: yc.Catalog.DownloadURL,
			Name:        yc.Catalog.Name,
		},
		Resolution:  yc.Resolution,
		Format:      yc.Format,
		HTTP:        HTTPConfig{RetryAttempts: yc.HTTP.RetryAttempts},
		Log:         yc.Log,
		MetricsAddr: yc.MetricsAddr,
		NATSURL:     yc.NATSURL,
		ValkeyAddr:  yc.ValkeyAddr,
	}
	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"catalog.cache_ttl", yc.Catalog.CacheTTL, &override.Catalog.CacheTTL},
		{"http.timeout", yc.HTTP.Timeout, &override.HTTP.Timeout},
		{"http.retry_backoff", yc.HTTP.RetryBackoff, &override.HTTP.RetryBackoff},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return Default().Merge(override), nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the MB_ prefix.
func (c *Config) LoadFromEnv() error {
	text := map[string]*string{
		"MB_WORKSPACE":            &c.Workspace,
		"MB_CATALOG_URL":          &c.Catalog.URL,
		"MB_CATALOG_DOWNLOAD_URL": &c.Catalog.DownloadURL,
		"MB_CATALOG_NAME":         &c.Catalog.Name,
		"MB_FORMAT":               &c.Format,
		"MB_LOG_LEVEL":            &c.Log.Level,
		"MB_LOG_FORMAT":           &c.Log.Format,
		"MB_METRICS_ADDR":         &c.MetricsAddr,
		"MB_NATS_URL":             &c.NATSURL,
		"MB_VALKEY_ADDR":          &c.ValkeyAddr,
	}
	for name, dst := range text {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("MB_RESOLUTION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse MB_RESOLUTION: %w", err)
		}
		c.Resolution = f
	}
	if v := os.Getenv("MB_HTTP_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse MB_HTTP_RETRY_ATTEMPTS: %w", err)
		}
		c.HTTP.RetryAttempts = n
	}

	durations := map[string]*time.Duration{
		"MB_CATALOG_CACHE_TTL":  &c.Catalog.CacheTTL,
		"MB_HTTP_TIMEOUT":       &c.HTTP.Timeout,
		"MB_HTTP_RETRY_BACKOFF": &c.HTTP.RetryBackoff,
	}
	for name, dst := range durations {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return errors.New("config: workspace is required")
	}
	if c.Catalog.URL == "" || c.Catalog.DownloadURL == "" {
		return errors.New("config: catalog url and download_url are required")
	}
	if c.Resolution <= 0 {
		return errors.New("config: resolution must be positive")
	}
	if _, err := raster.ParseFormat(c.Format); err != nil {
		return fmt.Errorf("config: format: %w", err)
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("config: http.timeout must be positive")
	}
	if c.HTTP.RetryAttempts < 0 {
		return errors.New("config: http.retry_attempts must not be negative")
	}
	if c.Catalog.CacheTTL < 0 {
		return errors.New("config: catalog.cache_ttl must not be negative")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Workspace != "" {
		c.Workspace = override.Workspace
	}
	if override.Catalog.URL != "" {
		c.Catalog.URL = override.Catalog.URL
	}
	if override.Catalog.DownloadURL != "" {
		c.Catalog.DownloadURL = override.Catalog.DownloadURL
	}
	if override.Catalog.Name != "" {
		c.Catalog.Name = override.Catalog.Name
	}
	if override.Catalog.CacheTTL != 0 {
		c.Catalog.CacheTTL = override.Catalog.CacheTTL
	}
	if override.Resolution != 0 {
		c.Resolution = override.Resolution
	}
	if override.Format != "" {
		c.Format = override.Format
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.RetryAttempts != 0 {
		c.HTTP.RetryAttempts = override.HTTP.RetryAttempts
	}
	if override.HTTP.RetryBackoff != 0 {
		c.HTTP.RetryBackoff = override.HTTP.RetryBackoff
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	if override.MetricsAddr != "" {
		c.MetricsAddr = override.MetricsAddr
	}
	if override.NATSURL != "" {
		c.NATSURL = override.NATSURL
	}
	if override.ValkeyAddr != "" {
		c.ValkeyAddr = override.ValkeyAddr
	}
	return c
}

// RasterFormat returns the configured output format.
func (c *Config) RasterFormat() raster.Format {
	f, err := raster.ParseFormat(c.Format)
	if err != nil {
		return raster.EHdr
	}
	return f
}
