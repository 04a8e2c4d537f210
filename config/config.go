package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SCRAPEDESK_SERVICE_URL.
const EnvPrefix = "SCRAPEDESK"

// Config holds client and service configuration.
type Config struct {
	// Client side.
	ServiceURL     string        `mapstructure:"service_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	HostCacheSize  int           `mapstructure:"host_cache_size"`
	ExportDir      string        `mapstructure:"export_dir"`

	// Service side.
	ListenAddr         string        `mapstructure:"listen_addr"`
	MetricsAddr        string        `mapstructure:"metrics_addr"`
	MaxPages           int           `mapstructure:"max_pages"`
	Parallelism        int           `mapstructure:"parallelism"`
	ScrapeTimeout      time.Duration `mapstructure:"scrape_timeout"`
	UserAgent          string        `mapstructure:"user_agent"`
	RespectRobotsTxt   bool          `mapstructure:"respect_robots_txt"`
	PipelineBufferSize int           `mapstructure:"pipeline_buffer_size"`
	BatchSize          int           `mapstructure:"batch_size"`
	DedupeMaxSize      int           `mapstructure:"dedupe_max_size"`

	Verbose bool `mapstructure:"verbose"`
}

// DefaultConfig returns defaults for a service running on localhost.
func DefaultConfig() *Config {
	return &Config{
		ServiceURL:         "http://localhost:5000",
		RequestTimeout:     30 * time.Second,
		HostCacheSize:      1024,
		ExportDir:          ".",
		ListenAddr:         ":5000",
		MetricsAddr:        "",
		MaxPages:           1,
		Parallelism:        4,
		ScrapeTimeout:      10 * time.Second,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		RespectRobotsTxt:   false,
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,
		Verbose:            false,
	}
}

// Load builds a Config from defaults, an optional config file and
// SCRAPEDESK_* environment variables, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service_url", cfg.ServiceURL)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("host_cache_size", cfg.HostCacheSize)
	v.SetDefault("export_dir", cfg.ExportDir)
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("max_pages", cfg.MaxPages)
	v.SetDefault("parallelism", cfg.Parallelism)
	v.SetDefault("scrape_timeout", cfg.ScrapeTimeout)
	v.SetDefault("user_agent", cfg.UserAgent)
	v.SetDefault("respect_robots_txt", cfg.RespectRobotsTxt)
	v.SetDefault("pipeline_buffer_size", cfg.PipelineBufferSize)
	v.SetDefault("batch_size", cfg.BatchSize)
	v.SetDefault("dedupe_max_size", cfg.DedupeMaxSize)
	v.SetDefault("verbose", cfg.Verbose)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ServiceURL == "" {
		return errors.New("service URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.ServiceURL)
	if err != nil {
		return fmt.Errorf("invalid service URL: %w", err)
	}
	if parsedURL.Host == "" {
		return errors.New("service URL must include a host")
	}

	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.HostCacheSize <= 0 {
		return errors.New("host cache size must be positive")
	}
	if c.ExportDir == "" {
		return errors.New("export dir cannot be empty")
	}
	if c.ListenAddr == "" {
		return errors.New("listen addr cannot be empty")
	}
	if c.MaxPages <= 0 {
		return errors.New("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return errors.New("parallelism must be positive")
	}
	if c.ScrapeTimeout <= 0 {
		return errors.New("scrape timeout must be positive")
	}
	if c.UserAgent == "" {
		return errors.New("user agent cannot be empty")
	}
	if c.PipelineBufferSize <= 0 {
		return errors.New("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return errors.New("dedupe max size must be positive")
	}

	return nil
}
