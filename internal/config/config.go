package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PostgresConfig describes the database holding agent API tokens.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// LoggerConfig controls the rotating log file.
type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ServiceConfig points at the Document Service.
type ServiceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"` // 0 keeps the transport default
}

// SurfaceConfig selects and tunes the presentation surface.
type SurfaceConfig struct {
	Kind            string   `yaml:"kind"` // chrome | system | none
	ChromePath      string   `yaml:"chrome_path"`
	ChromeNoSandbox bool     `yaml:"chrome_no_sandbox"`
	Headless        bool     `yaml:"headless"`
	KioskPrinting   bool     `yaml:"kiosk_printing"`
	UserDataDir     string   `yaml:"user_data_dir"`
	PrintCommand    []string `yaml:"print_command"`
	Printer         string   `yaml:"printer"`
}

// DeliveryConfig configures how rendered tickets reach the user.
type DeliveryConfig struct {
	DownloadDir string        `yaml:"download_dir"`
	TempDir     string        `yaml:"temp_dir"`
	PrintGrace  time.Duration `yaml:"print_grace"`
	ViewTTL     time.Duration `yaml:"view_ttl"`
	Surface     SurfaceConfig `yaml:"surface"`
}

// Config is the full agent/CLI configuration.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Logger LoggerConfig `yaml:"logger"`

	Cache struct {
		RedisHost          string        `yaml:"redis_host"`
		RateLimitDB        int           `yaml:"redis_rate_db"`
		TicketCacheDB      int           `yaml:"redis_ticket_db"`
		TicketCacheEnabled bool          `yaml:"ticket_cache_enabled"`
		TicketCacheTTL     time.Duration `yaml:"ticket_cache_ttl"`
	} `yaml:"cache"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		UserLimit         int           `yaml:"user_limit"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
	} `yaml:"rate_limiter"`

	Auth struct {
		Enabled        bool           `yaml:"enabled"`
		ReloadInterval time.Duration  `yaml:"reload_interval"`
		Postgres       PostgresConfig `yaml:"postgres"`
	} `yaml:"auth"`

	Service  ServiceConfig  `yaml:"service"`
	Delivery DeliveryConfig `yaml:"delivery"`
}

const (
	DefaultPrintGrace = 250 * time.Millisecond
	DefaultViewTTL    = 10 * time.Minute
)

// Load reads the file named by CONFIG_PATH, or config.yaml when unset.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads and validates the YAML file at path. It panics on any
// unreadable or invalid configuration; there is nothing useful to run without one.
func LoadFrom(path string) Config {
	cfg, err := Read(path)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Read is LoadFrom for callers that report errors themselves.
func Read(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TICKET_SERVICE_TOKEN"); v != "" {
		cfg.Service.Token = v
	}
	if v := os.Getenv("TICKET_SERVICE_URL"); v != "" {
		cfg.Service.BaseURL = v
	}
	// Allow common container env var to override chrome_path.
	if cfg.Delivery.Surface.ChromePath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.Delivery.Surface.ChromePath = v
		}
	}
}

// ApplyDefaults fills zero values that have a sensible default. Exported for
// callers that build a Config in code (tests, the CLI).
func ApplyDefaults(cfg *Config) { applyDefaults(cfg) }

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8090"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Delivery.PrintGrace == 0 {
		cfg.Delivery.PrintGrace = DefaultPrintGrace
	}
	if cfg.Delivery.ViewTTL == 0 {
		cfg.Delivery.ViewTTL = DefaultViewTTL
	}
	if cfg.Delivery.DownloadDir == "" {
		cfg.Delivery.DownloadDir = "."
	}
	if cfg.Delivery.Surface.Kind == "" {
		cfg.Delivery.Surface.Kind = "system"
	}
	if len(cfg.Delivery.Surface.PrintCommand) == 0 {
		cfg.Delivery.Surface.PrintCommand = []string{"lp"}
	}
	if cfg.Cache.TicketCacheTTL == 0 {
		cfg.Cache.TicketCacheTTL = time.Hour
	}
	if cfg.RateLimiter.Interval == 0 {
		cfg.RateLimiter.Interval = time.Minute
	}
	if cfg.Auth.ReloadInterval == 0 {
		cfg.Auth.ReloadInterval = time.Minute
	}
}

// Validate reports the first invalid value in cfg.
func Validate(cfg Config) error {
	u, err := url.Parse(cfg.Service.BaseURL)
	if cfg.Service.BaseURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("service.base_url must be an absolute http(s) URL, got %q", cfg.Service.BaseURL)
	}
	if cfg.Service.Timeout < 0 {
		return fmt.Errorf("service.timeout must not be negative")
	}
	switch strings.ToLower(cfg.Delivery.Surface.Kind) {
	case "chrome", "system", "none":
	default:
		return fmt.Errorf("delivery.surface.kind must be chrome, system or none, got %q", cfg.Delivery.Surface.Kind)
	}
	if cfg.Delivery.PrintGrace < 0 {
		return fmt.Errorf("delivery.print_grace must not be negative")
	}
	if cfg.Delivery.ViewTTL < 0 {
		return fmt.Errorf("delivery.view_ttl must not be negative")
	}
	if cfg.RateLimiter.UserLimit < 0 {
		return fmt.Errorf("rate_limiter.user_limit must not be negative")
	}
	if cfg.RateLimiter.Interval <= 0 {
		return fmt.Errorf("rate_limiter.interval must be positive")
	}
	if cfg.Cache.TicketCacheEnabled && cfg.Cache.RedisHost == "" {
		return fmt.Errorf("cache.redis_host is required when the ticket cache is enabled")
	}
	if cfg.Auth.Enabled && cfg.Auth.Postgres.Host == "" {
		return fmt.Errorf("auth.postgres.host is required when auth is enabled")
	}
	return nil
}
