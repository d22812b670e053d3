package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Email      EmailConfig      `yaml:"email"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Stream     StreamConfig     `yaml:"stream"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Cache      CacheConfig      `yaml:"cache"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	// AllowedOrigins is echoed back in Access-Control-Allow-Origin for
	// browsers opening the event stream cross-origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	// Driver is either "postgres" or "sqlite".
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// AuthConfig holds the session token verification settings.
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	CookieName string `yaml:"cookie_name"`
}

// EmailConfig holds the outbound email settings.
type EmailConfig struct {
	// APIKey for Resend. When empty, emails are logged instead of sent.
	APIKey          string  `yaml:"api_key"`
	From            string  `yaml:"from"`
	Timezone        string  `yaml:"timezone"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// StreamConfig bounds the push connection registry.
type StreamConfig struct {
	BufferSize            int `yaml:"buffer_size"`
	KeepAliveSeconds      int `yaml:"keep_alive_seconds"`
	IdleTimeoutSeconds    int `yaml:"idle_timeout_seconds"`
	MaxConnections        int `yaml:"max_connections"`
	MaxConnectionsPerUser int `yaml:"max_connections_per_user"`

	KeepAlive   time.Duration `yaml:"-"`
	IdleTimeout time.Duration `yaml:"-"`
}

// TrackerConfig controls the background loop that publishes time-derived
// status changes.
type TrackerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// CacheConfig holds the in-memory cache settings.
type CacheConfig struct {
	FlightTTLSeconds int `yaml:"flight_ttl_seconds"`
}

// FlightTTL is the lifetime of a cached flight lookup.
func (c CacheConfig) FlightTTL() time.Duration {
	return time.Duration(c.FlightTTLSeconds) * time.Second
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets deployment secrets override the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SUPABASE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Email.APIKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.PrivateKey = v
	}
}

func applyDefaults(cfg *Config) error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 10
	}

	switch cfg.Database.Driver {
	case "":
		cfg.Database.Driver = "postgres"
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "sb-access-token"
	}

	if cfg.Email.From == "" {
		cfg.Email.From = "Flight Updates <flights@notifications.example.com>"
	}
	if cfg.Email.Timezone == "" {
		cfg.Email.Timezone = "Asia/Kolkata"
	}
	if cfg.Email.TimeoutSeconds <= 0 {
		cfg.Email.TimeoutSeconds = 10
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Stream.BufferSize <= 0 {
		cfg.Stream.BufferSize = 32
	}
	if cfg.Stream.KeepAliveSeconds <= 0 {
		cfg.Stream.KeepAliveSeconds = 15
	}
	cfg.Stream.KeepAlive = time.Duration(cfg.Stream.KeepAliveSeconds) * time.Second
	if cfg.Stream.IdleTimeoutSeconds > 0 {
		cfg.Stream.IdleTimeout = time.Duration(cfg.Stream.IdleTimeoutSeconds) * time.Second
	}

	if cfg.Tracker.IntervalSeconds <= 0 {
		cfg.Tracker.IntervalSeconds = 60
	}
	cfg.Tracker.Interval = time.Duration(cfg.Tracker.IntervalSeconds) * time.Second

	return nil
}
