package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"dmeRoutePlanner/internal/credentials"
)

// Config holds all application configuration.
type Config struct {
	Env       string
	Store     StoreConfig
	GRPC      GRPCConfig
	Metrics   MetricsConfig
	Auth      AuthConfig
	Optimizer OptimizerConfig
	Recovery  RecoveryConfig
	Session   SessionConfig
}

// StoreConfig selects the backing table store.
type StoreConfig struct {
	Backend string // sqlite | xlsx | memory
	Path    string // SQLite database or workbook path
}

// GRPCConfig contains gRPC server settings.
type GRPCConfig struct {
	Address string // gRPC server listen address (e.g., ":50051")
}

// MetricsConfig contains the Prometheus/health HTTP listener; empty disables it.
type MetricsConfig struct {
	Address string
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	JWTSecret string // JWT signing secret
}

// OptimizerConfig configures the route optimizer and the order text parser.
type OptimizerConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	FallbackModel     string
	Timeout           time.Duration
	RequestsPerMinute int
	Temperature       float64
}

// RecoveryConfig selects where session snapshots live.
type RecoveryConfig struct {
	Backend   string // file | redis | none
	Dir       string
	RedisAddr string
	Freshness time.Duration
}

// SessionConfig holds the operating timezone.
type SessionConfig struct {
	Timezone string
}

// Location resolves the operating timezone.
func (s SessionConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || strings.EqualFold(s.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// Load reads configuration from the environment, an optional .env file and an
// optional config file (CONFIG_FILE, default ./config.yaml when present).
// Secrets go through the credential chain. JWT_SECRET is required.
func Load() (*Config, error) {
	cfg, err := load("")
	if err != nil {
		return nil, err
	}
	// Validate critical settings
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is not set; required for production")
	}
	return cfg, nil
}

// LoadWithDefaults is like Load but uses a safe default for JWT_SECRET in development.
// WARNING: Only use in development! Use Load() in production.
func LoadWithDefaults() (*Config, error) {
	return load("dev-secret-change-me")
}

func load(devSecret string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// Names kept from earlier deployments.
	_ = v.BindEnv("store.path", "STORE_PATH", "DB_PATH")
	_ = v.BindEnv("grpc.address", "GRPC_ADDRESS")

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configFile = "config.yaml"
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", configFile, err)
		}
	}

	secrets := credentials.Default(configFile)
	if devSecret != "" {
		secrets = credentials.NewChain(credentials.Env{}, &credentials.DotenvFile{Path: ".env"}, credentials.Static{"JWT_SECRET": devSecret})
	}

	cfg := &Config{
		Env: v.GetString("app.env"),
		Store: StoreConfig{
			Backend: strings.ToLower(v.GetString("store.backend")),
			Path:    v.GetString("store.path"),
		},
		GRPC:    GRPCConfig{Address: v.GetString("grpc.address")},
		Metrics: MetricsConfig{Address: v.GetString("metrics.address")},
		Auth:    AuthConfig{JWTSecret: secrets.Get("JWT_SECRET", "")},
		Optimizer: OptimizerConfig{
			APIKey:            secrets.Get("OPTIMIZER_API_KEY", secrets.Get("OPENAI_API_KEY", "")),
			BaseURL:           v.GetString("optimizer.base_url"),
			Model:             v.GetString("optimizer.model"),
			FallbackModel:     v.GetString("optimizer.fallback_model"),
			Timeout:           v.GetDuration("optimizer.timeout"),
			RequestsPerMinute: v.GetInt("optimizer.requests_per_minute"),
			Temperature:       v.GetFloat64("optimizer.temperature"),
		},
		Recovery: RecoveryConfig{
			Backend:   strings.ToLower(v.GetString("recovery.backend")),
			Dir:       v.GetString("recovery.dir"),
			RedisAddr: v.GetString("recovery.redis_addr"),
			Freshness: v.GetDuration("recovery.freshness"),
		},
		Session: SessionConfig{Timezone: v.GetString("session.timezone")},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.path", "app.db")
	v.SetDefault("grpc.address", ":50051")
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("optimizer.model", "gpt-4o-mini")
	v.SetDefault("optimizer.fallback_model", "")
	v.SetDefault("optimizer.base_url", "")
	v.SetDefault("optimizer.timeout", "90s")
	v.SetDefault("optimizer.requests_per_minute", 10)
	v.SetDefault("optimizer.temperature", 0.2)
	v.SetDefault("recovery.backend", "file")
	v.SetDefault("recovery.dir", ".recovery")
	v.SetDefault("recovery.redis_addr", "localhost:6379")
	v.SetDefault("recovery.freshness", "8h")
	v.SetDefault("session.timezone", "America/Los_Angeles")
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "sqlite", "xlsx":
		if c.Store.Path == "" {
			return fmt.Errorf("STORE_PATH is required for the %s store", c.Store.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (sqlite, xlsx or memory)", c.Store.Backend)
	}
	switch c.Recovery.Backend {
	case "file", "redis", "none":
	default:
		return fmt.Errorf("unknown RECOVERY_BACKEND %q (file, redis or none)", c.Recovery.Backend)
	}
	if c.Optimizer.Timeout <= 0 {
		return fmt.Errorf("OPTIMIZER_TIMEOUT must be positive")
	}
	if _, err := c.Session.Location(); err != nil {
		return fmt.Errorf("SESSION_TIMEZONE: %w", err)
	}
	return nil
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Store: %s %s, gRPC: %s, Metrics: %s, Optimizer: %s (fallback %q, timeout %s, key %s), Recovery: %s, TZ: %s, Auth: *** (masked) ***}",
		c.Env, c.Store.Backend, c.Store.Path, c.GRPC.Address, c.Metrics.Address,
		c.Optimizer.Model, c.Optimizer.FallbackModel, c.Optimizer.Timeout, mask(c.Optimizer.APIKey),
		c.Recovery.Backend, c.Session.Timezone)
}

func mask(s string) string {
	if s == "" {
		return "unset"
	}
	return "***"
}
