package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SMARTTODOS"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Timer    TimerConfig    `mapstructure:"timer"`
	Client   ClientConfig   `mapstructure:"client"`
}

type ServerConfig struct {
	Port              string `mapstructure:"port"`
	SettingsCacheSize int    `mapstructure:"settings_cache_size"`
}

type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RedisConfig configures the shared snapshot store. Redis is optional; the
// timer falls back to a snapshot file when it is disabled.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type TimerConfig struct {
	StateDir        string        `mapstructure:"state_dir"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	PersistTimeout  time.Duration `mapstructure:"persist_timeout"`
	RetryInitial    time.Duration `mapstructure:"retry_initial"`
	RetryMax        time.Duration `mapstructure:"retry_max"`
	RetryMaxElapsed time.Duration `mapstructure:"retry_max_elapsed"`
}

// ClientConfig is used by the timer command to reach the session API.
type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from the optional file at configPath and from
// SMARTTODOS_* environment variables, e.g. SMARTTODOS_SERVER_PORT.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.settings_cache_size", 1024)

	v.SetDefault("database.path", "./data/smarttodos.db")
	v.SetDefault("database.migrations_dir", "./migrations")

	v.SetDefault("auth.jwt_secret", "change-this-secret")
	v.SetDefault("auth.token_ttl", "72h")

	v.SetDefault("cors.origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("timer.state_dir", "./data/timer")
	v.SetDefault("timer.tick_interval", "1s")
	v.SetDefault("timer.persist_timeout", "10s")
	v.SetDefault("timer.retry_initial", "500ms")
	v.SetDefault("timer.retry_max", "30s")
	v.SetDefault("timer.retry_max_elapsed", "0s")

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.token", "")
	v.SetDefault("client.timeout", "10s")
}

func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if cfg.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if cfg.Server.SettingsCacheSize <= 0 {
		return errors.New("server.settings_cache_size must be positive")
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format)
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	if cfg.Timer.TickInterval <= 0 {
		return errors.New("timer.tick_interval must be positive")
	}
	if cfg.Timer.RetryMaxElapsed < 0 {
		return errors.New("timer.retry_max_elapsed must not be negative")
	}
	return nil
}
