package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Database struct {
		Driver      string `mapstructure:"driver"`
		DSN         string `mapstructure:"dsn"`
		AutoMigrate bool   `mapstructure:"auto_migrate"`
	} `mapstructure:"database"`
	Auth struct {
		JWTSecret     string        `mapstructure:"jwt_secret"`
		Algorithm     string        `mapstructure:"algorithm"`
		TokenTTL      time.Duration `mapstructure:"token_ttl"`
		ThrottleRPS   float64       `mapstructure:"throttle_rps"`
		ThrottleBurst int           `mapstructure:"throttle_burst"`
	} `mapstructure:"auth"`
	Upstream struct {
		APIKey  string        `mapstructure:"api_key"`
		URL     string        `mapstructure:"url"`
		Model   string        `mapstructure:"model"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"upstream"`
	RateLimit struct {
		Window      time.Duration `mapstructure:"window"`
		MaxRequests int           `mapstructure:"max_requests"`
	} `mapstructure:"rate_limit"`
	Cache struct {
		TTL      time.Duration `mapstructure:"ttl"`
		Capacity int           `mapstructure:"capacity"`
	} `mapstructure:"cache"`
	Storage struct {
		Bucket    string `mapstructure:"bucket"`
		KeyPrefix string `mapstructure:"key_prefix"`
		Region    string `mapstructure:"region"`
		Endpoint  string `mapstructure:"endpoint"`
	} `mapstructure:"storage"`
	AWS struct {
		Profile string `mapstructure:"profile"`
	} `mapstructure:"aws"`
	Log struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`
	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"metrics"`
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	// a missing .env is fine; variables already present in the environment win
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CHATBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.BindEnv("upstream.api_key", "CHATBOT_UPSTREAM_API_KEY", "OPENROUTER_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind upstream api key: %w", err)
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8000")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/chatbot.db")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.algorithm", "HS256")
	v.SetDefault("auth.token_ttl", 30*time.Minute)
	v.SetDefault("auth.throttle_rps", 5.0)
	v.SetDefault("auth.throttle_burst", 10)

	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.url", "https://openrouter.ai/api/v1/chat/completions")
	v.SetDefault("upstream.model", "openai/gpt-3.5-turbo")
	v.SetDefault("upstream.timeout", 30*time.Second)

	v.SetDefault("rate_limit.window", 60*time.Second)
	v.SetDefault("rate_limit.max_requests", 10)

	v.SetDefault("cache.ttl", 300*time.Second)
	v.SetDefault("cache.capacity", 100)

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.key_prefix", "chat-exports")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate reports the first setting that prevents the service from starting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		return errors.New("upstream api key is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth jwt secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}
	if c.Upstream.Timeout <= 0 {
		return errors.New("upstream timeout must be positive")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
		return errors.New("rate limit window and max requests must be positive")
	}
	if c.Cache.TTL <= 0 || c.Cache.Capacity <= 0 {
		return errors.New("cache ttl and capacity must be positive")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}
