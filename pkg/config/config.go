package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Quotes   QuotesConfig   `mapstructure:"quotes"`
	Limiter  LimiterConfig  `mapstructure:"limiter"`
	Stream   StreamConfig   `mapstructure:"stream"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type QuotesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SymbolSuffix   string        `mapstructure:"symbol_suffix"` // e.g., ".NS" for NSE listings
	MaxInFlight    int           `mapstructure:"max_in_flight"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

type LimiterConfig struct {
	Key        string  `mapstructure:"key"`
	MaxTokens  float64 `mapstructure:"max_tokens"`
	RefillRate float64 `mapstructure:"refill_rate"` // tokens per second
}

type StreamConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment first so flat vars like
	// APP_PORT are visible to viper's AutomaticEnv pass.
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.db_name", "finwatch")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("quotes.base_url", "http://localhost:9090")
	v.SetDefault("quotes.symbol_suffix", "")
	v.SetDefault("quotes.max_in_flight", 5)
	v.SetDefault("quotes.request_timeout", 10*time.Second)
	v.SetDefault("quotes.cache_ttl", 5*time.Second)
	v.SetDefault("quotes.acquire_timeout", 10*time.Second)

	v.SetDefault("limiter.key", "ratelimit:quotes")
	v.SetDefault("limiter.max_tokens", 8.0)
	v.SetDefault("limiter.refill_rate", 1.0)

	v.SetDefault("stream.poll_interval", 5*time.Second)
	v.SetDefault("stream.idle_timeout", 60*time.Second)
	v.SetDefault("stream.token_ttl", 60*time.Second)

	// Maps dot-notation keys to underscore env vars (app.port -> APP_PORT)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.db_name", "postgres.sslmode")
	bindEnv(v, "quotes.base_url", "quotes.symbol_suffix", "quotes.max_in_flight", "quotes.request_timeout", "quotes.cache_ttl", "quotes.acquire_timeout")
	bindEnv(v, "limiter.key", "limiter.max_tokens", "limiter.refill_rate")
	bindEnv(v, "stream.poll_interval", "stream.idle_timeout", "stream.token_ttl")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if cfg.Limiter.MaxTokens <= 0 || cfg.Limiter.RefillRate <= 0 {
		return nil, fmt.Errorf("limiter max_tokens and refill_rate must be positive")
	}
	if cfg.Stream.PollInterval <= 0 {
		return nil, fmt.Errorf("stream poll_interval must be positive")
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
