package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Escrow    EscrowConfig    `mapstructure:"escrow"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AuthConfig controls Nostr request authentication.
type AuthConfig struct {
	// TimestampTolerance is the maximum |now - created_at| accepted on a
	// signed auth event.
	TimestampTolerance time.Duration `mapstructure:"timestamp_tolerance"`
	// ValidatorPubkeys lists the hex pubkeys allowed to validate payment
	// proofs. Empty list disables validation entirely; it never means
	// "anyone may validate".
	ValidatorPubkeys []string `mapstructure:"validator_pubkeys"`
}

// EscrowConfig holds the fee split applied on escrow release.
type EscrowConfig struct {
	ProviderFee decimal.Decimal `mapstructure:"-"`
	PlatformFee decimal.Decimal `mapstructure:"-"`

	// Raw string forms, parsed into the decimals above by Load.
	ProviderFeeStr string `mapstructure:"provider_fee"`
	PlatformFeeStr string `mapstructure:"platform_fee"`
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	OrderTTL time.Duration `mapstructure:"order_ttl"`
}

type RateLimitConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	GlobalLimit  int64         `mapstructure:"global_limit"`
	GlobalWindow time.Duration `mapstructure:"global_window"`
	CreateLimit  int64         `mapstructure:"create_limit"`
	CreateWindow time.Duration `mapstructure:"create_window"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // empty = allow all
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: NEG_ (Nostr Escrow
// Gateway). Nested keys use underscore: NEG_DATABASE_HOST, NEG_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3002)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "escrow_gateway")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.timestamp_tolerance", "300s")
	v.SetDefault("auth.validator_pubkeys", []string{})
	v.SetDefault("escrow.provider_fee", "0.03")
	v.SetDefault("escrow.platform_fee", "0.02")
	v.SetDefault("sweeper.interval", "5m")
	v.SetDefault("sweeper.order_ttl", "24h")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.global_limit", 200)
	v.SetDefault("ratelimit.global_window", "15m")
	v.SetDefault("ratelimit.create_limit", 5)
	v.SetDefault("ratelimit.create_window", "1m")
	v.SetDefault("cors.allowed_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: NEG_DATABASE_HOST -> database.host
	v.SetEnvPrefix("NEG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	var err error
	if cfg.Escrow.ProviderFee, err = decimal.NewFromString(cfg.Escrow.ProviderFeeStr); err != nil {
		return nil, fmt.Errorf("parsing escrow.provider_fee: %w", err)
	}
	if cfg.Escrow.PlatformFee, err = decimal.NewFromString(cfg.Escrow.PlatformFeeStr); err != nil {
		return nil, fmt.Errorf("parsing escrow.platform_fee: %w", err)
	}

	// Validator pubkeys are compared case-insensitively against verified
	// identities; normalize once here.
	for i, pk := range cfg.Auth.ValidatorPubkeys {
		cfg.Auth.ValidatorPubkeys[i] = strings.ToLower(strings.TrimSpace(pk))
	}

	return &cfg, nil
}
