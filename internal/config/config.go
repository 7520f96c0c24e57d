// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	Match      MatchConfig      `mapstructure:"match"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Locks      LocksConfig      `mapstructure:"locks"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	TxRetries       int           `mapstructure:"tx_retries"`
}

// StorageConfig selects the backing store for the ledger.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// RedisConfig holds the idempotency cache connection. An empty Addr disables it.
type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// NATSConfig holds the ledger event stream connection. An empty URL disables it.
type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Stream string `mapstructure:"stream"`
}

// TelegramConfig holds admin alert settings. An empty Token disables it.
type TelegramConfig struct {
	Token        string  `mapstructure:"token"`
	AdminChatIDs []int64 `mapstructure:"admin_chat_ids"`
}

// WalletConfig holds recharge and withdrawal policy.
type WalletConfig struct {
	MinRecharge   decimal.Decimal `mapstructure:"-"`
	MinWithdrawal decimal.Decimal `mapstructure:"-"`
	HistoryLimit  int             `mapstructure:"history_limit"`
}

// MatchConfig holds registration policy.
type MatchConfig struct {
	LeadWindow     time.Duration `mapstructure:"lead_window"`
	SoloCapacity   int           `mapstructure:"solo_capacity"`
	TeamCapacity   int           `mapstructure:"team_capacity"`
	TeamSlotOffset int           `mapstructure:"team_slot_offset"`
}

// SettlementConfig holds payout policy.
type SettlementConfig struct {
	EnforcePrizePool bool `mapstructure:"enforce_prize_pool"`
}

// LocksConfig holds in-process lock settings.
type LocksConfig struct {
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslMode,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, AUTH_JWT_SECRET, MATCH_LEAD_WINDOW
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Money thresholds are read as strings so they never pass through float64.
	minRecharge, err := decimal.NewFromString(v.GetString("wallet.min_recharge"))
	if err != nil {
		return nil, fmt.Errorf("invalid wallet.min_recharge: %w", err)
	}
	minWithdrawal, err := decimal.NewFromString(v.GetString("wallet.min_withdrawal"))
	if err != nil {
		return nil, fmt.Errorf("invalid wallet.min_withdrawal: %w", err)
	}
	cfg.Wallet.MinRecharge = minRecharge
	cfg.Wallet.MinWithdrawal = minWithdrawal

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings that have no safe fallback.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Match.SoloCapacity <= 0 || c.Match.TeamCapacity <= 0 {
		return fmt.Errorf("match capacities must be positive")
	}
	if c.Match.LeadWindow < 0 {
		return fmt.Errorf("match.lead_window must not be negative")
	}
	if c.Wallet.MinRecharge.IsNegative() || c.Wallet.MinWithdrawal.IsNegative() {
		return fmt.Errorf("wallet minimums must not be negative")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tournament")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "tournament")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.tx_retries", 3)

	v.SetDefault("storage.driver", DriverPostgres)

	// Keys without a default are invisible to Unmarshal under AutomaticEnv.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "tournament-identity")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.idempotency_ttl", "24h")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.stream", "TOURNAMENT_LEDGER")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_chat_ids", []int64{})

	v.SetDefault("wallet.min_recharge", "10")
	v.SetDefault("wallet.min_withdrawal", "50")
	v.SetDefault("wallet.history_limit", 100)

	v.SetDefault("match.lead_window", "15m")
	v.SetDefault("match.solo_capacity", 80)
	v.SetDefault("match.team_capacity", 20)
	v.SetDefault("match.team_slot_offset", 0)

	v.SetDefault("settlement.enforce_prize_pool", false)

	v.SetDefault("locks.acquire_timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
