package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Crypto   CryptoConfig   `mapstructure:"crypto"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
	// InternalToken guards the fee and refund routes; empty leaves them unmounted.
	InternalToken   string        `mapstructure:"internal_token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"` // empty disables CORS
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
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// MigrateURL returns the connection string in the form golang-migrate's pgx5 driver expects.
func (d DatabaseConfig) MigrateURL() string {
	return "pgx5" + strings.TrimPrefix(d.DSN(), "postgres")
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

type RedisConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	Enabled         bool          `mapstructure:"enabled"`
	ConfirmCacheTTL time.Duration `mapstructure:"confirm_cache_ttl"`
	IdempotencyTTL  time.Duration `mapstructure:"idempotency_ttl"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// WalletConfig carries ledger policy. Amounts are in minor currency units.
type WalletConfig struct {
	Currency          string   `mapstructure:"currency"`
	MinWithdrawal     int64    `mapstructure:"min_withdrawal"`
	MaxWithdrawal     int64    `mapstructure:"max_withdrawal"`
	WithdrawalMethods []string `mapstructure:"withdrawal_methods"`
	PlatformAccountID string   `mapstructure:"platform_account_id"`
	MaxPageSize       int      `mapstructure:"max_page_size"`
}

type PaymentConfig struct {
	Provider      string `mapstructure:"provider"` // stripe
	SecretKey     string `mapstructure:"secret_key"`
	APIURL        string `mapstructure:"api_url"` // override for stripe-mock or tests
	WebhookSecret string `mapstructure:"webhook_secret"`
	Currency      string `mapstructure:"currency"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type CryptoConfig struct {
	DetailsKey string `mapstructure:"details_key"` // hex-encoded master key for payout details
}

type SweepConfig struct {
	OlderThan time.Duration `mapstructure:"older_than"`
	BatchSize int           `mapstructure:"batch_size"`
	Interval  time.Duration `mapstructure:"interval"` // zero runs a single pass
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Validate rejects configurations the ledger cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver))
	}
	if len(c.Wallet.Currency) != 3 {
		errs = append(errs, fmt.Errorf("wallet.currency must be a 3-letter code, got %q", c.Wallet.Currency))
	}
	if c.Wallet.MinWithdrawal <= 0 {
		errs = append(errs, errors.New("wallet.min_withdrawal must be positive"))
	}
	if c.Wallet.MinWithdrawal > c.Wallet.MaxWithdrawal {
		errs = append(errs, fmt.Errorf("wallet.min_withdrawal (%d) exceeds wallet.max_withdrawal (%d)",
			c.Wallet.MinWithdrawal, c.Wallet.MaxWithdrawal))
	}
	if len(c.Wallet.WithdrawalMethods) == 0 {
		errs = append(errs, errors.New("wallet.withdrawal_methods must not be empty"))
	}
	if c.Wallet.MaxPageSize <= 0 {
		errs = append(errs, errors.New("wallet.max_page_size must be positive"))
	}
	if c.Sweep.BatchSize <= 0 {
		errs = append(errs, errors.New("sweep.batch_size must be positive"))
	}

	return errors.Join(errs...)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SWL_ (Social Wallet Ledger).
// Nested keys use underscore: SWL_DATABASE_HOST, SWL_PAYMENT_SECRET_KEY, etc.
func Load(path string) (*Config, error) {
	// A local .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.internal_token", "")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "social_wallet")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.confirm_cache_ttl", "24h")
	v.SetDefault("redis.idempotency_ttl", "24h")
	v.SetDefault("wallet.currency", "USD")
	v.SetDefault("wallet.min_withdrawal", 100)
	v.SetDefault("wallet.max_withdrawal", 1000000)
	v.SetDefault("wallet.withdrawal_methods", []string{"bank_transfer", "paypal", "card"})
	v.SetDefault("wallet.platform_account_id", "00000000-0000-0000-0000-000000000001")
	v.SetDefault("wallet.max_page_size", 100)
	v.SetDefault("payment.provider", "stripe")
	v.SetDefault("payment.secret_key", "")
	v.SetDefault("payment.api_url", "")
	v.SetDefault("payment.webhook_secret", "")
	v.SetDefault("payment.currency", "usd")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "social-wallet")
	v.SetDefault("crypto.details_key", "")
	v.SetDefault("sweep.older_than", "15m")
	v.SetDefault("sweep.batch_size", 50)
	v.SetDefault("sweep.interval", "0s")
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

	// Environment variables: SWL_DATABASE_HOST -> database.host
	v.SetEnvPrefix("SWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
