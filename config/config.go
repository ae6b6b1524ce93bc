package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerConfig         ServerConfig         `json:"server"`
	DatabaseConfig       DatabaseConfig       `json:"database"`
	RedisConfig          RedisConfig          `json:"redis"`
	VaultConfig          VaultConfig          `json:"vault"`
	LoggingConfig        LoggingConfig        `json:"logging"`
	CommissionConfig     CommissionConfig     `json:"commission"`
	WithdrawalConfig     WithdrawalConfig     `json:"withdrawal"`
	ReconciliationConfig ReconciliationConfig `json:"reconciliation"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // seconds
	WriteTimeout    int    `json:"write_timeout"`    // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
	ProductionMode  bool   `json:"production_mode"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the deposit-event dedup cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration. When enabled, database
// credentials are read from Vault instead of the environment.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // stdout, stderr
	JSONFormat bool   `json:"json_format"` // console writer when false
}

// CommissionConfig holds fallback commission defaults used when a principal
// carries no explicit rule and no tier config row exists.
type CommissionConfig struct {
	DefaultAffiliateRate    float64 `json:"default_affiliate_rate"`  // percentage
	DefaultAffiliateFixed   float64 `json:"default_affiliate_fixed"` // BRL per deposit
	DefaultPartnerRate      float64 `json:"default_partner_rate"`    // percentage
	DefaultPartnerFixed     float64 `json:"default_partner_fixed"`   // BRL per deposit
	DedupTTLHours           int     `json:"dedup_ttl_hours"`         // Redis dedup marker TTL
	CreditRetryAttempts     int     `json:"credit_retry_attempts"`   // wallet credit retries after ledger write
	CreditRetryBackoffMs    int     `json:"credit_retry_backoff_ms"`
	RegistrationConversions bool    `json:"registration_conversions"` // record zero-value registration rows
}

// WithdrawalConfig holds payout request limits
type WithdrawalConfig struct {
	MinAmount float64 `json:"min_amount"` // BRL
	MaxAmount float64 `json:"max_amount"` // BRL, 0 = no cap
}

// ReconciliationConfig holds the periodic wallet reconciliation job settings
type ReconciliationConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"interval_minutes"`
	BatchSize       int  `json:"batch_size"`
}

// Load builds the configuration in three layers: built-in defaults, then
// config.json where present, then environment variables on top.
func Load() (*Config, error) {
	cfg := defaultConfig()

	// config.json overrides only the fields it sets
	if data, err := os.ReadFile("config.json"); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// defaultConfig returns the built-in defaults used when neither the config
// file nor the environment sets a field
func defaultConfig() *Config {
	return &Config{
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "raspadinha",
			Database: "raspadinha",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "raspadinha/database",
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: true,
		},
		CommissionConfig: CommissionConfig{
			DefaultAffiliateRate:    40.0,
			DefaultAffiliateFixed:   6.0,
			DefaultPartnerRate:      5.0,
			DefaultPartnerFixed:     3.0,
			DedupTTLHours:           48,
			CreditRetryAttempts:     3,
			CreditRetryBackoffMs:    250,
			RegistrationConversions: true,
		},
		WithdrawalConfig: WithdrawalConfig{
			MinAmount: 10.0,
			MaxAmount: 0,
		},
		ReconciliationConfig: ReconciliationConfig{
			Enabled:         true,
			IntervalMinutes: 60,
			BatchSize:       500,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// Unset variables keep whatever the file or the defaults provided.
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", cfg.ServerConfig.ReadTimeout)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", cfg.ServerConfig.WriteTimeout)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.ServerConfig.ShutdownTimeout)
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("PRODUCTION_MODE", cfg.ServerConfig.ProductionMode)

	// Database config - credentials may be replaced from Vault at startup
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.RedisConfig.PoolSize)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)

	// Commission config
	cfg.CommissionConfig.DefaultAffiliateRate = getEnvFloatOrDefault("COMMISSION_DEFAULT_AFFILIATE_RATE", cfg.CommissionConfig.DefaultAffiliateRate)
	cfg.CommissionConfig.DefaultAffiliateFixed = getEnvFloatOrDefault("COMMISSION_DEFAULT_AFFILIATE_FIXED", cfg.CommissionConfig.DefaultAffiliateFixed)
	cfg.CommissionConfig.DefaultPartnerRate = getEnvFloatOrDefault("COMMISSION_DEFAULT_PARTNER_RATE", cfg.CommissionConfig.DefaultPartnerRate)
	cfg.CommissionConfig.DefaultPartnerFixed = getEnvFloatOrDefault("COMMISSION_DEFAULT_PARTNER_FIXED", cfg.CommissionConfig.DefaultPartnerFixed)
	cfg.CommissionConfig.DedupTTLHours = getEnvIntOrDefault("COMMISSION_DEDUP_TTL_HOURS", cfg.CommissionConfig.DedupTTLHours)
	cfg.CommissionConfig.CreditRetryAttempts = getEnvIntOrDefault("COMMISSION_CREDIT_RETRY_ATTEMPTS", cfg.CommissionConfig.CreditRetryAttempts)
	cfg.CommissionConfig.CreditRetryBackoffMs = getEnvIntOrDefault("COMMISSION_CREDIT_RETRY_BACKOFF_MS", cfg.CommissionConfig.CreditRetryBackoffMs)
	cfg.CommissionConfig.RegistrationConversions = getEnvBoolOrDefault("COMMISSION_REGISTRATION_CONVERSIONS", cfg.CommissionConfig.RegistrationConversions)

	// Withdrawal config
	cfg.WithdrawalConfig.MinAmount = getEnvFloatOrDefault("WITHDRAWAL_MIN_AMOUNT", cfg.WithdrawalConfig.MinAmount)
	cfg.WithdrawalConfig.MaxAmount = getEnvFloatOrDefault("WITHDRAWAL_MAX_AMOUNT", cfg.WithdrawalConfig.MaxAmount)

	// Reconciliation config
	cfg.ReconciliationConfig.Enabled = getEnvBoolOrDefault("RECONCILIATION_ENABLED", cfg.ReconciliationConfig.Enabled)
	cfg.ReconciliationConfig.IntervalMinutes = getEnvIntOrDefault("RECONCILIATION_INTERVAL_MINUTES", cfg.ReconciliationConfig.IntervalMinutes)
	cfg.ReconciliationConfig.BatchSize = getEnvIntOrDefault("RECONCILIATION_BATCH_SIZE", cfg.ReconciliationConfig.BatchSize)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true"
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// ShutdownTimeoutDuration returns the shutdown timeout as a time.Duration
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// Interval returns the reconciliation interval as a time.Duration
func (r ReconciliationConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMinutes) * time.Minute
}
