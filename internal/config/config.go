package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Paystack    PaystackConfig
	Flutterwave FlutterwaveConfig
	Monnify     MonnifyConfig
	Secrets     SecretsConfig
	Marketplace MarketplaceConfig
	Ledger      LedgerConfig
	Logger      LoggerConfig
}

// MarketplaceConfig holds the internal API the order and cart
// collaborators are reached through
type MarketplaceConfig struct {
	BaseURL  string
	APIToken string
	Timeout  int // seconds
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
	AdminSecret string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// RedisConfig holds the OTP store connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PaystackConfig holds Paystack gateway credentials
type PaystackConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   int // seconds
}

// FlutterwaveConfig holds Flutterwave gateway credentials
type FlutterwaveConfig struct {
	BaseURL     string
	SecretKey   string
	WebhookHash string
	RedirectURL string
	Timeout     int
}

// MonnifyConfig holds Monnify gateway credentials
type MonnifyConfig struct {
	BaseURL      string
	APIKey       string
	SecretKey    string
	ContractCode string
	RedirectURL  string
	Timeout      int
}

// SecretsConfig selects the secret backend. When Backend is set the
// gateway keys above are treated as secret paths and resolved at boot.
type SecretsConfig struct {
	Backend   string // "", "local", "aws", "vault"
	LocalDir  string
	AWSRegion string
	VaultAddr string
}

// LedgerConfig holds the marketplace money parameters
type LedgerConfig struct {
	CommissionRate decimal.Decimal // fraction of gross kept per order, e.g. 0.15
	WithdrawalFee  decimal.Decimal // flat NGN fee per payout
	OTPTTLSeconds  int
	OTPMaxAttempts int
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	commissionRate, err := getEnvAsDecimal("COMMISSION_RATE", "0.15")
	if err != nil {
		return nil, fmt.Errorf("COMMISSION_RATE: %w", err)
	}
	withdrawalFee, err := getEnvAsDecimal("WITHDRAWAL_FEE", "50")
	if err != nil {
		return nil, fmt.Errorf("WITHDRAWAL_FEE: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort: getEnvAsInt("METRICS_PORT", 9090),
			AdminSecret: getEnv("ADMIN_API_SECRET", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "payment_service"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Paystack: PaystackConfig{
			BaseURL:   getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			SecretKey: getEnv("PAYSTACK_SECRET_KEY", ""),
			Timeout:   getEnvAsInt("PAYSTACK_TIMEOUT", 30),
		},
		Flutterwave: FlutterwaveConfig{
			BaseURL:     getEnv("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com/v3"),
			SecretKey:   getEnv("FLUTTERWAVE_SECRET_KEY", ""),
			WebhookHash: getEnv("FLUTTERWAVE_WEBHOOK_HASH", ""),
			RedirectURL: getEnv("FLUTTERWAVE_REDIRECT_URL", ""),
			Timeout:     getEnvAsInt("FLUTTERWAVE_TIMEOUT", 30),
		},
		Monnify: MonnifyConfig{
			BaseURL:      getEnv("MONNIFY_BASE_URL", "https://api.monnify.com"),
			APIKey:       getEnv("MONNIFY_API_KEY", ""),
			SecretKey:    getEnv("MONNIFY_SECRET_KEY", ""),
			ContractCode: getEnv("MONNIFY_CONTRACT_CODE", ""),
			RedirectURL:  getEnv("MONNIFY_REDIRECT_URL", ""),
			Timeout:      getEnvAsInt("MONNIFY_TIMEOUT", 30),
		},
		Secrets: SecretsConfig{
			Backend:   getEnv("SECRETS_BACKEND", ""),
			LocalDir:  getEnv("SECRETS_LOCAL_DIR", "/etc/payment-service/secrets"),
			AWSRegion: getEnv("AWS_REGION", "eu-west-1"),
			VaultAddr: getEnv("VAULT_ADDR", ""),
		},
		Marketplace: MarketplaceConfig{
			BaseURL:  getEnv("MARKETPLACE_BASE_URL", "http://marketplace-core.internal:8080"),
			APIToken: getEnv("MARKETPLACE_API_TOKEN", ""),
			Timeout:  getEnvAsInt("MARKETPLACE_TIMEOUT", 10),
		},
		Ledger: LedgerConfig{
			CommissionRate: commissionRate,
			WithdrawalFee:  withdrawalFee,
			OTPTTLSeconds:  getEnvAsInt("OTP_TTL_SECONDS", 600),
			OTPMaxAttempts: getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Validate required fields
	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Ledger.CommissionRate.IsNegative() || cfg.Ledger.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("COMMISSION_RATE must be in [0, 1)")
	}
	if cfg.Ledger.WithdrawalFee.IsNegative() {
		return nil, fmt.Errorf("WITHDRAWAL_FEE must not be negative")
	}

	return cfg, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	return decimal.NewFromString(valueStr)
}
