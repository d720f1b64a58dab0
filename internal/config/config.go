package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"kudi/internal/logger"
	"kudi/internal/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	App      *AppConfig
	DB       *DBConfig
	Redis    *RedisConfig
	Auth     *AuthConfig
	Paystack *PaystackConfig
	Wallet   *WalletConfig
	Worker   *WorkerConfig
}

type AppConfig struct {
	Name        string
	Env         string
	Port        string
	LogLevel    string
	CORSOrigins string
}

type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN builds the libpq keyword/value connection string.
func (c *DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type PaystackConfig struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	Timeout     time.Duration
}

type WalletConfig struct {
	MinFunding    decimal.Decimal
	MaxFunding    decimal.Decimal
	MinWithdrawal decimal.Decimal
	FeeTiers      models.FeeSchedule
	FundingTTL    time.Duration
}

type WorkerConfig struct {
	Enabled         bool
	Stream          string
	Group           string
	Consumers       int
	SweepInterval   time.Duration
	ProcessingGrace time.Duration
}

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Infof("no .env file found: %v", err)
	}
}

// Load reads the whole configuration. Invalid fee tiers fail the load rather
// than silently falling back.
func Load() (*Config, error) {
	LoadEnv()

	wallet, err := LoadWalletConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		App:      LoadAppConfig(),
		DB:       LoadDBConfig(),
		Redis:    LoadRedisConfig(),
		Auth:     &AuthConfig{JWTSecret: GetEnv("JWT_SECRET", "kudi")},
		Paystack: LoadPaystackConfig(),
		Wallet:   wallet,
		Worker:   LoadWorkerConfig(),
	}, nil
}

func LoadAppConfig() *AppConfig {
	return &AppConfig{
		Name:        GetEnv("APP_NAME", "kudi"),
		Env:         GetEnv("ENV", "development"),
		Port:        GetEnv("PORT", "3000"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		CORSOrigins: GetEnv("CORS_ORIGINS", "http://localhost:5173"),
	}
}

func LoadDBConfig() *DBConfig {
	return &DBConfig{
		Host:            GetEnv("DB_HOST", "localhost"),
		Port:            GetEnv("DB_PORT", "5432"),
		User:            GetEnv("DB_USER", "postgres"),
		Password:        GetEnv("DB_PASSWORD", "postgres"),
		Name:            GetEnv("DB_NAME", "kudi"),
		SSLMode:         GetEnv("DB_SSL_MODE", "disable"),
		MaxIdleConns:    GetIntEnv("DB_MAX_IDLE_CONNS", 10),
		MaxOpenConns:    GetIntEnv("DB_MAX_OPEN_CONNS", 100),
		ConnMaxLifetime: GetDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: GetDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
	}
}

func LoadRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:     GetEnv("REDIS_HOST", "localhost"),
		Port:     GetEnv("REDIS_PORT", "6379"),
		Password: GetEnv("REDIS_PASSWORD", ""),
		DB:       GetIntEnv("REDIS_DB", 0),
		CacheTTL: GetDurationEnv("REDIS_CACHE_TTL", 5*time.Minute),
	}
}

func LoadPaystackConfig() *PaystackConfig {
	return &PaystackConfig{
		BaseURL:     GetEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		SecretKey:   GetEnv("PAYSTACK_SECRET_KEY", ""),
		CallbackURL: GetEnv("PAYSTACK_CALLBACK_URL", ""),
		Timeout:     GetDurationEnv("PAYSTACK_TIMEOUT", 30*time.Second),
	}
}

func LoadWalletConfig() (*WalletConfig, error) {
	tiers := models.DefaultWithdrawalFees
	if raw := GetEnv("WITHDRAWAL_FEE_TIERS", ""); raw != "" {
		parsed, err := ParseFeeTiers(raw)
		if err != nil {
			return nil, err
		}
		tiers = parsed
	}
	return &WalletConfig{
		MinFunding:    GetDecimalEnv("MIN_FUNDING_AMOUNT", decimal.NewFromInt(100)),
		MaxFunding:    GetDecimalEnv("MAX_FUNDING_AMOUNT", decimal.NewFromInt(1000000)),
		MinWithdrawal: GetDecimalEnv("MIN_WITHDRAWAL_AMOUNT", decimal.NewFromInt(1000)),
		FeeTiers:      tiers,
		FundingTTL:    GetDurationEnv("FUNDING_INTENT_TTL", 24*time.Hour),
	}, nil
}

func LoadWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Enabled:         GetEnv("WORKER_ENABLED", "true") == "true",
		Stream:          GetEnv("WITHDRAWAL_STREAM", "stream:withdrawals"),
		Group:           GetEnv("WITHDRAWAL_GROUP", "withdrawal_cg"),
		Consumers:       GetIntEnv("WORKER_COUNT", 2),
		SweepInterval:   GetDurationEnv("SWEEP_INTERVAL", time.Minute),
		ProcessingGrace: GetDurationEnv("PROCESSING_GRACE", 15*time.Minute),
	}
}

// ParseFeeTiers reads "upTo:fee,upTo:fee,0:fee" where the trailing 0 band is open-ended.
func ParseFeeTiers(raw string) (models.FeeSchedule, error) {
	var out models.FeeSchedule
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.SplitN(part, ":", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("%w: malformed tier %q", models.ErrInvalidFeeSchedule, part)
		}
		upTo, err := decimal.NewFromString(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: tier bound %q: %v", models.ErrInvalidFeeSchedule, bounds[0], err)
		}
		fee, err := decimal.NewFromString(strings.TrimSpace(bounds[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: tier fee %q: %v", models.ErrInvalidFeeSchedule, bounds[1], err)
		}
		out = append(out, models.FeeTier{UpTo: upTo, Fee: fee})
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetDurationEnv parses a Go duration ("30s", "1h").
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func GetDecimalEnv(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// IsProduction checks if the app runs in production mode.
func IsProduction() bool {
	return GetEnv("ENV", "development") == "production"
}
