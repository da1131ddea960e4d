package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	// DevPaymentBypass exposes the card-grant route without a payment
	// gateway. Never enable in production.
	DevPaymentBypass bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Idempotency IdempotencyConfig
	AdReward    AdRewardConfig
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled      bool
	ConsumeRate  float64
	ConsumeBurst int
	MediaRate    float64
	MediaBurst   int
}

type IdempotencyConfig struct {
	ConsumeTTL  time.Duration
	CardTTL     time.Duration
	AdRewardTTL time.Duration
}

type AdRewardConfig struct {
	DailyLimit      int
	CooldownSeconds int
	IDValidWindow   time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "lumichat"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DevPaymentBypass: getenvBool("DEV_PAYMENT_BYPASS", false),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "lumichat"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:      getenvBool("RATE_LIMIT_ENABLED", false),
			ConsumeRate:  getenvFloat("RATE_LIMIT_CONSUME_RATE", 0.33),
			ConsumeBurst: getenvInt("RATE_LIMIT_CONSUME_BURST", 20),
			MediaRate:    getenvFloat("RATE_LIMIT_MEDIA_RATE", 0.083),
			MediaBurst:   getenvInt("RATE_LIMIT_MEDIA_BURST", 5),
		},
		Idempotency: IdempotencyConfig{
			ConsumeTTL:  getenvDuration("IDEMPOTENCY_CONSUME_TTL", 15*time.Minute),
			CardTTL:     getenvDuration("IDEMPOTENCY_CARD_TTL", 5*time.Minute),
			AdRewardTTL: getenvDuration("IDEMPOTENCY_AD_REWARD_TTL", 10*time.Minute),
		},
		AdReward: AdRewardConfig{
			DailyLimit:      getenvInt("AD_DAILY_LIMIT", 10),
			CooldownSeconds: getenvInt("AD_COOLDOWN_SECONDS", 60),
			IDValidWindow:   getenvDuration("AD_ID_VALID_WINDOW", 5*time.Minute),
		},
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
