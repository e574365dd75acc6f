// Package config loads application configuration from environment
// variables, with a .env file picked up for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	OTLPEndpoint string

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ProviderConfigSecret derives the AES key sealing tenant gateway
	// credentials. Empty disables provider configuration writes.
	ProviderConfigSecret string

	GatewayTimeout     time.Duration
	GatewayMaxAttempts int
	GatewayBackoffBase time.Duration

	ResolverCacheTTL        time.Duration
	ResolverHealthStaleness time.Duration
	ResolverProbeTimeout    time.Duration

	WebhookRateLimit float64
	WebhookRateBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "payflow"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "payflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		ProviderConfigSecret: strings.TrimSpace(getenv("PROVIDER_CONFIG_SECRET", "")),

		GatewayTimeout:     getenvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		GatewayMaxAttempts: getenvInt("GATEWAY_MAX_ATTEMPTS", 3),
		GatewayBackoffBase: getenvDuration("GATEWAY_BACKOFF_BASE", 500*time.Millisecond),

		ResolverCacheTTL:        getenvDuration("RESOLVER_CACHE_TTL", 30*time.Minute),
		ResolverHealthStaleness: getenvDuration("RESOLVER_HEALTH_STALENESS", 5*time.Minute),
		ResolverProbeTimeout:    getenvDuration("RESOLVER_PROBE_TIMEOUT", 5*time.Second),

		WebhookRateLimit: getenvFloat("WEBHOOK_RATE_LIMIT", 50),
		WebhookRateBurst: getenvInt("WEBHOOK_RATE_BURST", 100),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
