package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// NodeID seeds the snowflake generator; unique per running instance.
	NodeID int64

	OTLPEndpoint string
	Metrics      MetricsConfig

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

	RateLimit RateLimitConfig

	Stripe StripeConfig

	// AdminAPIToken guards the /admin routes. Empty disables them.
	// Either token may be given as an Argon2id encoding instead of plain text.
	AdminAPIToken string
	// AuditorAPIToken grants read-only access to the /admin routes.
	AuditorAPIToken string
	// SignupURL is where /r/:code redirects after recording the visit.
	SignupURL string

	Scheduler SchedulerConfig
}

type MetricsConfig struct {
	Enabled bool
	// Exporter selects where sweep metrics are pushed after each run:
	// "prometheus_remote_write", "prometheus_pushgateway" or empty for none.
	Exporter  string
	Endpoint  string
	AuthToken string
}

type RateLimitConfig struct {
	Enabled bool
	// LinkVisitRate is the sustained visits per second allowed per visitor and code.
	LinkVisitRate  float64
	LinkVisitBurst int
}

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance int64
	PayoutCurrency   string
}

type SchedulerConfig struct {
	Enabled           bool
	IntervalSeconds   int64
	Workers           int
	BatchSize         int
	LeaderLockEnabled bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "referralledger"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       getenvInt64("NODE_ID", 1),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Metrics: MetricsConfig{
			Enabled:   getenvBool("METRICS_ENABLED", false),
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_AUTH_TOKEN", "")),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "referralledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 1800)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 300)),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", true),
			LinkVisitRate:  getenvFloat("RATE_LIMIT_LINK_VISIT_RATE", 0.2),
			LinkVisitBurst: int(getenvInt64("RATE_LIMIT_LINK_VISIT_BURST", 5)),
		},
		Stripe: StripeConfig{
			SecretKey:        strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookTolerance: getenvInt64("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
			PayoutCurrency:   strings.ToLower(getenv("PAYOUT_CURRENCY", "usd")),
		},
		AdminAPIToken:   strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),
		AuditorAPIToken: strings.TrimSpace(getenv("AUDITOR_API_TOKEN", "")),
		SignupURL:       strings.TrimSpace(getenv("SIGNUP_URL", "")),
		Scheduler: SchedulerConfig{
			Enabled:           getenvBool("SCHEDULER_ENABLED", true),
			IntervalSeconds:   getenvInt64("SCHEDULER_INTERVAL_SECONDS", 3600),
			Workers:           int(getenvInt64("SCHEDULER_WORKERS", 4)),
			BatchSize:         int(getenvInt64("SCHEDULER_BATCH_SIZE", 200)),
			LeaderLockEnabled: getenvBool("SCHEDULER_LEADER_LOCK", true),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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
