package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DatabaseDriver  string
	DatabaseURL     string
	JWTSecret       string
	JWTAccessExpiry time.Duration

	GoogleClientID      string
	GoogleClientSecret  string
	GoogleProjectID     string
	GooglePubSubTopic   string
	GoogleCredentials   string
	FirebaseCredentials string
	EncryptionKey       string

	// PublicBaseURL is the externally reachable origin used in tracking pixels and click links.
	PublicBaseURL string

	CooldownDays       int
	CooldownRetention  time.Duration
	AvailabilityWindow time.Duration
	DailySendLimit     int

	PollSchedule    string
	SweepSchedule   string
	PollLookback    time.Duration
	PollConcurrency int
	ProviderTimeout time.Duration
	ReplyDetection  string

	WebhookSecret string
	CronSecret    string

	// TrackingSecret signs click-redirect targets. Defaults to JWTSecret.
	TrackingSecret string

	LogPath           string
	LogLevel          string
	SentryDSN         string
	SentryEnvironment string
	MetricsEnabled    bool
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "your-secret-key-change-in-production")

	return &Config{
		Port:            getEnv("PORT", "8080"),
		DatabaseDriver:  getEnv("DB_DRIVER", "postgres"),
		DatabaseURL:     getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=outreach port=5432 sslmode=disable"),
		JWTSecret:       jwtSecret,
		JWTAccessExpiry: getEnvDuration("JWT_ACCESS_EXPIRY", 24*time.Hour),

		GoogleClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleProjectID:     getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:   getEnv("GOOGLE_PUBSUB_TOPIC", ""),
		GoogleCredentials:   getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),
		EncryptionKey:       getEnv("ENCRYPTION_KEY", ""),

		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		CooldownDays:       getEnvInt("COOLDOWN_DAYS", 7),
		CooldownRetention:  getEnvDuration("COOLDOWN_RETENTION", 7*24*time.Hour),
		AvailabilityWindow: getEnvDuration("COOLDOWN_AVAILABILITY_WINDOW", 24*time.Hour),
		DailySendLimit:     getEnvInt("DAILY_SEND_LIMIT", 50),

		PollSchedule:    getEnv("POLL_SCHEDULE", "*/5 * * * *"),
		SweepSchedule:   getEnv("SWEEP_SCHEDULE", "0 * * * *"),
		PollLookback:    getEnvDuration("POLL_LOOKBACK", 24*time.Hour),
		PollConcurrency: getEnvInt("POLL_CONCURRENCY", 4),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
		ReplyDetection:  getEnv("REPLY_DETECTION", "heuristic"),

		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		CronSecret:    getEnv("CRON_SECRET", ""),

		TrackingSecret: getEnv("TRACKING_SECRET", jwtSecret),

		LogPath:           getEnv("LOG_PATH", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		SentryDSN:         getEnv("SENTRY_DSN", ""),
		SentryEnvironment: getEnv("SENTRY_ENVIRONMENT", "development"),
		MetricsEnabled:    getEnvBool("METRICS_ENABLED", true),
	}
}

// CooldownDuration is the block window applied after each allowed send.
func (c *Config) CooldownDuration() time.Duration {
	return time.Duration(c.CooldownDays) * 24 * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
