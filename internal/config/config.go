package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// Logging
	LogLevel   string
	LogNoColor bool
	FluentHost string
	FluentPort int
	FluentTag  string

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RabbitMQ
	AmqpURL      string
	AmqpExchange string

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string
	CorsOrigins    []string

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string
	MockEmail       bool   // store outgoing mail in Redis instead of sending it
	EmailLogFile    string // optional file every outgoing message is appended to

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	AwsS3Endpoint      string
	UploadURLTTL       time.Duration
	MaxDocumentSizeMB  int

	// Marketplace
	AppName                  string
	AppBaseURL               string
	PasswordRegexp           string
	BcryptCost               int
	DeadlineWindow           time.Duration
	ExpectedClosingDays      int
	DeadlineScanCron         string
	RequireAgentVerification bool

	// Rate Limiting Defaults
	RateLimitSoftBucketSize int
	RateLimitSoftRefillRate int // tokens per second
	RateLimitHardBucketSize int
	RateLimitHardRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		RunMode: runMode,
	}

	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists || value == "" {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	getBool := func(key string, defaultValue bool) (bool, error) {
		raw := getEnv(key, "")
		if raw == "" {
			return defaultValue, nil
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return false, fmt.Errorf("invalid %s: %w", key, err)
		}
		return b, nil
	}

	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "marketplace")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.FluentHost = getEnv("FLUENT_HOST", "")
	cfg.FluentTag = getEnv("FLUENT_TAG", "marketplace")
	cfg.AmqpURL = getEnv("AMQP_URL", "")
	cfg.AmqpExchange = getEnv("AMQP_EXCHANGE", "marketplace.events")
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.CorsOrigins = splitList(getEnv("CORS_ORIGINS", "*"))
	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@marketplace.example.com")
	cfg.EmailLogFile = getEnv("LOG_EMAILS", "")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "us-east-1")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.AwsS3Endpoint = getEnv("AWS_S3_ENDPOINT", "")
	cfg.AppName = getEnv("APP_NAME", "Homeward")
	cfg.AppBaseURL = getEnv("APP_BASE_URL", "http://localhost:3000")
	cfg.PasswordRegexp = getEnv("PASSWORD_REGEXP", "^.{8,}$")
	cfg.DeadlineScanCron = getEnv("DEADLINE_SCAN_CRON", "@hourly")

	if cfg.LogNoColor, err = getBool("LOG_NO_COLOR", false); err != nil {
		return nil, err
	}
	if cfg.MockEmail, err = getBool("MOCK_SERVICES", false); err != nil {
		return nil, err
	}
	if cfg.RequireAgentVerification, err = getBool("REQUIRE_AGENT_VERIFICATION", false); err != nil {
		return nil, err
	}

	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.FluentPort, err = strconv.Atoi(getEnv("FLUENT_PORT", "24224"))
	if err != nil {
		return nil, fmt.Errorf("invalid FLUENT_PORT: %w", err)
	}

	jwtTTLSeconds, err := strconv.ParseInt(getEnv("JWT_TTL_SECONDS", "3600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_SECONDS: %w", err)
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	uploadTTLMinutes, err := strconv.ParseInt(getEnv("UPLOAD_URL_TTL_MINUTES", "15"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_URL_TTL_MINUTES: %w", err)
	}
	cfg.UploadURLTTL = time.Duration(uploadTTLMinutes) * time.Minute

	cfg.MaxDocumentSizeMB, err = strconv.Atoi(getEnv("MAX_DOCUMENT_SIZE_MB", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_DOCUMENT_SIZE_MB: %w", err)
	}

	deadlineWindowHours, err := strconv.ParseInt(getEnv("DEADLINE_WINDOW_HOURS", "72"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEADLINE_WINDOW_HOURS: %w", err)
	}
	cfg.DeadlineWindow = time.Duration(deadlineWindowHours) * time.Hour

	cfg.ExpectedClosingDays, err = strconv.Atoi(getEnv("EXPECTED_CLOSING_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXPECTED_CLOSING_DAYS: %w", err)
	}

	cfg.BcryptCost, err = strconv.Atoi(getEnv("BCRYPT_COST", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid BCRYPT_COST: %w", err)
	}

	// Rate Limiting
	cfg.RateLimitSoftBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_SOFT_BUCKET_SIZE", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SOFT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitSoftRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_SOFT_REFILL_RATE", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SOFT_REFILL_RATE: %w", err)
	}
	cfg.RateLimitHardBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_HARD_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_HARD_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitHardRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_HARD_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_HARD_REFILL_RATE: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config populated with the same defaults Load applies, without reading the
// environment. Tests start from it.
func Defaults() *Config {
	return &Config{
		RunMode:                 "all",
		LogLevel:                "info",
		MongoDbName:             "marketplace",
		AmqpExchange:            "marketplace.events",
		JwtSecret:               "test-secret",
		JwtTTL:                  time.Hour,
		CorsOrigins:             []string{"*"},
		AppName:                 "Homeward",
		AppBaseURL:              "http://localhost:3000",
		PasswordRegexp:          "^.{8,}$",
		BcryptCost:              10,
		UploadURLTTL:            15 * time.Minute,
		MaxDocumentSizeMB:       10,
		DeadlineWindow:          72 * time.Hour,
		ExpectedClosingDays:     30,
		DeadlineScanCron:        "@hourly",
		RateLimitSoftBucketSize: 2,
		RateLimitSoftRefillRate: 1,
		RateLimitHardBucketSize: 8,
		RateLimitHardRefillRate: 4,
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
