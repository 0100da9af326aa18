package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends for the persisted store layout.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageMongo  = "mongo"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode        string // Set via flag, not env
	StorageBackend string
	MockServices   bool
	SeedDirectory  bool
	SeedPassword   string

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort           string
	ServiceApiPort    string
	CorsAllowedOrigin string

	// Marketplace
	SimulatedLatency time.Duration
	QuoteValidity    time.Duration
	VatRate          float64
	CurrencyCode     string
	SearchRadiusKM   float64
	SearchDebounce   time.Duration

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string
	LogEmailsPath   string

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	ImageMaxDimension  int
	ImageMaxSizeMB     int

	// App Defaults
	AppName string

	// Rate Limiting Defaults
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

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
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	cfg.StorageBackend = getEnv("STORAGE_BACKEND", StorageMemory)
	switch cfg.StorageBackend {
	case StorageMemory, StorageRedis, StorageMongo:
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND: %q", cfg.StorageBackend)
	}
	cfg.MockServices = getEnv("MOCK_SERVICES", "false") == "true"
	cfg.SeedDirectory = getEnv("SEED_DIRECTORY", "true") == "true"
	cfg.SeedPassword = getEnv("SEED_PASSWORD", "eventmarket")

	if cfg.StorageBackend == StorageMongo {
		cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
		if err != nil {
			return nil, err
		}
	} else {
		cfg.MongoURI = getEnv("MONGO_URI", "")
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "eventmarket")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.CorsAllowedOrigin = getEnv("CORS_ALLOWED_ORIGIN", "*")
	cfg.CurrencyCode = getEnv("CURRENCY_CODE", "EUR")
	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@eventmarket.example.com")
	cfg.LogEmailsPath = getEnv("LOG_EMAILS", "")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "eu-west-1")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.AppName = getEnv("APP_NAME", "EventMarket")

	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	jwtTTLSeconds, err := strconv.ParseInt(getEnv("JWT_TTL_SECONDS", "604800"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_SECONDS: %w", err)
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	latencyMS, err := strconv.ParseInt(getEnv("SIMULATED_LATENCY_MS", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SIMULATED_LATENCY_MS: %w", err)
	}
	cfg.SimulatedLatency = time.Duration(latencyMS) * time.Millisecond

	validityDays, err := strconv.Atoi(getEnv("QUOTE_VALIDITY_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTE_VALIDITY_DAYS: %w", err)
	}
	cfg.QuoteValidity = time.Duration(validityDays*24) * time.Hour

	cfg.VatRate, err = strconv.ParseFloat(getEnv("VAT_RATE", "0.20"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid VAT_RATE: %w", err)
	}

	cfg.SearchRadiusKM, err = strconv.ParseFloat(getEnv("SEARCH_RADIUS_KM", "50"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_RADIUS_KM: %w", err)
	}

	debounceMS, err := strconv.ParseInt(getEnv("SEARCH_DEBOUNCE_MS", "300"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_DEBOUNCE_MS: %w", err)
	}
	cfg.SearchDebounce = time.Duration(debounceMS) * time.Millisecond

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	cfg.ImageMaxDimension, err = strconv.Atoi(getEnv("IMAGE_MAX_DIMENSION", "1600"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_MAX_DIMENSION: %w", err)
	}

	cfg.ImageMaxSizeMB, err = strconv.Atoi(getEnv("IMAGE_MAX_SIZE_MB", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_MAX_SIZE_MB: %w", err)
	}

	cfg.RateLimitBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_BUCKET_SIZE", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_REFILL_RATE", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REFILL_RATE: %w", err)
	}

	return cfg, nil
}
