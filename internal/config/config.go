package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"

	"visitstats/internal/domain"
	apperrors "visitstats/pkg/errors"
)

// Store backends
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Config holds all configuration values for the application
type Config struct {
	Port            string
	AllowedOrigins  []string
	LogLevel        string
	Environment     string
	StoreBackend    string
	VisitsTable     string
	BucketMode      domain.BucketMode
	DatabaseURL     string
	DatabaseReadURL string // Read replica URL for scans and counts
	RedisURL        string
	AWSRegion       string
	DynamoEndpoint  string // Optional override, e.g. DynamoDB Local
	MongoURI        string
	MongoDatabase   string
}

// Load loads configuration from environment variables. A missing table name,
// unknown backend or missing backend location is a configuration error and
// must abort startup.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		AllowedOrigins:  parseOrigins(getEnv("ALLOWED_ORIGINS", "*")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Environment:     getEnv("ENVIRONMENT", "production"),
		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		VisitsTable:     getEnv("VISITS_TABLE_NAME", getEnv("VISITOR_TABLE_NAME", "")),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		DatabaseReadURL: getEnv("DATABASE_READ_URL", getEnv("DATABASE_URL", "")), // Falls back to write DB if not set
		RedisURL:        getEnv("REDIS_URL", ""),
		AWSRegion:       getEnv("AWS_REGION", "ap-northeast-1"),
		DynamoEndpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
		MongoURI:        getEnv("MONGO_URI", ""),
		MongoDatabase:   getEnv("MONGO_DATABASE", "visitstats"),
	}

	mode, err := domain.ParseBucketMode(getEnv("BUCKET_MODE", string(domain.ByDate)))
	if err != nil {
		return nil, apperrors.NewConfigurationError(err.Error(), map[string]interface{}{"key": "BUCKET_MODE"})
	}
	cfg.BucketMode = mode

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected store can be located
func (c *Config) Validate() error {
	if c.VisitsTable == "" {
		return missing("VISITS_TABLE_NAME")
	}

	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return missing("DATABASE_URL")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return missing("REDIS_URL")
		}
	case BackendDynamoDB:
		if c.AWSRegion == "" {
			return missing("AWS_REGION")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return missing("MONGO_URI")
		}
	case BackendMemory:
	default:
		return apperrors.NewConfigurationError("unsupported store backend "+c.StoreBackend,
			map[string]interface{}{"key": "STORE_BACKEND"})
	}
	return nil
}

func missing(key string) error {
	return apperrors.NewConfigurationError(key+" environment variable is not set", map[string]interface{}{"key": key})
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parseOrigins parses comma-separated origins into a slice
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
