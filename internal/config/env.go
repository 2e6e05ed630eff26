package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()
}

type Config struct {
	// Required
	DatabaseURL   string
	EncryptionKey string
	JWTSecretKey  string

	// Platform-wide Telegram app credentials (fallback when a user has none)
	TelegramAPIID   int
	TelegramAPIHash string

	// Optional Redis cache; the orchestrator runs without it
	RedisHost string
	RedisPort int
	RedisDB   int

	// Optional with defaults
	HTTPPort          int
	SessionTimeout    time.Duration
	ConnectionTimeout time.Duration
	RequestTimeout    time.Duration
	ClientCacheTTL    time.Duration

	// Worker fleet
	ProjectName       string
	ConfigsPath       string
	DockerHost        string
	LoggerWorkerImage string
	ForwarderImage    string

	// Retention knobs
	MessageLogsRetentionDays int

	DevMode bool
}

func LoadFromEnv() *Config {
	cfg := &Config{
		// Required
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		JWTSecretKey:  os.Getenv("JWT_SECRET_KEY"),

		TelegramAPIID:   getEnvAsIntOrDefault("TELEGRAM_API_ID", 0),
		TelegramAPIHash: os.Getenv("TELEGRAM_API_HASH"),

		RedisHost: os.Getenv("REDIS_HOST"),
		RedisPort: getEnvAsIntOrDefault("REDIS_PORT", 6379),
		RedisDB:   getEnvAsIntOrDefault("REDIS_DB", 0),

		// Optional with defaults
		HTTPPort:          getEnvAsIntOrDefault("HTTP_PORT", 5000),
		SessionTimeout:    getEnvAsSecondsOrDefault("SESSION_TIMEOUT", 3600),
		ConnectionTimeout: getEnvAsSecondsOrDefault("TELEGRAM_CONNECTION_TIMEOUT", 8),
		RequestTimeout:    getEnvAsSecondsOrDefault("TELEGRAM_REQUEST_TIMEOUT", 8),
		ClientCacheTTL:    getEnvAsSecondsOrDefault("CLIENT_CACHE_TTL", 300),

		ProjectName:       getEnvOrDefault("FORWARDER_PROJECT_NAME", "solanagram"),
		ConfigsPath:       getEnvOrDefault("SOLANAGRAM_CONFIGS_PATH", "./configs"),
		DockerHost:        os.Getenv("DOCKER_HOST"),
		LoggerWorkerImage: getEnvOrDefault("LOGGER_WORKER_IMAGE", "solanagram/logger-worker:latest"),
		ForwarderImage:    getEnvOrDefault("FORWARDER_WORKER_IMAGE", "solanagram/forwarder-worker:latest"),

		MessageLogsRetentionDays: getEnvAsIntOrDefault("MESSAGE_LOGS_RETENTION_DAYS", 0),

		DevMode: getEnvAsBoolOrDefault("SOLANAGRAM_DEV_MODE", false),
	}

	return cfg
}

// RedisEnabled reports whether a Redis cache backend is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsSecondsOrDefault(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsIntOrDefault(key, defaultSeconds)) * time.Second
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
