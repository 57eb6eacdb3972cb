package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	DatabaseURL     string
	SessionStoreDSN string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// VaultKey is the process-wide symmetric key for bot secrets (32 bytes,
	// hex or base64 encoded).
	VaultKey string

	UseMemoryQueue bool
	EngineQueueURL string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	OpenAIModel  string
	GeminiAPIKey string
	GeminiModel  string

	GraphBaseURL string

	OwnerJWTSecret string
	CronToken      string

	FollowUpInterval time.Duration
	HistoryWindow    int

	SaleEmailFrom     string
	SaleEmailFromName string
	SendGridAPIKey    string

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present, for local development.
func Load() *Config {
	_ = godotenv.Load()

	databaseURL := getEnv("DATABASE_URL", "")
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		DatabaseURL:     databaseURL,
		SessionStoreDSN: getEnv("SESSION_STORE_DSN", databaseURL),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		VaultKey: getEnv("VAULT_KEY", ""),

		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", true),
		EngineQueueURL: getEnv("ENGINE_QUEUE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		GraphBaseURL: getEnv("GRAPH_BASE_URL", "https://graph.facebook.com/v21.0"),

		OwnerJWTSecret: getEnv("OWNER_JWT_SECRET", ""),
		CronToken:      getEnv("CRON_TOKEN", ""),

		FollowUpInterval: getEnvAsDuration("FOLLOWUP_INTERVAL", time.Minute),
		HistoryWindow:    getEnvAsInt("HISTORY_WINDOW", 40),

		SaleEmailFrom:     getEnv("SALE_EMAIL_FROM", ""),
		SaleEmailFromName: getEnv("SALE_EMAIL_FROM_NAME", "SellZap"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),

		CORSAllowedOrigins: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitAndTrim(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
