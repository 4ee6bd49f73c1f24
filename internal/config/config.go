package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Dialogue engine tunables
	MinConfidence      float64
	ClassifyTopK       int
	FormMatchDistance  float64
	FormSectionMult    float64
	MaxInvalidAttempts int
	SessionTTL         time.Duration
	DrainLockTTL       time.Duration
	FormDirectoryTTL   time.Duration
	HistoryLimit       int

	// Pattern corpus
	CorpusDBPath string
	IntentsPath  string

	// AWS / Bedrock
	AWSRegion               string
	AWSAccessKeyID          string
	AWSSecretAccessKey      string
	AWSEndpointOverride     string
	BedrockModelID          string
	BedrockEmbeddingModelID string

	// Gemini fallback
	GeminiAPIKey  string
	GeminiModelID string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		MinConfidence:      getEnvAsFloat("MIN_CONFIDENCE", 0.7),
		ClassifyTopK:       getEnvAsInt("CLASSIFY_TOP_K", 5),
		FormMatchDistance:  getEnvAsFloat("FORM_MATCH_DISTANCE", 0.5),
		FormSectionMult:    getEnvAsFloat("FORM_MATCH_SECTION_MULTIPLIER", 1.2),
		MaxInvalidAttempts: getEnvAsInt("MAX_INVALID_ATTEMPTS", 3),
		SessionTTL:         getEnvAsSeconds("SESSION_TTL_SECONDS", 24*time.Hour),
		DrainLockTTL:       getEnvAsSeconds("DRAIN_LOCK_TTL_SECONDS", 60*time.Second),
		FormDirectoryTTL:   getEnvAsSeconds("FORM_DIRECTORY_TTL_SECONDS", 5*time.Minute),
		HistoryLimit:       getEnvAsInt("HISTORY_LIMIT", 20),

		CorpusDBPath: getEnv("CORPUS_DB_PATH", "data/pattern_corpus.db"),
		IntentsPath:  getEnv("INTENTS_PATH", "data/intents.json"),

		AWSRegion:               getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:     getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BedrockModelID:          getEnv("BEDROCK_MODEL_ID", ""),
		BedrockEmbeddingModelID: getEnv("BEDROCK_EMBEDDING_MODEL_ID", "amazon.titan-embed-text-v2:0"),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModelID: getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSeconds reads an integer number of seconds into a Duration.
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil && value > 0 {
		return time.Duration(value) * time.Second
	}
	return defaultValue
}
