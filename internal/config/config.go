package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string

	// Gemini
	GeminiAPIKey    string
	GeminiModel     string
	EmbeddingsModel string
	GeminiTier      string

	// Uploads
	MaxFileSize         int64
	AllowedTypes        []string
	FileStorageDir      string
	SyncProcessingLimit int64

	// Retrieval pipeline
	IndexDir         string
	PendingDir       string
	ChunkSize        int    // characters per window
	ChunkOverlap     int    // characters shared between consecutive windows
	TopK             int    // retrieval count
	SimilarityMetric string // "cosine" or "l2", fixed for the lifetime of the index
	EmbeddingDim     int    // fixed at index-creation time

	// External model calls
	GenerationTimeoutSecs int
	EmbedTimeoutSecs      int
	ExternalRetries       int
	RetryBackoffMS        int

	// Pending embeddings sweep
	PendingSweepMinutes int

	// Redis Configuration (rate limiting + task queue)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	RateLimitReqs   int
	RateLimitWindow int

	// Telemetry
	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/athena_rag"),
		DBName:      getEnv("DB_NAME", "athena_rag"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		EmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		GeminiTier:      getEnv("GEMINI_TIER", "free"),

		MaxFileSize:         getEnvInt64("MAX_FILE_SIZE", 209715200), // 200MB upload cap
		AllowedTypes:        strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf"), ","),
		FileStorageDir:      getEnv("FILE_STORAGE_DIR", "./storage"),
		SyncProcessingLimit: getEnvInt64("SYNC_PROCESSING_LIMIT", 20971520), // 20MB sync processing limit

		IndexDir:         getEnv("INDEX_DIR", "./storage/index"),
		PendingDir:       getEnv("PENDING_DIR", "./storage/pending"),
		ChunkSize:        getEnvInt("CHUNK_SIZE", 1200),
		ChunkOverlap:     getEnvInt("CHUNK_OVERLAP", 200),
		TopK:             getEnvInt("TOP_K", 5),
		SimilarityMetric: getEnv("SIMILARITY_METRIC", "cosine"),
		EmbeddingDim:     getEnvInt("EMBEDDING_DIM", 768),

		GenerationTimeoutSecs: getEnvInt("GENERATION_TIMEOUT_SECS", 60),
		EmbedTimeoutSecs:      getEnvInt("EMBED_TIMEOUT_SECS", 30),
		ExternalRetries:       getEnvInt("EXTERNAL_RETRIES", 3),
		RetryBackoffMS:        getEnvInt("RETRY_BACKOFF_MS", 500),

		PendingSweepMinutes: getEnvInt("PENDING_SWEEP_MINUTES", 15),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.SimilarityMetric != "cosine" && cfg.SimilarityMetric != "l2" {
		return nil, fmt.Errorf("SIMILARITY_METRIC must be cosine or l2, got %q", cfg.SimilarityMetric)
	}

	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("CHUNK_SIZE must be positive, got %d", cfg.ChunkSize)
	}

	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", cfg.ChunkOverlap)
	}

	if cfg.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("EMBEDDING_DIM must be positive, got %d", cfg.EmbeddingDim)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
