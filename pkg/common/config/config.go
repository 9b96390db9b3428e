package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Storage
	StorageDir      string
	TimelineBackend string // file or postgres

	// Extraction model
	ModelPath         string
	AcceptThreshold   float64
	ExtractionTimeout time.Duration

	// Embeddings
	Embedder         string // local or ollama
	EmbeddingDim     int
	OllamaHost       string
	OllamaEmbedModel string

	// Context retrieval
	RetrievalK             int
	RetrievalMinSimilarity float64

	// Note synthesis
	DenylistPath         string
	SynthesisWindow      int
	NoteSupersededPolicy string // omit or annotate
	NoteCacheTTL         time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1*1024*1024)),

		StorageDir:      getEnv("STORAGE_DIR", "data"),
		TimelineBackend: getEnv("TIMELINE_BACKEND", "file"),

		ModelPath:         getEnv("MODEL_PATH", ""),
		AcceptThreshold:   getFloatEnv("ACCEPT_THRESHOLD", 0.5),
		ExtractionTimeout: getDuration("EXTRACTION_TIMEOUT", 20*time.Second),

		Embedder:         getEnv("EMBEDDER", "local"),
		EmbeddingDim:     getIntEnv("EMBEDDING_DIM", 256),
		OllamaHost:       getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaEmbedModel: getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),

		RetrievalK:             getIntEnv("RETRIEVAL_K", 5),
		RetrievalMinSimilarity: getFloatEnv("RETRIEVAL_MIN_SIMILARITY", 0.35),

		DenylistPath:         getEnv("DENYLIST_PATH", ""),
		SynthesisWindow:      getIntEnv("SYNTHESIS_WINDOW", 20),
		NoteSupersededPolicy: getEnv("NOTE_SUPERSEDED_POLICY", "omit"),
		NoteCacheTTL:         getDuration("NOTE_CACHE_TTL", 10*time.Minute),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "chartline"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "chartline123"),
		PostgresDB:       getEnv("POSTGRES_DB", "chartline"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "clinical-audit"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
