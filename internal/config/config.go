package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string

	ServerPort string
	ServerHost string

	// Local draft store
	DraftDir         string
	DraftCompression bool

	// Sync timings
	LocalSyncInterval time.Duration
	AutosaveDelay     time.Duration
	SlugCheckDelay    time.Duration
	SaveTimeout       time.Duration

	// Image asset URLs
	AssetCDNBase   string
	AssetProjectID string
	AssetDataset   string

	// Worker pool configuration
	RevisionWorkers   int
	RevisionQueueSize int
	RevisionKeep      int

	// Observability
	JaegerEndpoint   string
	TraceSampleRatio float64
	ServiceVersion   string
	LogLevel         string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "docsync"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		SQLitePath: getEnv("SQLITE_PATH", "docsync.db"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		DraftDir:         getEnv("DRAFT_DIR", "data/drafts"),
		DraftCompression: getEnvBool("DRAFT_COMPRESSION", false),

		LocalSyncInterval: getEnvDuration("LOCAL_SYNC_INTERVAL", 500*time.Millisecond),
		AutosaveDelay:     getEnvDuration("AUTOSAVE_DELAY", 30*time.Second),
		SlugCheckDelay:    getEnvDuration("SLUG_CHECK_DELAY", 500*time.Millisecond),
		SaveTimeout:       getEnvDuration("SAVE_TIMEOUT", 15*time.Second),

		AssetCDNBase:   getEnv("ASSET_CDN_BASE", "https://cdn.sanity.io/images"),
		AssetProjectID: getEnv("ASSET_PROJECT_ID", ""),
		AssetDataset:   getEnv("ASSET_DATASET", "production"),

		RevisionWorkers:   getEnvInt("REVISION_WORKERS", 2),
		RevisionQueueSize: getEnvInt("REVISION_QUEUE_SIZE", 100),
		RevisionKeep:      getEnvInt("REVISION_KEEP", 50),

		JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRatio: getEnvFloat("TRACE_SAMPLE_RATIO", 1),
		ServiceVersion:   getEnv("SERVICE_VERSION", "dev"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if c.LocalSyncInterval <= 0 || c.AutosaveDelay <= 0 || c.SlugCheckDelay <= 0 || c.SaveTimeout <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1")
	}
	if c.RevisionWorkers < 1 {
		return fmt.Errorf("REVISION_WORKERS must be at least 1")
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
