package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver   string // "sqlite" or "postgres"
	Path     string // sqlite database file
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// WebConfig configures the HTTP API server.
type WebConfig struct {
	Host string
	Port int
}

// UploadConfig controls how uploads are persisted.
type UploadConfig struct {
	BatchSize int
	Retention time.Duration // how long abandoned checkpoints are kept
}

// MatcherConfig controls duplicate detection.
type MatcherConfig struct {
	CacheTTL             time.Duration
	SameSourceThreshold  float64
	CrossSourceThreshold float64
}

// Config is the full runtime configuration for the intake service.
type Config struct {
	Store   StoreConfig
	Web     WebConfig
	Upload  UploadConfig
	Matcher MatcherConfig
	Debug   bool
}

// Load reads configuration from the environment, falling back to defaults.
// Call LoadEnv first if values should come from a .env file.
func Load() Config {
	cacheTTL := time.Duration(GetEnvInt("SURVEY_CACHE_TTL_SECONDS", 30)) * time.Second
	if cacheTTL > 60*time.Second {
		cacheTTL = 60 * time.Second
	}

	return Config{
		Store: StoreConfig{
			Driver:   GetEnv("SURVEY_DB_DRIVER", "sqlite"),
			Path:     GetEnv("SURVEY_DB_PATH", "survey_intake.db"),
			Host:     GetEnv("PGHOST", "localhost"),
			Port:     GetEnvInt("PGPORT", 5432),
			User:     GetEnv("PGUSER", "postgres"),
			Password: GetEnv("PGPASSWORD", ""),
			DBName:   GetEnv("PGDATABASE", "survey_intake"),
			SSLMode:  GetEnv("PGSSLMODE", "disable"),
			MaxConns: GetEnvInt("SURVEY_DB_MAX_CONNS", 10),
		},
		Web: WebConfig{
			Host: GetEnv("WEB_HOST", "0.0.0.0"),
			Port: GetEnvInt("WEB_PORT", 8080),
		},
		Upload: UploadConfig{
			BatchSize: GetEnvInt("SURVEY_BATCH_SIZE", 500),
			Retention: time.Duration(GetEnvInt("SURVEY_CHECKPOINT_RETENTION_DAYS", 7)) * 24 * time.Hour,
		},
		Matcher: MatcherConfig{
			CacheTTL:             cacheTTL,
			SameSourceThreshold:  GetEnvFloat("SURVEY_SIMILARITY_THRESHOLD", 0.8),
			CrossSourceThreshold: GetEnvFloat("SURVEY_CROSS_SOURCE_THRESHOLD", 0.95),
		},
		Debug: GetEnvBool("SURVEY_DEBUG", false),
	}
}

// PostgresDSN builds a lib/pq connection string from the store settings.
func (s StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.Host, s.Port, s.User, s.Password, s.DBName, s.SSLMode)
}

// LoadEnv loads environment variables from a .env file if one exists.
func LoadEnv() error {
	// Try to load from .env file in current directory first, then parent directories
	envPaths := []string{".env", "../.env", "../../.env"}

	for _, envPath := range envPaths {
		if data, err := os.ReadFile(envPath); err == nil {
			lines := strings.Split(string(data), "\n")
			for _, line := range lines {
				line = strings.TrimSpace(line)
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}

				parts := strings.SplitN(line, "=", 2)
				if len(parts) == 2 {
					key := strings.TrimSpace(parts[0])
					value := strings.TrimSpace(parts[1])

					// Only set if not already set
					if os.Getenv(key) == "" {
						os.Setenv(key, value)
					}
				}
			}
			break // Successfully loaded, don't try other paths
		}
	}
	return nil
}

// GetEnv gets environment variable with default
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets integer environment variable with default
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvFloat gets float environment variable with default
func GetEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvBool gets boolean environment variable with default
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}
