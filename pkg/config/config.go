// Package config loads process configuration from environment variables,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/sandbox"
	"github.com/helmsman-ai/helmsman/pkg/storage"
)

// Config is the full runtime configuration for the server process.
type Config struct {
	// HTTP server
	Port     int
	LogLevel slog.Level

	// Model provider
	APIKey      string
	APIBase     string
	ModelName   string
	Temperature float32
	MaxTokens   int

	// Postgres
	Database storage.PostgresConfig

	// Redis event streams
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string

	// Sandbox
	Sandbox sandbox.DockerConfig

	// Search engine (optional; search tool disabled when unset)
	GoogleSearchAPIKey   string
	GoogleSearchEngineID string
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables take precedence over it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file, continuing with environment variables", "error", err)
	}

	port, err := intEnv("PORT", 8000)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(getEnvOrDefault("LOG_LEVEL", "INFO"))
	if err != nil {
		return Config{}, err
	}
	temperature, err := floatEnv("TEMPERATURE", 0.7)
	if err != nil {
		return Config{}, err
	}
	maxTokens, err := intEnv("MAX_TOKENS", 2000)
	if err != nil {
		return Config{}, err
	}

	db, err := loadDatabase()
	if err != nil {
		return Config{}, err
	}

	redisPort, err := intEnv("REDIS_PORT", 6379)
	if err != nil {
		return Config{}, err
	}
	redisDB, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}

	ttl, err := intEnv("SANDBOX_TTL_MINUTES", 30)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Port:     port,
		LogLevel: level,

		APIKey:      os.Getenv("API_KEY"),
		APIBase:     getEnvOrDefault("API_BASE", "https://api.deepseek.com/v1"),
		ModelName:   getEnvOrDefault("MODEL_NAME", "deepseek-chat"),
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,

		Database: db,

		RedisHost:     getEnvOrDefault("REDIS_HOST", "redis"),
		RedisPort:     redisPort,
		RedisDB:       redisDB,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		Sandbox: sandbox.DockerConfig{
			Address:    os.Getenv("SANDBOX_ADDRESS"),
			Image:      getEnvOrDefault("SANDBOX_IMAGE", "helmsman-sandbox:latest"),
			NamePrefix: getEnvOrDefault("SANDBOX_NAME_PREFIX", "helmsman-sandbox"),
			Network:    os.Getenv("SANDBOX_NETWORK"),
			TTLMinutes: ttl,
			ChromeArgs: os.Getenv("SANDBOX_CHROME_ARGS"),
			HTTPProxy:  os.Getenv("SANDBOX_HTTP_PROXY"),
			HTTPSProxy: os.Getenv("SANDBOX_HTTPS_PROXY"),
			NoProxy:    os.Getenv("SANDBOX_NO_PROXY"),
		},

		GoogleSearchAPIKey:   os.Getenv("GOOGLE_SEARCH_API_KEY"),
		GoogleSearchEngineID: os.Getenv("GOOGLE_SEARCH_ENGINE_ID"),
	}, nil
}

func loadDatabase() (storage.PostgresConfig, error) {
	port, err := intEnv("DB_PORT", 5432)
	if err != nil {
		return storage.PostgresConfig{}, err
	}
	maxOpen, err := intEnv("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return storage.PostgresConfig{}, err
	}
	maxIdle, err := intEnv("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return storage.PostgresConfig{}, err
	}

	return storage.PostgresConfig{
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("DB_USER", "helmsman"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnvOrDefault("DB_NAME", "helmsman"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

// Validate checks that required settings are present.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	return nil
}

// RedisAddr returns the host:port address for the Redis client.
func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// LLM returns the model provider configuration.
func (c Config) LLM() llm.OpenAIConfig {
	return llm.OpenAIConfig{
		APIKey:      c.APIKey,
		BaseURL:     c.APIBase,
		Model:       c.ModelName,
		Temperature: float64(c.Temperature),
		MaxTokens:   c.MaxTokens,
	}
}

// SearchEnabled reports whether the web search tool is configured.
func (c Config) SearchEnabled() bool {
	return c.GoogleSearchAPIKey != "" && c.GoogleSearchEngineID != ""
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}
