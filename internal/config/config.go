// Package config provides configuration for the API server. Values come
// from an optional YAML file named by SINDI_CONFIG, overridden by
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Partial stream policies applied when the client disconnects mid-answer.
const (
	PartialPersist = "persist"
	PartialDiscard = "discard"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `yaml:"port"`
	ServerReadTimeout  time.Duration `yaml:"server_read_timeout"`
	ServerWriteTimeout time.Duration `yaml:"server_write_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`

	// Store settings
	StoreDriver   string `yaml:"store_driver"`
	StoreDSN      string `yaml:"store_dsn"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	// Redis share cache
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// NATS settings
	NATSEnabled  bool   `yaml:"nats_enabled"`
	NATSURL      string `yaml:"nats_url"`
	NATSCAFile   string `yaml:"nats_ca_file"`
	NATSCertFile string `yaml:"nats_cert_file"`
	NATSKeyFile  string `yaml:"nats_key_file"`
	NATSToken    string `yaml:"nats_token"`

	// JWT settings
	JWTSecret string `yaml:"jwt_secret"`

	// LLM settings
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	DefaultLLM      string `yaml:"default_llm"`
	ChatModel       string `yaml:"chat_model"`
	UtilityModel    string `yaml:"utility_model"`
	ChatMaxTokens   int    `yaml:"chat_max_tokens"`

	// Property index
	PropertyIndexURL     string        `yaml:"property_index_url"`
	PropertyIndexTimeout time.Duration `yaml:"property_index_timeout"`

	// Turn pipeline
	ExtractionTimeout  time.Duration `yaml:"extraction_timeout"`
	RetrievalTimeout   time.Duration `yaml:"retrieval_timeout"`
	TitleTimeout       time.Duration `yaml:"title_timeout"`
	PersistTimeout     time.Duration `yaml:"persist_timeout"`
	NearbyRadiusMeters int           `yaml:"nearby_radius_meters"`
	ContextTokenBudget int           `yaml:"context_token_budget"`
	HistoryWindow      int           `yaml:"history_window"`
	PartialPolicy      string        `yaml:"partial_policy"`

	// Sharing
	ShareTTL time.Duration `yaml:"share_ttl"`

	// Rate limiting
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	// CORS
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Tracing
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerPort:         "8080",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 120 * time.Second,
		ShutdownTimeout:    30 * time.Second,

		StoreDriver:   "memory",
		MongoDatabase: "sindi",

		NATSURL: "nats://localhost:4222",

		JWTSecret: "development-secret-change-in-production",

		DefaultLLM:    "anthropic",
		ChatMaxTokens: 1024,

		PropertyIndexURL:     "http://localhost:3000/api/properties",
		PropertyIndexTimeout: 5 * time.Second,

		ExtractionTimeout:  8 * time.Second,
		RetrievalTimeout:   5 * time.Second,
		TitleTimeout:       10 * time.Second,
		PersistTimeout:     10 * time.Second,
		NearbyRadiusMeters: 3000,
		ContextTokenBudget: 1500,
		HistoryWindow:      20,
		PartialPolicy:      PartialPersist,

		ShareTTL: 24 * time.Hour,

		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,

		AllowedOrigins: []string{"https://*", "http://*"},

		LogLevel: "info",

		TracingEndpoint: "localhost:4318",
	}
}

// Load reads the optional YAML file and then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("SINDI_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server
	c.ServerPort = getEnv("PORT", c.ServerPort)
	c.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.ServerReadTimeout)
	c.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)
	c.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	// Store
	c.StoreDriver = getEnv("STORE_DRIVER", c.StoreDriver)
	c.StoreDSN = getEnv("STORE_DSN", c.StoreDSN)
	c.MongoURI = getEnv("MONGO_URI", c.MongoURI)
	c.MongoDatabase = getEnv("MONGO_DATABASE", c.MongoDatabase)

	// Redis
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getIntEnv("REDIS_DB", c.RedisDB)

	// NATS
	c.NATSEnabled = getBoolEnv("NATS_ENABLED", c.NATSEnabled)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSCAFile = getEnv("NATS_CA_FILE", c.NATSCAFile)
	c.NATSCertFile = getEnv("NATS_CERT_FILE", c.NATSCertFile)
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", c.NATSKeyFile)
	c.NATSToken = getEnv("NATS_TOKEN", c.NATSToken)

	// JWT
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)

	// LLM
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.DefaultLLM = getEnv("DEFAULT_LLM", c.DefaultLLM)
	c.ChatModel = getEnv("CHAT_MODEL", c.ChatModel)
	c.UtilityModel = getEnv("UTILITY_MODEL", c.UtilityModel)
	c.ChatMaxTokens = getIntEnv("CHAT_MAX_TOKENS", c.ChatMaxTokens)

	// Property index
	c.PropertyIndexURL = getEnv("PROPERTY_INDEX_URL", c.PropertyIndexURL)
	c.PropertyIndexTimeout = getDurationEnv("PROPERTY_INDEX_TIMEOUT", c.PropertyIndexTimeout)

	// Pipeline
	c.ExtractionTimeout = getDurationEnv("EXTRACTION_TIMEOUT", c.ExtractionTimeout)
	c.RetrievalTimeout = getDurationEnv("RETRIEVAL_TIMEOUT", c.RetrievalTimeout)
	c.TitleTimeout = getDurationEnv("TITLE_TIMEOUT", c.TitleTimeout)
	c.PersistTimeout = getDurationEnv("PERSIST_TIMEOUT", c.PersistTimeout)
	c.NearbyRadiusMeters = getIntEnv("NEARBY_RADIUS_METERS", c.NearbyRadiusMeters)
	c.ContextTokenBudget = getIntEnv("CONTEXT_TOKEN_BUDGET", c.ContextTokenBudget)
	c.HistoryWindow = getIntEnv("HISTORY_WINDOW", c.HistoryWindow)
	c.PartialPolicy = getEnv("PARTIAL_POLICY", c.PartialPolicy)

	// Sharing
	c.ShareTTL = getDurationEnv("SHARE_TTL", c.ShareTTL)

	// Rate limiting
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	// CORS
	c.AllowedOrigins = getListEnv("ALLOWED_ORIGINS", c.AllowedOrigins)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	// Tracing
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", c.TracingEnabled)
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite3", "mysql", "postgres":
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.StoreDriver != "memory" && c.StoreDriver != "mongo" && c.StoreDSN == "" {
		return fmt.Errorf("STORE_DSN is required for the %s store", c.StoreDriver)
	}
	switch c.PartialPolicy {
	case PartialPersist, PartialDiscard:
	default:
		return fmt.Errorf("unknown partial policy %q", c.PartialPolicy)
	}
	if c.ShareTTL <= 0 {
		return fmt.Errorf("share ttl must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
