// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amumu-chat/amumu/internal/domain"
	"github.com/amumu-chat/amumu/internal/llm"
)

// Config holds all application configuration.
type Config struct {
	Port                string
	FrontendURL         string
	DBPath              string
	GeminiAPIKey        string
	Generation          llm.Params
	HistoryLimit        int
	MaxAvatarBytes      int64
	MaxRequestBodyBytes int64
	DeviceRetention     time.Duration
	RetentionInterval   time.Duration
	RateLimit           int
	RateWindow          time.Duration
	LogLevel            slog.Level
	Identity            domain.Identity
	ConversationLog     ConversationLogConfig
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	gen := llm.DefaultParams()
	ident := domain.DefaultIdentity()

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/amumu.db"),
		GeminiAPIKey: strings.TrimSpace(getEnv("GEMINI_API_KEY", "")),
		Generation: llm.Params{
			Model:           getEnv("GEMINI_MODEL", gen.Model),
			Temperature:     getEnvFloat("GEN_TEMPERATURE", gen.Temperature),
			TopK:            getEnvFloat("GEN_TOP_K", gen.TopK),
			TopP:            getEnvFloat("GEN_TOP_P", gen.TopP),
			MaxOutputTokens: int32(getEnvInt("GEN_MAX_OUTPUT_TOKENS", int(gen.MaxOutputTokens))),
		},
		HistoryLimit:        getEnvInt("HISTORY_LIMIT", 50),
		MaxAvatarBytes:      int64(getEnvInt("MAX_AVATAR_BYTES", 2<<20)),
		MaxRequestBodyBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 4<<20)),
		DeviceRetention:     getEnvDuration("DEVICE_RETENTION", 0),
		RetentionInterval:   getEnvDuration("RETENTION_INTERVAL", time.Hour),
		RateLimit:           getEnvInt("CHAT_RATE_LIMIT", 30),
		RateWindow:          getEnvDuration("CHAT_RATE_WINDOW", time.Minute),
		LogLevel:            parseLevel(getEnv("LOG_LEVEL", "info")),
		Identity: domain.Identity{
			Creator: getEnv("BOT_CREATOR", ident.Creator),
			Version: getEnv("BOT_VERSION", ident.Version),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.Generation.Model == "" {
		return fmt.Errorf("GEMINI_MODEL cannot be empty")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("GEN_TEMPERATURE must be between 0 and 2")
	}
	if c.Generation.TopP < 0 || c.Generation.TopP > 1 {
		return fmt.Errorf("GEN_TOP_P must be between 0 and 1")
	}
	if c.Generation.TopK < 0 {
		return fmt.Errorf("GEN_TOP_K must be >= 0")
	}
	if c.Generation.MaxOutputTokens <= 0 {
		return fmt.Errorf("GEN_MAX_OUTPUT_TOKENS must be > 0")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}
	if c.MaxAvatarBytes <= 0 {
		return fmt.Errorf("MAX_AVATAR_BYTES must be > 0")
	}
	if c.MaxRequestBodyBytes < c.MaxAvatarBytes {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be >= MAX_AVATAR_BYTES")
	}
	if c.DeviceRetention < 0 {
		return fmt.Errorf("DEVICE_RETENTION must be >= 0")
	}
	if c.DeviceRetention > 0 && c.RetentionInterval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be > 0")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT must be >= 0")
	}
	if c.RateLimit > 0 && c.RateWindow <= 0 {
		return fmt.Errorf("CHAT_RATE_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float32) float32 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
