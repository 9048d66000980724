package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/korjavin/familyorganizer/pkg/logger"
)

// Config holds all configuration for the application
type Config struct {
	// Storage configuration
	DataDir string
	DBPath  string

	// HTTP surface for the host UI
	HTTPAddr    string
	CORSOrigins []string

	// Telegram delivery configuration, optional
	BotToken     string
	FamilyChatID int64

	// OpenAI configuration, optional
	OpenAIAPIBase string
	OpenAIAPIKey  string
	OpenAIModel   string

	// Scheduling configuration
	WakeHour               int
	Location               *time.Location
	NotificationPermission string

	LogLevel string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	log := logger.New("config")

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn("Error loading .env file: %v", err)
	}

	cfg := &Config{
		DataDir:       getEnvWithDefault("DATA_DIR", "./data"),
		DBPath:        getEnvWithDefault("DB_PATH", "./data/family.db"),
		HTTPAddr:      getEnvWithDefault("HTTP_ADDR", ":8080"),
		CORSOrigins:   getEnvList("CORS_ORIGINS", []string{"*"}),
		BotToken:      os.Getenv("BOT_TOKEN"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIAPIBase: getEnvWithDefault("OPENAI_API_BASE", "https://api.openai.com/v1"),
		OpenAIModel:   getEnvWithDefault("OPENAI_MODEL", "gpt-3.5-turbo"),
		LogLevel:      getEnvWithDefault("LOG_LEVEL", "info"),
	}

	if cfg.BotToken != "" {
		chatID, err := strconv.ParseInt(os.Getenv("FAMILY_CHAT_ID"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("FAMILY_CHAT_ID must be set to a numeric chat id when BOT_TOKEN is set: %w", err)
		}
		cfg.FamilyChatID = chatID
	}

	wakeHour, err := strconv.Atoi(getEnvWithDefault("WAKE_HOUR", "7"))
	if err != nil || wakeHour < 0 || wakeHour > 23 {
		return nil, fmt.Errorf("WAKE_HOUR must be an hour between 0 and 23, got %q", os.Getenv("WAKE_HOUR"))
	}
	cfg.WakeHour = wakeHour

	loc, err := time.LoadLocation(getEnvWithDefault("TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("failed to load TIMEZONE: %w", err)
	}
	cfg.Location = loc

	permission := strings.ToLower(getEnvWithDefault("NOTIFICATION_PERMISSION", "undetermined"))
	switch permission {
	case "granted", "denied", "undetermined":
		cfg.NotificationPermission = permission
	default:
		return nil, fmt.Errorf("NOTIFICATION_PERMISSION must be granted, denied or undetermined, got %q", permission)
	}

	// Log configuration with sensitive data redacted
	logCfg := *cfg
	logCfg.BotToken = redact(logCfg.BotToken)
	logCfg.OpenAIAPIKey = redact(logCfg.OpenAIAPIKey)
	log.Info("Configuration loaded: %+v", logCfg)
	return cfg, nil
}

// TelegramEnabled reports whether fired notifications go to a telegram chat
func (c *Config) TelegramEnabled() bool {
	return c.BotToken != ""
}

// OpenAIEnabled reports whether recipe step suggestions are available
func (c *Config) OpenAIEnabled() bool {
	return c.OpenAIAPIKey != ""
}

func redact(secret string) string {
	if len(secret) > 8 {
		return secret[:8] + "...REDACTED..."
	}
	return secret
}

// getEnvWithDefault returns the value of the environment variable or the default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
