package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	HTTPAddr    string
	PublicHost  string
	DataDir     string

	DBDriver string // sqlite | mysql
	DBDSN    string

	MongoURI    string
	MongoDBName string

	RedisURL           string
	RateLimitPerMinute int

	LLMBaseURL      string
	LLMAPIKey       string
	LLMModel        string
	LLMTemperature  float64
	LLMMaxTokens    int
	LLMTimeoutSec   int
	LLMSystemPrompt string

	ClassifierEnabled bool
	ClassifierModel   string

	LINEChannelSecret      string
	LINEChannelAccessToken string
	LINEAPIBase            string
	LINETenantID           string

	WebhookTimeoutSec int
	WebhookWorkers    int
	WebhookQueueSize  int

	UsageRetentionDays int
	RetentionCron      string

	CatalogPath  string
	CatalogWatch bool

	CORSAllowedOriginsCSV string
	EventsEnabled         bool

	ClientAPIURL     string
	ClientAPIKey     string
	ClientTimeoutSec int
	ClientTLSCAFile  string
}

// LoadDotEnv loads KEY=VALUE pairs from path without overriding variables
// already present in the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func FromEnv() Config {
	dataDir := stringOrDefault("AGENT_ORCHESTRATOR_DATA_DIR", "/data")
	driver := strings.ToLower(stringOrDefault("AGENT_ORCHESTRATOR_DB_DRIVER", "sqlite"))
	switch driver {
	case "sqlite", "mysql":
	default:
		driver = "sqlite"
	}
	dsn := strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_DB_DSN"))
	if dsn == "" && driver == "sqlite" {
		dsn = filepath.Join(dataDir, "agent-orchestrator", "orchestrator.sqlite")
	}

	return Config{
		Environment: stringOrDefault("AGENT_ORCHESTRATOR_ENV", "development"),
		HTTPAddr:    stringOrDefault("AGENT_ORCHESTRATOR_HTTP_ADDR", ":5000"),
		PublicHost:  stringOrDefault("PUBLIC_HOST", "localhost"),
		DataDir:     dataDir,

		DBDriver: driver,
		DBDSN:    dsn,

		MongoURI:    strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_MONGODB_URI")),
		MongoDBName: stringOrDefault("AGENT_ORCHESTRATOR_MONGODB_DB_NAME", "ai_orchestration"),

		RedisURL:           strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_REDIS_URL")),
		RateLimitPerMinute: intOrDefault("AGENT_ORCHESTRATOR_RATE_LIMIT_PER_MINUTE", 60),

		LLMBaseURL:      stringOrDefault("AGENT_ORCHESTRATOR_LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:       strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_LLM_API_KEY")),
		LLMModel:        stringOrDefault("AGENT_ORCHESTRATOR_LLM_MODEL", "gpt-3.5-turbo"),
		LLMTemperature:  floatOrDefault("AGENT_ORCHESTRATOR_LLM_TEMPERATURE", 0.7),
		LLMMaxTokens:    intOrDefault("AGENT_ORCHESTRATOR_LLM_MAX_TOKENS", 1000),
		LLMTimeoutSec:   intOrDefault("AGENT_ORCHESTRATOR_LLM_TIMEOUT_SECONDS", 60),
		LLMSystemPrompt: strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_LLM_SYSTEM_PROMPT")),

		ClassifierEnabled: boolOrDefault("AGENT_ORCHESTRATOR_CLASSIFIER_ENABLED", true),
		ClassifierModel:   strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_CLASSIFIER_MODEL")),

		LINEChannelSecret:      strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_LINE_CHANNEL_SECRET")),
		LINEChannelAccessToken: strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_LINE_CHANNEL_ACCESS_TOKEN")),
		LINEAPIBase:            stringOrDefault("AGENT_ORCHESTRATOR_LINE_API_BASE", "https://api.line.me"),
		LINETenantID:           strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_LINE_TENANT_ID")),

		WebhookTimeoutSec: intOrDefault("AGENT_ORCHESTRATOR_WEBHOOK_TIMEOUT_SECONDS", 5),
		WebhookWorkers:    intOrDefault("AGENT_ORCHESTRATOR_WEBHOOK_WORKERS", 4),
		WebhookQueueSize:  intOrDefault("AGENT_ORCHESTRATOR_WEBHOOK_QUEUE_SIZE", 256),

		UsageRetentionDays: intOrDefault("AGENT_ORCHESTRATOR_USAGE_RETENTION_DAYS", 90),
		RetentionCron:      stringOrDefault("AGENT_ORCHESTRATOR_RETENTION_CRON", "@daily"),

		CatalogPath:  strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_CATALOG_PATH")),
		CatalogWatch: boolOrDefault("AGENT_ORCHESTRATOR_CATALOG_WATCH", true),

		CORSAllowedOriginsCSV: stringOrDefault("AGENT_ORCHESTRATOR_CORS_ALLOWED_ORIGINS", "*"),
		EventsEnabled:         boolOrDefault("AGENT_ORCHESTRATOR_EVENTS_ENABLED", true),

		ClientAPIURL:     stringOrDefault("AGENT_ORCHESTRATOR_API_URL", "http://localhost:5000"),
		ClientAPIKey:     strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_API_KEY")),
		ClientTimeoutSec: intOrDefault("AGENT_ORCHESTRATOR_CLIENT_TIMEOUT_SECONDS", 120),
		ClientTLSCAFile:  strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_API_TLS_CA_FILE")),
	}
}

// LogLevel reads AGENT_ORCHESTRATOR_LOG_LEVEL (debug, info, warn, error).
// Unknown values fall back to info.
func LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(os.Getenv("AGENT_ORCHESTRATOR_LOG_LEVEL")))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func floatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
