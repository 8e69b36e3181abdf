package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds the environment-variable-driven bootstrap configuration
// (component J): secrets and per-process identity that can't sensibly
// live in a hot-reloadable file, mirroring original_source's
// pydantic-validated Settings class. Non-secret tunables that benefit
// from hot reload stay on SystemConfig/system.json, loaded separately.
type Settings struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OllamaBaseURL   string
	GeminiAPIKey    string

	TelegramToken          string
	TelegramAllowedChatIDs []int64
	TelegramMode           string // "polling" | "webhook"
	WebhookURL             string
	WebhookPort            int

	Model       string
	MaxTokens   int
	Temperature float64

	HistoryTurns    int
	HistoryMaxChars int
	HistoryDB       string

	DebounceDelay time.Duration
	UserTimezone  string

	GraphitiURL string

	LogLevel         string
	FallbackMaxChars int

	SpeechkitAPIKey  string
	YandexFolderID   string
	SpeechkitLang    string
	MaxVoiceDuration int

	ClaudeTimeout time.Duration
	MCPConfigPath string

	MaxRetries              int
	RetryBackoffBaseSeconds int
	RetryBackoffCapSeconds  int
}

// LoadSettings reads and validates the environment, applying the defaults
// documented alongside each variable in the external interfaces spec.
func LoadSettings() (*Settings, error) {
	s := &Settings{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OllamaBaseURL:   os.Getenv("OLLAMA_BASE_URL"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),

		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		TelegramMode:  envOr("TELEGRAM_MODE", "polling"),
		WebhookURL:    os.Getenv("WEBHOOK_URL"),
		WebhookPort:   envInt("WEBHOOK_PORT", 8443),

		Model:       os.Getenv("MODEL"),
		MaxTokens:   envInt("MAX_TOKENS", 4096),
		Temperature: envFloat("TEMPERATURE", 0.7),

		HistoryTurns:    envInt("HISTORY_TURNS", 20),
		HistoryMaxChars: envInt("HISTORY_MAX_CHARS", 500),
		HistoryDB:       envOr("HISTORY_DB", "/data/history.db"),

		DebounceDelay: time.Duration(envInt("DEBOUNCE_DELAY", 5)) * time.Second,
		UserTimezone:  envOr("USER_TIMEZONE", "UTC"),

		GraphitiURL: os.Getenv("GRAPHITI_URL"),

		LogLevel:         envOr("LOG_LEVEL", "info"),
		FallbackMaxChars: envInt("FALLBACK_MAX_CHARS", 4000),

		SpeechkitAPIKey:  os.Getenv("SPEECHKIT_API_KEY"),
		YandexFolderID:   os.Getenv("YANDEX_FOLDER_ID"),
		SpeechkitLang:    envOr("SPEECHKIT_LANG", "ru-RU"),
		MaxVoiceDuration: envInt("MAX_VOICE_DURATION", 30),

		ClaudeTimeout: time.Duration(envInt("CLAUDE_TIMEOUT", 120)) * time.Second,
		MCPConfigPath: os.Getenv("MCP_CONFIG_PATH"),

		MaxRetries:              envInt("MAX_RETRIES", 3),
		RetryBackoffBaseSeconds: envInt("RETRY_BACKOFF_BASE_SECONDS", 1),
		RetryBackoffCapSeconds:  envInt("RETRY_BACKOFF_CAP_SECONDS", 60),
	}

	ids, err := envIntList("TELEGRAM_ALLOWED_CHAT_IDS")
	if err != nil {
		return nil, err
	}
	s.TelegramAllowedChatIDs = ids

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if len(s.TelegramAllowedChatIDs) == 0 {
		return fmt.Errorf("TELEGRAM_ALLOWED_CHAT_IDS is required")
	}
	if s.AnthropicAPIKey == "" && s.OpenAIAPIKey == "" && s.OllamaBaseURL == "" && s.GeminiAPIKey == "" && s.MCPConfigPath == "" {
		return fmt.Errorf("at least one LLM provider must be configured (ANTHROPIC_API_KEY, OPENAI_API_KEY, OLLAMA_BASE_URL, GEMINI_API_KEY, or MCP_CONFIG_PATH for the CLI backend)")
	}
	if s.TelegramMode == "webhook" && s.WebhookURL == "" {
		return fmt.Errorf("WEBHOOK_URL is required when TELEGRAM_MODE=webhook")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envIntList(key string) ([]int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	parts := strings.Split(v, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid entry %q in %s: %w", p, key, err)
		}
		out = append(out, n)
	}
	return out, nil
}
