// Package config loads deskpipe configuration from a JSON file or the
// environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level deskpipe configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	AI       AIConfig       `json:"ai"`
	Webhooks WebhooksConfig `json:"webhooks"`
	Docs     DocsConfig     `json:"docs"`
}

// ServerConfig holds REST/WebSocket server settings.
type ServerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	APIKey   string `json:"api_key,omitempty"`
	LogLevel string `json:"log_level,omitempty"` // debug, info, warn, error
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds the ticket store settings. An empty path selects the
// in-memory store.
type StorageConfig struct {
	Path string `json:"path,omitempty"`
}

// AIConfig holds classifier service settings. The OpenRouter fields are
// passed through to the analysis service's own configuration surface.
type AIConfig struct {
	ServiceURL        string `json:"service_url"`
	OpenRouterAPIKey  string `json:"openrouter_api_key,omitempty"`
	OpenRouterBaseURL string `json:"openrouter_base_url,omitempty"`
	TriageModel       string `json:"triage_model,omitempty"`
	CodeModel         string `json:"code_model,omitempty"`
	SupportModel      string `json:"support_model,omitempty"`
	TokenCountAPIKey  string `json:"tokenc_api_key,omitempty"`
}

// WebhooksConfig holds outbound callback URLs. Empty URLs disable the
// corresponding callback.
type WebhooksConfig struct {
	AIWebhookURL         string `json:"ai_webhook_url,omitempty"`
	ResolutionWebhookURL string `json:"resolution_webhook_url,omitempty"`
	CodingAgentURL       string `json:"coding_agent_url,omitempty"`
	EventMirrorURL       string `json:"event_mirror_url,omitempty"`
}

// DocsConfig points at the knowledge base the analysis service reads.
type DocsConfig struct {
	Path string `json:"path,omitempty"`
}

// Load reads configuration from a JSON file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables. Server settings
// use the DESKPIPE_ prefix; integration settings use the shared names the
// surrounding automation already exports.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:     getenv("DESKPIPE_HOST", "0.0.0.0"),
			Port:     getenvInt("DESKPIPE_PORT", 8080),
			APIKey:   os.Getenv("DESKPIPE_API_KEY"),
			LogLevel: getenv("DESKPIPE_LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			Path: os.Getenv("DESKPIPE_DB_PATH"),
		},
		AI: AIConfig{
			ServiceURL:        os.Getenv("AI_SERVICE_URL"),
			OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
			OpenRouterBaseURL: os.Getenv("OPENROUTER_BASE_URL"),
			TriageModel:       os.Getenv("TRIAGE_MODEL"),
			CodeModel:         os.Getenv("CODE_MODEL"),
			SupportModel:      os.Getenv("SUPPORT_MODEL"),
			TokenCountAPIKey:  os.Getenv("TOKENC_API_KEY"),
		},
		Webhooks: WebhooksConfig{
			AIWebhookURL:         os.Getenv("N8N_AI_WEBHOOK_URL"),
			ResolutionWebhookURL: os.Getenv("N8N_RESOLUTION_WEBHOOK_URL"),
			CodingAgentURL:       os.Getenv("DESKPIPE_CODING_WEBHOOK_URL"),
			EventMirrorURL:       os.Getenv("DESKPIPE_EVENT_WEBHOOK_URL"),
		},
		Docs: DocsConfig{
			Path: os.Getenv("DOCS_PATH"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
}

// Validate checks field consistency. Missing integration URLs are legal;
// the corresponding features simply stay off.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("server.log_level %q not recognised", c.Server.LogLevel))
	}
	urls := map[string]string{
		"ai.service_url":                  c.AI.ServiceURL,
		"webhooks.ai_webhook_url":         c.Webhooks.AIWebhookURL,
		"webhooks.resolution_webhook_url": c.Webhooks.ResolutionWebhookURL,
		"webhooks.coding_agent_url":       c.Webhooks.CodingAgentURL,
		"webhooks.event_mirror_url":       c.Webhooks.EventMirrorURL,
	}
	for name, u := range urls {
		if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			errs = append(errs, fmt.Sprintf("%s must be an http(s) URL", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogLevel maps the configured level name to a value usable by slog.
func (c *Config) LogLevelName() string {
	return strings.ToLower(c.Server.LogLevel)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
