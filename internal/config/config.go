package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "tradeline.yml"

// Config models tradeline.yml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Assistant AssistantConfig `yaml:"assistant"`
	Log       LogConfig       `yaml:"log"`
	Webhooks  []WebhookConfig `yaml:"webhooks,omitempty"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	BasePath     string `yaml:"base_path"`
	JWTSecretEnv string `yaml:"jwt_secret_env"`
	// DevAuth enables POST /auth/dev/login.
	DevAuth bool `yaml:"dev_auth"`
}

// WebhookConfig receives audit events as they are recorded. Events filters by
// event type; empty means all.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

type LLMConfig struct {
	Provider          string `yaml:"provider"`
	Model             string `yaml:"model"`
	APIKeyEnv         string `yaml:"api_key_env"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	MinConfidence     int    `yaml:"min_confidence"`
	MaxTokens         int    `yaml:"max_tokens"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

type AssistantConfig struct {
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Encoding    string `yaml:"encoding"`
	Development bool   `yaml:"development"`
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Timeout bounds a single extraction call.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// APIKey resolves the provider key from the configured environment variable.
func (c LLMConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// JWTSecret resolves the token signing secret from the configured environment variable.
func (c ServerConfig) JWTSecret() string {
	if c.JWTSecretEnv == "" {
		return ""
	}
	return os.Getenv(c.JWTSecretEnv)
}

func (c AssistantConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("config.llm.provider must be %q or %q", ProviderAnthropic, ProviderOpenAI)
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return fmt.Errorf("config.llm.model is required")
	}
	if c.LLM.APIKeyEnv == "" {
		return fmt.Errorf("config.llm.api_key_env is required")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.llm.timeout_seconds must be positive")
	}
	if c.LLM.MinConfidence < 0 || c.LLM.MinConfidence > 100 {
		return fmt.Errorf("config.llm.min_confidence must be between 0 and 100")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("config.llm.max_tokens must be positive")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("config.llm.requests_per_minute must not be negative")
	}
	if c.Assistant.SessionTTLMinutes <= 0 {
		return fmt.Errorf("config.assistant.session_ttl_minutes must be positive")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	switch c.Log.Encoding {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.encoding must be json or console")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret_env: TRADELINE_JWT_SECRET
  dev_auth: false

llm:
  provider: anthropic
  model: claude-sonnet-4-5
  api_key_env: ANTHROPIC_API_KEY
  timeout_seconds: 30
  min_confidence: 0
  max_tokens: 1024
  requests_per_minute: 30

assistant:
  session_ttl_minutes: 60

log:
  level: info
  encoding: console
  development: false

# webhooks:
#   - url: https://example.com/hooks/tradeline
#     events: [trade.created, proof_bundle.completed]
`
