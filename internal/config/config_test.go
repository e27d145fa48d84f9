package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tradeline/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.LLM.Timeout() != 30*time.Second {
		t.Fatalf("unexpected default timeout %s", cfg.LLM.Timeout())
	}
	if cfg.Server.BasePath != "/v0" {
		t.Fatalf("unexpected base path %q", cfg.Server.BasePath)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("llm:\n  provider: openai\n  model: gpt-4o-mini\n  api_key_env: OPENAI_API_KEY\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.LLM.Provider != config.ProviderOpenAI || cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected llm config %+v", cfg.LLM)
	}
	if cfg.LLM.TimeoutSeconds != 30 || cfg.Assistant.SessionTTLMinutes != 60 {
		t.Fatalf("missing keys should keep defaults: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"provider":   "llm:\n  provider: mystery\n",
		"timeout":    "llm:\n  timeout_seconds: 0\n",
		"confidence": "llm:\n  min_confidence: 101\n",
		"base path":  "server:\n  base_path: v0\n",
		"encoding":   "log:\n  encoding: xml\n",
		"ttl":        "assistant:\n  session_ttl_minutes: -1\n",
		"webhook":    "webhooks:\n  - events: [trade.created]\n",
	}
	for name, raw := range cases {
		if _, err := config.FromYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if _, err := config.FromYAML([]byte("llm: [")); err == nil || !strings.Contains(err.Error(), "invalid config yaml") {
		t.Fatalf("expected yaml error, got %v", err)
	}
}

func TestLoadWorkspace(t *testing.T) {
	dir := t.TempDir()
	if _, err := config.Load(dir); err == nil {
		t.Fatalf("expected missing config error")
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load optional: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Log.Level)
	}
}

func TestWebhooksAndSecret(t *testing.T) {
	t.Setenv("TL_TEST_SECRET", "s3cret")
	cfg, err := config.FromYAML([]byte("server:\n  jwt_secret_env: TL_TEST_SECRET\nwebhooks:\n  - url: http://127.0.0.1:9/hook\n    events: [trade.created]\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Server.JWTSecret() != "s3cret" {
		t.Fatalf("unexpected secret %q", cfg.Server.JWTSecret())
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].Events[0] != "trade.created" || cfg.Webhooks[0].Enabled != nil {
		t.Fatalf("unexpected webhooks %+v", cfg.Webhooks)
	}
}
