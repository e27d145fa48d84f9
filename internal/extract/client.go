package extract

import (
	"context"
	"fmt"
	"strings"

	"tradeline/internal/config"
)

// Request is one structured-extraction call. Schema describes the JSON object
// the model must answer with.
type Request struct {
	System    string
	Prompt    string
	Schema    string
	MaxTokens int
}

// Client is the language-model backend. Complete returns the raw model text.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// NewClient builds the provider client named by cfg.Provider.
func NewClient(cfg config.LLMConfig) (Client, error) {
	key := strings.TrimSpace(cfg.APIKey())
	if key == "" {
		return nil, fmt.Errorf("llm api key not set; export %s", cfg.APIKeyEnv)
	}
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropic(key, cfg.Model), nil
	case config.ProviderOpenAI:
		return NewOpenAI(key, cfg.Model), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func systemWithSchema(req Request) string {
	if req.Schema == "" {
		return req.System
	}
	return req.System + "\n\nRespond with a single JSON object matching this schema and nothing else:\n" + req.Schema
}
