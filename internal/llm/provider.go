// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package llm

import "fmt"

// Family names one of the three adapter shapes a provider config can
// select. Everything else (base URL, api key, model) is configuration,
// not a new family — a self-hosted openai-compatible gateway is still
// FamilyOpenAI.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyOllama    Family = "ollama"
)

// Config describes one configured provider endpoint.
type Config struct {
	Family  Family
	BaseURL string
	APIKey  string
}

// NewProvider builds the Provider for cfg.Family.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Family {
	case FamilyOpenAI:
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey), nil
	case FamilyAnthropic:
		return NewAnthropicProvider(cfg.BaseURL, cfg.APIKey), nil
	case FamilyOllama:
		return NewOllamaProvider(cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider family: %s", cfg.Family)
	}
}
