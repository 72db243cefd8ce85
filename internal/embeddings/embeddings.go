// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package embeddings

import (
	"context"
	"fmt"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedText generates an embedding vector for the given text.
	EmbedText(ctx context.Context, text string) ([]float32, error)
	
	// EmbedBatch generates embeddings for multiple texts (more efficient).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	
	// Dimension returns the dimension of the embedding vectors.
	Dimension() int
}

// NewEmbedder creates an embedder based on the provided type and
// configuration. Supported types: "openai" (cloud-typed batch API),
// "ollama" (per-prompt local HTTP server), "local" (deterministic
// fallback, no network). Per spec.md 4.5, if a cloud provider is
// requested but its API key is missing, this transparently falls back
// to "local" instead of erroring — callers should log that fallback.
func NewEmbedder(embedderType string, config map[string]string) (Embedder, error) {
	switch embedderType {
	case "openai":
		apiKey := config["api_key"]
		if apiKey == "" {
			return NewLocalEmbedder(), nil
		}
		model := config["model"]
		if model == "" {
			model = "text-embedding-3-small" // default
		}
		return NewOpenAIEmbedder(apiKey, model)
	case "ollama":
		baseURL := config["base_url"]
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := config["model"]
		if model == "" {
			model = "nomic-embed-text" // default
		}
		return NewOllamaEmbedder(baseURL, model)
	case "local", "mock", "":
		return NewLocalEmbedder(), nil
	default:
		return nil, fmt.Errorf("unknown embedder type: %s", embedderType)
	}
}

// RequiresFallback reports whether resolving embedderType with the
// given config would silently substitute the local generator, so
// callers can log the fallback as spec.md 4.5/7 requires.
func RequiresFallback(embedderType string, config map[string]string) bool {
	switch embedderType {
	case "openai":
		return config["api_key"] == ""
	default:
		return false
	}
}

