// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider talks to an anthropic-compatible /v1/messages API,
// which takes the system prompt out-of-band from the message list.
type AnthropicProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewAnthropicProvider(baseURL, apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *AnthropicProvider) TestConnection(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}

// ListModels has no native discovery endpoint on most anthropic-like
// gateways; callers are expected to configure a model name directly.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{"claude-opus-4", "claude-sonnet-4", "claude-haiku-4"}, nil
}

// partitionMessages pulls system-role messages out of the list and
// concatenates them into a single system prompt, per anthropic's
// request shape.
func partitionMessages(messages []ChatMessage) (system string, rest []ChatMessage) {
	var systemParts []string
	for _, m := range messages {
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(systemParts, "\n\n"), rest
}

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	system, messages := partitionMessages(req.Messages)
	payload := map[string]any{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": maxTokensOrDefault(req.MaxTokens),
	}
	if system != "" {
		payload["system"] = system
	}

	body, status, err := p.post(ctx, "/messages", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("anthropic chat error: %d - %s", status, string(body))
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Model string `json:"model"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding anthropic chat response: %w", err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}

	return &ChatResponse{
		Content: sb.String(),
		Model:   result.Model,
		Usage:   Usage{InputTokens: result.Usage.InputTokens, OutputTokens: result.Usage.OutputTokens},
	}, nil
}

func maxTokensOrDefault(n int) int {
	if n > 0 {
		return n
	}
	return 1024
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	system, messages := partitionMessages(req.Messages)
	payload := map[string]any{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": maxTokensOrDefault(req.MaxTokens),
		"stream":     true,
	}
	if system != "" {
		payload["system"] = system
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling anthropic stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("anthropic stream error: %d - %s", resp.StatusCode, string(body))
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		parser := newSSEParser(resp.Body)
		for {
			event, err := parser.Next()
			if err != nil {
				return
			}

			switch event.Event {
			case "content_block_delta":
				var delta struct {
					Delta struct {
						Text string `json:"text"`
					} `json:"delta"`
				}
				if err := json.Unmarshal([]byte(event.Data), &delta); err == nil && delta.Delta.Text != "" {
					out <- StreamChunk{Delta: delta.Delta.Text}
				}
			case "message_stop":
				out <- StreamChunk{Done: true}
				return
			default:
				// Unrecognized typed event: ignored.
			}
		}
	}()
	return out, nil
}

func (p *AnthropicProvider) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling anthropic %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
