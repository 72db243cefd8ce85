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

// OpenAIProvider talks to an openai-compatible /v1/chat/completions
// (or, for gpt-5 models, /v1/responses) API.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAIProvider builds an adapter against baseURL (e.g.
// https://api.openai.com/v1, or a self-hosted openai-compatible gateway).
func NewOpenAIProvider(baseURL, apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *OpenAIProvider) TestConnection(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing openai models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai models error: %d - %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	models := make([]string, len(result.Data))
	for i, m := range result.Data {
		models[i] = m.ID
	}
	return models, nil
}

// isGPT5Family reports whether model should be routed to /responses.
func isGPT5Family(model string) bool {
	return strings.HasPrefix(model, "gpt-5")
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if isGPT5Family(req.Model) {
		return p.chatResponses(ctx, req)
	}
	return p.chatCompletions(ctx, req)
}

// chatCompletions hits /chat/completions with max_tokens, retrying
// exactly once with max_completion_tokens when the API rejects
// max_tokens for this model (newer reasoning-tier models require the
// renamed field).
func (p *OpenAIProvider) chatCompletions(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	payload := map[string]any{
		"model":       req.Model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}

	resp, status, err := p.post(ctx, "/chat/completions", payload)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK && usesMaxCompletionTokens(resp) {
		delete(payload, "max_tokens")
		if req.MaxTokens > 0 {
			payload["max_completion_tokens"] = req.MaxTokens
		}
		resp, status, err = p.post(ctx, "/chat/completions", payload)
		if err != nil {
			return nil, err
		}
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("openai chat error: %d - %s", status, string(resp))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Model string `json:"model"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decoding openai chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("openai chat response had no choices")
	}

	return &ChatResponse{
		Content: result.Choices[0].Message.Content,
		Model:   result.Model,
		Usage:   Usage{InputTokens: result.Usage.PromptTokens, OutputTokens: result.Usage.CompletionTokens},
	}, nil
}

// usesMaxCompletionTokens inspects an error body for the specific
// complaint that tells us to resend with max_completion_tokens,
// grounded on providers.rs:112's "Unsupported parameter" + "max_tokens"
// check.
func usesMaxCompletionTokens(body []byte) bool {
	return bytes.Contains(body, []byte("Unsupported parameter")) && bytes.Contains(body, []byte("max_tokens"))
}

// chatResponses hits the gpt-5-family /responses endpoint.
func (p *OpenAIProvider) chatResponses(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	payload := map[string]any{
		"model": req.Model,
		"input": flattenMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		payload["max_output_tokens"] = req.MaxTokens
	}

	resp, status, err := p.post(ctx, "/responses", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("openai responses error: %d - %s", status, string(resp))
	}

	var result struct {
		OutputText string `json:"output_text"`
		Model      string `json:"model"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decoding openai responses payload: %w", err)
	}

	return &ChatResponse{
		Content: result.OutputText,
		Model:   result.Model,
		Usage:   Usage{InputTokens: result.Usage.InputTokens, OutputTokens: result.Usage.OutputTokens},
	}, nil
}

func flattenMessages(messages []ChatMessage) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if isGPT5Family(req.Model) {
		return p.streamResponses(ctx, req)
	}
	return p.streamCompletions(ctx, req)
}

// streamCompletions parses the legacy "data: {...}" / "data: [DONE]"
// framing used by /chat/completions when stream=true.
func (p *OpenAIProvider) streamCompletions(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	payload := map[string]any{
		"model":       req.Model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
		"stream":      true,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}

	body, err := p.stream(ctx, "/chat/completions", payload)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer body.Close()

		parser := newSSEParser(body)
		for {
			event, err := parser.Next()
			if err != nil {
				return
			}
			if isStreamDone(event) {
				out <- StreamChunk{Done: true}
				return
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				out <- StreamChunk{Delta: chunk.Choices[0].Delta.Content}
			}
		}
	}()
	return out, nil
}

// streamResponses parses the typed SSE events gpt-5 /responses emits:
// response.output_text.delta carries incremental text, and either
// response.completed or response.output_text.done signals the end.
// Any other event type is dropped silently (DESIGN.md open question 4).
func (p *OpenAIProvider) streamResponses(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	payload := map[string]any{
		"model":  req.Model,
		"input":  flattenMessages(req.Messages),
		"stream": true,
	}
	if req.MaxTokens > 0 {
		payload["max_output_tokens"] = req.MaxTokens
	}

	body, err := p.stream(ctx, "/responses", payload)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer body.Close()

		parser := newSSEParser(body)
		for {
			event, err := parser.Next()
			if err != nil {
				return
			}

			eventType := event.Event
			if eventType == "" {
				var typed struct {
					Type string `json:"type"`
				}
				if json.Unmarshal([]byte(event.Data), &typed) == nil {
					eventType = typed.Type
				}
			}

			switch eventType {
			case "response.output_text.delta":
				var delta struct {
					Delta string `json:"delta"`
				}
				if err := json.Unmarshal([]byte(event.Data), &delta); err == nil && delta.Delta != "" {
					out <- StreamChunk{Delta: delta.Delta}
				}
			case "response.completed", "response.output_text.done":
				out <- StreamChunk{Done: true}
				return
			default:
				// Unrecognized typed event: ignored.
			}
		}
	}()
	return out, nil
}

func (p *OpenAIProvider) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling openai %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (p *OpenAIProvider) stream(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling openai %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("openai stream error: %d - %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}
