// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAI_ChatStream_LegacySSEConcatenation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	provider := NewOpenAIProvider(server.URL, "test-key")
	chunks, err := provider.ChatStream(context.Background(), ChatRequest{Model: "gpt-4o", Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	var result string
	var sawDone bool
	for chunk := range chunks {
		if chunk.Done {
			sawDone = true
			break
		}
		result += chunk.Delta
	}

	if result != "hello" {
		t.Errorf("expected concatenated delta %q, got %q", "hello", result)
	}
	if !sawDone {
		t.Error("expected a terminal Done chunk")
	}
}

func TestOpenAI_ChatStream_TypedSSEEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: response.output_text.delta\ndata: {\"delta\":\"hel\"}\n\n")
		fmt.Fprint(w, "event: response.output_text.delta\ndata: {\"delta\":\"lo\"}\n\n")
		fmt.Fprint(w, "event: response.completed\ndata: {}\n\n")
	}))
	defer server.Close()

	provider := NewOpenAIProvider(server.URL, "test-key")
	chunks, err := provider.ChatStream(context.Background(), ChatRequest{Model: "gpt-5", Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	var result string
	var sawDone bool
	for chunk := range chunks {
		if chunk.Done {
			sawDone = true
			break
		}
		result += chunk.Delta
	}

	if result != "hello" {
		t.Errorf("expected concatenated delta %q, got %q", "hello", result)
	}
	if !sawDone {
		t.Error("expected a terminal Done chunk from response.completed")
	}
}

func TestOpenAI_Chat_RetriesExactlyOnceOnMaxTokensRejection(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)

		if _, hasMaxTokens := body["max_tokens"]; hasMaxTokens {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"Unsupported parameter: 'max_tokens' is not supported with this model. Use 'max_completion_tokens' instead.","param":"max_tokens"}}`)
			return
		}

		if _, hasMaxCompletionTokens := body["max_completion_tokens"]; !hasMaxCompletionTokens {
			t.Errorf("expected retry to send max_completion_tokens")
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"model":"gpt-4o","choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(server.URL, "test-key")
	resp, err := provider.Chat(context.Background(), ChatRequest{
		Model:     "gpt-4o",
		Messages:  []ChatMessage{{Role: "user", Content: "hi"}},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected content %q, got %q", "ok", resp.Content)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 calls (1 retry), got %d", calls)
	}
}
