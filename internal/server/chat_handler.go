// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/northbound/stellar/internal/llm"
)

// ChatTurnRequest is the POST /api/v1/chat payload.
type ChatTurnRequest struct {
	Provider string            `json:"provider"`
	Model    string            `json:"model"`
	Messages []llm.ChatMessage `json:"messages"`
	TopK     int               `json:"top_k"`
}

// ChatTurnResponse wraps the model's answer and the chunks grounding it.
type ChatTurnResponse struct {
	Answer    string        `json:"answer"`
	Model     string        `json:"model"`
	Usage     llm.Usage     `json:"usage"`
	Citations []SearchMatch `json:"citations"`
}

// HandleChat handles POST /api/v1/chat: retrieves grounding context from
// the C3 vector index, then asks the chosen C4 provider to answer.
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ChatTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "at least one message is required")
		return
	}

	provider, ok := s.resolveProvider(req.Provider)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown provider %q", req.Provider))
		return
	}

	ctx := r.Context()
	lastUserMessage := lastUserContent(req.Messages)

	citations, contextBlock, err := s.retrieveContext(ctx, lastUserMessage, req.TopK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("retrieving context: %v", err))
		return
	}

	messages := req.Messages
	if contextBlock != "" {
		messages = append([]llm.ChatMessage{{Role: "system", Content: contextBlock}}, messages...)
	}

	resp, err := provider.Chat(ctx, llm.ChatRequest{Model: req.Model, Messages: messages})
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("chat failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, ChatTurnResponse{
		Answer:    resp.Content,
		Model:     resp.Model,
		Usage:     resp.Usage,
		Citations: citations,
	})
}

func (s *Server) resolveProvider(name string) (llm.Provider, bool) {
	if name == "" {
		name = "default"
	}
	p, ok := s.Providers[name]
	return p, ok
}

func lastUserContent(messages []llm.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// retrieveContext embeds query and searches the vector index, returning
// both structured citations and a flattened system-message block.
func (s *Server) retrieveContext(ctx context.Context, query string, topK int) ([]SearchMatch, string, error) {
	if query == "" {
		return nil, "", nil
	}
	if topK <= 0 {
		topK = 5
	}

	queryVector, err := s.Embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, "", fmt.Errorf("embedding query: %w", err)
	}

	matches, err := s.Vectors.Search(ctx, queryVector, topK, nil)
	if err != nil {
		return nil, "", fmt.Errorf("search failed: %w", err)
	}

	citations := make([]SearchMatch, 0, len(matches))
	var block strings.Builder
	if len(matches) > 0 {
		block.WriteString("Relevant context from the document library:\n\n")
	}
	for _, m := range matches {
		citations = append(citations, SearchMatch{
			ChunkID:    m.ChunkID,
			DocumentID: m.DocumentID,
			Content:    m.ChunkText,
			ChunkIndex: m.ChunkIndex,
			Score:      m.Score,
			Metadata:   m.Metadata,
		})
		fmt.Fprintf(&block, "[%s chunk %d] %s\n\n", m.DocumentID, m.ChunkIndex, m.ChunkText)
	}

	return citations, block.String(), nil
}
