// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SearchRequest is the POST /api/v1/search payload.
type SearchRequest struct {
	Query             string   `json:"query"`
	TopK              int      `json:"top_k"`
	FilterDocumentIDs []string `json:"filter_document_ids"`
}

// SearchResponse wraps ranked matches.
type SearchResponse struct {
	Matches []SearchMatch `json:"matches"`
	Count   int           `json:"count"`
}

// SearchMatch is one ranked chunk.
type SearchMatch struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	ChunkIndex int               `json:"chunk_index"`
	Score      float32           `json:"score"`
	Metadata   map[string]string `json:"metadata"`
}

// HandleSearch handles POST /api/v1/search: embeds the query and ranks
// chunks from the C3 vector index by cosine similarity.
func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	ctx := r.Context()

	queryVector, err := s.Embedder.EmbedText(ctx, req.Query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("embedding query: %v", err))
		return
	}

	matches, err := s.Vectors.Search(ctx, queryVector, req.TopK, req.FilterDocumentIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("search failed: %v", err))
		return
	}

	resp := SearchResponse{Matches: make([]SearchMatch, 0, len(matches)), Count: len(matches)}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, SearchMatch{
			ChunkID:    m.ChunkID,
			DocumentID: m.DocumentID,
			Content:    m.ChunkText,
			ChunkIndex: m.ChunkIndex,
			Score:      m.Score,
			Metadata:   m.Metadata,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
