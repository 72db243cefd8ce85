// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package server exposes the C1-C4 pipeline over HTTP: job submission
// and lifecycle, semantic search, chat (sync and streamed), index
// stats, health, and log tailing.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/northbound/stellar/internal/documents"
	"github.com/northbound/stellar/internal/embeddings"
	"github.com/northbound/stellar/internal/jobstore"
	"github.com/northbound/stellar/internal/llm"
	"github.com/northbound/stellar/internal/logger"
	"github.com/northbound/stellar/internal/vectorindex"
)

// Server bundles the dependencies every handler needs. There is no
// package-level state: every handler closes over this struct.
type Server struct {
	Jobs      *jobstore.Store
	Documents *documents.Store
	Vectors   *vectorindex.Index
	Embedder  embeddings.Embedder
	Providers map[string]llm.Provider
	Log       *logger.Logger
	LogPath   string
	PDFDir    string

	ws *WebSocketManager
}

// NewServer builds a Server. providers maps a caller-chosen provider
// name (e.g. "default", "fast") to a configured llm.Provider.
func NewServer(jobs *jobstore.Store, docs *documents.Store, vectors *vectorindex.Index,
	embedder embeddings.Embedder, providers map[string]llm.Provider, log *logger.Logger, logPath, pdfDir string) *Server {
	return &Server{
		Jobs:      jobs,
		Documents: docs,
		Vectors:   vectors,
		Embedder:  embedder,
		Providers: providers,
		Log:       log,
		LogPath:   logPath,
		PDFDir:    pdfDir,
		ws:        NewWebSocketManager(),
	}
}

// Routes registers every HTTP surface on mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", HandleHealth)
	mux.HandleFunc("/api/v1/logs/tail", s.HandleLogsTail)

	mux.HandleFunc("/api/v1/jobs", s.HandleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.HandleJobByID)

	mux.HandleFunc("/api/v1/search", s.HandleSearch)
	mux.HandleFunc("/api/v1/stats", s.HandleStats)

	mux.HandleFunc("/api/v1/chat", s.HandleChat)
	mux.HandleFunc("/api/v1/chat/stream", s.HandleChatStream)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
