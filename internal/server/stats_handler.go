// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"fmt"
	"net/http"

	"github.com/northbound/stellar/internal/jobstore"
	"github.com/northbound/stellar/internal/vectorindex"
)

// StatsResponse combines C1 job counters and C3 index size.
type StatsResponse struct {
	Jobs   *jobstore.Stats      `json:"jobs"`
	Index  *vectorindex.Stats   `json:"index"`
}

// HandleStats handles GET /api/v1/stats.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobStats, err := s.Jobs.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("loading job stats: %v", err))
		return
	}

	indexStats, err := s.Vectors.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("loading index stats: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{Jobs: jobStats, Index: indexStats})
}
