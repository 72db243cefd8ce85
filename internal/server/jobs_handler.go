// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/northbound/stellar/internal/jobstore"
)

// submitJobRequest holds the job fields parseJobMetadata reads from
// query parameters and the X-Processing-Options header; the source
// itself is chosen by submitJob (raw body upload, local path or URL).
type submitJobRequest struct {
	JobType    string         `json:"job_type"`
	Title      string         `json:"title"`
	Tags       []string       `json:"tags"`
	CategoryID string         `json:"category_id"`
	ResultDoc  string         `json:"result_document_id"`
	Options    map[string]any `json:"options"`
	Metadata   map[string]any `json:"metadata"`
}

// HandleJobs handles POST /api/v1/jobs (submit a PDF for ingestion)
// and GET /api/v1/jobs (list jobs, optionally filtered by status).
func (s *Server) HandleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submitJob(w, r)
	case http.MethodGet:
		s.listJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// submitJob creates a pending ProcessingJob from one of the three
// source descriptors spec.md 6/4.2 recognizes: a raw body upload
// (inline_bytes, the default), a path already on disk the server
// process can read directly (local_path, via X-Source-Path/
// source_path), or a URL the worker downloads during intake
// (remote_url, via X-Source-URL/source_url). Exactly one of these is
// honored per request.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	req := parseJobMetadata(r)
	if req.JobType == "" {
		req.JobType = jobstore.KindIngestNew
	}

	var sourceType, sourcePath, filename string

	switch {
	case sourceURL(r) != "":
		sourceType = jobstore.SourceRemoteURL
		sourcePath = sourceURL(r)
		filename = filepath.Base(sourcePath)
	case sourcePathHeader(r) != "":
		sourceType = jobstore.SourceLocalPath
		sourcePath = sourcePathHeader(r)
		filename = filepath.Base(sourcePath)
	default:
		filename = r.Header.Get("X-Filename")
		if filename == "" {
			filename = "upload.pdf"
		}
		filename = filepath.Base(filename)

		storedName := uuid.NewString() + "-" + filename
		destPath := filepath.Join(s.PDFDir, storedName)

		out, err := os.Create(destPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("storing upload: %v", err))
			return
		}
		if _, err := io.Copy(out, r.Body); err != nil {
			out.Close()
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("writing upload: %v", err))
			return
		}
		out.Close()

		sourceType = jobstore.SourceInlineBytes
		sourcePath = destPath
	}

	if req.Title == "" {
		req.Title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	job, err := s.Jobs.Create(r.Context(), jobstore.JobSpec{
		JobType:           req.JobType,
		SourceType:        sourceType,
		SourcePath:        sourcePath,
		OriginalFilename:  filename,
		Title:             req.Title,
		Tags:              req.Tags,
		CategoryID:        req.CategoryID,
		ProcessingOptions: req.Options,
		Metadata:          req.Metadata,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("creating job: %v", err))
		return
	}
	if req.ResultDoc != "" {
		s.Jobs.Update(r.Context(), job.ID, jobstore.Update{ResultDocumentID: &req.ResultDoc})
	}

	writeJSON(w, http.StatusAccepted, job)
}

// sourceURL returns the remote_url source named by either the
// X-Source-URL header or the source_url query parameter, or "".
func sourceURL(r *http.Request) string {
	if v := r.Header.Get("X-Source-URL"); v != "" {
		return v
	}
	return r.URL.Query().Get("source_url")
}

// sourcePathHeader returns the local_path source named by either the
// X-Source-Path header or the source_path query parameter, or "".
func sourcePathHeader(r *http.Request) string {
	if v := r.Header.Get("X-Source-Path"); v != "" {
		return v
	}
	return r.URL.Query().Get("source_path")
}

// parseJobMetadata reads request headers/query params that describe
// the job being submitted. A real multipart form would carry these as
// fields; query params keep this endpoint simple to drive with curl.
func parseJobMetadata(r *http.Request) submitJobRequest {
	q := r.URL.Query()
	req := submitJobRequest{
		JobType:    q.Get("job_type"),
		Title:      q.Get("title"),
		CategoryID: q.Get("category_id"),
		ResultDoc:  q.Get("result_document_id"),
	}
	if tags := q.Get("tags"); tags != "" {
		req.Tags = strings.Split(tags, ",")
	}
	if optionsJSON := r.Header.Get("X-Processing-Options"); optionsJSON != "" {
		json.Unmarshal([]byte(optionsJSON), &req.Options)
	}
	return req
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobstore.Filter{Status: r.URL.Query().Get("status")}
	jobs, err := s.Jobs.List(r.Context(), filter, jobstore.Pagination{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("listing jobs: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// HandleJobByID handles GET and DELETE on /api/v1/jobs/{id}, and the
// /api/v1/jobs/{id}/retry and /api/v1/jobs/{id}/cancel actions.
func (s *Server) HandleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "job id required")
		return
	}
	jobID := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "retry":
			s.retryJob(w, r, jobID)
			return
		case "cancel":
			s.cancelJob(w, r, jobID)
			return
		default:
			writeError(w, http.StatusNotFound, "unknown job action")
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		s.getJob(w, r, jobID)
	case http.MethodDelete:
		s.deleteJob(w, r, jobID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.Jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("getting job: %v", err))
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ok, err := s.Jobs.Delete(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("deleting job: %v", err))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.Jobs.Retry(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("retrying job: %v", err))
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.Jobs.Cancel(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("cancelling job: %v", err))
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
