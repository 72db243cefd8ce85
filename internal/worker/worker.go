// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package worker implements C1b: the single background task that
// drives jobs through the pipeline stage machine
// pending -> processing(intake/extract/persist/embed) -> completed.
package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/northbound/stellar/internal/documents"
	"github.com/northbound/stellar/internal/embeddings"
	"github.com/northbound/stellar/internal/extract"
	"github.com/northbound/stellar/internal/jobstore"
	"github.com/northbound/stellar/internal/logger"
	"github.com/northbound/stellar/internal/processor"
	"github.com/northbound/stellar/internal/vectorindex"
)

// Notifier delivers a desktop toast when a job finishes or fails. In
// production this is backed by gen2brain/beeep; tests pass nil.
type Notifier func(title, message string)

// Extractor is satisfied by *extract.Extractor; the interface exists
// so tests can substitute a fake extraction chain.
type Extractor interface {
	Extract(ctx context.Context, inputPath string, opts extract.Options) (*extract.Result, error)
}

// Worker is the single C1b background task. Exactly one Worker runs
// per process, per spec.md 5's non-goal on worker-pool concurrency.
type Worker struct {
	jobs         *jobstore.Store
	docs         *documents.Store
	extractor    Extractor
	chunker      *processor.Chunker
	embedder     embeddings.Embedder
	vectors      *vectorindex.Index
	log          *logger.Logger
	tickInterval time.Duration
	notify       Notifier

	stop chan struct{}
	done chan struct{}
}

// Config bundles the dependencies a Worker needs. Log and Notify may be
// nil, and a non-positive TickInterval defaults to 5s; the other fields
// are required.
type Config struct {
	Jobs         *jobstore.Store
	Documents    *documents.Store
	Extractor    Extractor
	Chunker      *processor.Chunker
	Embedder     embeddings.Embedder
	Vectors      *vectorindex.Index
	Log          *logger.Logger
	TickInterval time.Duration
	Notify       Notifier
}

// New builds a Worker from cfg.
func New(cfg Config) *Worker {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &Worker{
		jobs:         cfg.Jobs,
		docs:         cfg.Documents,
		extractor:    cfg.Extractor,
		chunker:      cfg.Chunker,
		embedder:     cfg.Embedder,
		vectors:      cfg.Vectors,
		log:          cfg.Log,
		tickInterval: tick,
		notify:       cfg.Notify,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run blocks, ticking every TickInterval and draining at most one
// pending job per tick, until ctx is cancelled or Stop is called. A
// stop request is honored at the next tick boundary; a job already in
// progress runs to completion rather than being interrupted mid-stage.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// Stop requests the worker loop to exit at its next tick boundary and
// blocks until it has.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) tick(ctx context.Context) {
	job, err := w.jobs.NextPending(ctx)
	if err != nil {
		w.logf("fetching next pending job: %v", err)
		return
	}
	if job == nil {
		return
	}
	w.processJob(ctx, job)
}

// processJob runs one job through the full stage machine, applying
// the progress milestones from spec.md 4.2 at each boundary.
func (w *Worker) processJob(ctx context.Context, job *jobstore.ProcessingJob) {
	jobID := job.ID

	switch job.JobType {
	case jobstore.KindIngestNew, jobstore.KindExtractIntoExisting:
	default:
		w.fail(ctx, jobID, fmt.Sprintf("unknown job kind: %s", job.JobType))
		return
	}

	// intake: 10
	if _, err := w.jobs.Update(ctx, jobID, jobstore.Update{
		Status:   strPtr(jobstore.StatusProcessing),
		Progress: intPtr(10),
	}); err != nil {
		w.logf("job %s: updating to intake stage: %v", jobID, err)
		return
	}

	// resolve source: 20 (remote_url advances to 30 once the download starts)
	w.jobs.Update(ctx, jobID, jobstore.Update{Progress: intPtr(20)})
	sourcePath, err := w.resolveSourcePath(ctx, jobID, job)
	if err != nil {
		w.fail(ctx, jobID, err.Error())
		return
	}

	opts := optionsFromJob(job)

	// extract: 40 after
	result, err := w.extractor.Extract(ctx, sourcePath, opts)
	if err != nil {
		w.fail(ctx, jobID, err.Error())
		return
	}
	w.jobs.Update(ctx, jobID, jobstore.Update{Progress: intPtr(40)})

	// persist: 70
	docID, err := w.persistDocument(ctx, job, sourcePath, result.Markdown)
	if err != nil {
		w.fail(ctx, jobID, err.Error())
		return
	}
	w.jobs.Update(ctx, jobID, jobstore.Update{Progress: intPtr(70), ResultDocumentID: &docID})

	// embed: 90
	if err := w.embedDocument(ctx, docID, result.Markdown); err != nil {
		// Policy: the document stays ready (its content and metadata are
		// already durable); only the job is marked failed.
		w.docs.SetStatus(ctx, docID, documents.StatusReady)
		w.fail(ctx, jobID, err.Error())
		return
	}
	w.jobs.Update(ctx, jobID, jobstore.Update{Progress: intPtr(90)})

	w.docs.SetStatus(ctx, docID, documents.StatusReady)

	// completed: 100
	w.jobs.Update(ctx, jobID, jobstore.Update{
		Status:   strPtr(jobstore.StatusCompleted),
		Progress: intPtr(100),
	})

	if w.notify != nil {
		w.notify("Stellar", fmt.Sprintf("Document ready: %s", job.Title))
	}
}

// resolveSourcePath turns a job's source descriptor into a concrete,
// existing file path, grounded on background_processor.rs's
// process_pdf_job source-type match (local/remote/inline at 148-162):
// local_path and inline_bytes jobs are expected to already name a
// staged file; remote_url jobs are downloaded to a managed temp
// directory first, advancing progress to 30 around the download.
func (w *Worker) resolveSourcePath(ctx context.Context, jobID string, job *jobstore.ProcessingJob) (string, error) {
	var path string

	switch job.SourceType {
	case jobstore.SourceLocalPath, jobstore.SourceInlineBytes:
		if job.SourcePath == "" {
			return "", fmt.Errorf("job has no usable source path")
		}
		path = job.SourcePath
	case jobstore.SourceRemoteURL:
		if job.SourcePath == "" {
			return "", fmt.Errorf("job has no source url")
		}
		w.jobs.Update(ctx, jobID, jobstore.Update{Progress: intPtr(30)})
		downloaded, err := downloadToTemp(ctx, job.SourcePath)
		if err != nil {
			return "", fmt.Errorf("downloading source: %w", err)
		}
		path = downloaded
	default:
		return "", fmt.Errorf("unknown source type: %s", job.SourceType)
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("source file not found: %s", path)
	}
	return path, nil
}

// downloadToTemp fetches rawURL and saves it under the OS temp
// directory, mirroring download_file_from_url in
// background_processor.rs:384-408 (reqwest GET, status check, write
// into temp_dir().join("stellar_downloads") under a name derived from
// the URL's last path segment).
func downloadToTemp(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request for %s: %w", rawURL, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("downloading %s: http status %d", rawURL, resp.StatusCode)
	}

	dir := filepath.Join(os.TempDir(), "stellar_downloads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}

	filename := filepath.Base(rawURL)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		filename = "download.pdf"
	}
	destPath := filepath.Join(dir, filename)

	out, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("saving downloaded file: %w", err)
	}

	return destPath, nil
}

func (w *Worker) persistDocument(ctx context.Context, job *jobstore.ProcessingJob, sourcePath, content string) (string, error) {
	if job.JobType == jobstore.KindExtractIntoExisting {
		docID := job.ResultDocumentID
		if docID == "" {
			return "", fmt.Errorf("extract_into_existing job is missing a target document id")
		}
		existing, err := w.docs.GetDocument(ctx, docID)
		if err != nil {
			return "", fmt.Errorf("loading existing document %s: %w", docID, err)
		}
		if existing == nil {
			return "", fmt.Errorf("target document %s not found", docID)
		}
		if _, err := w.docs.UpdateDocument(ctx, docID, existing.Title, content, sourcePath,
			documents.TypePDF, job.Tags, documents.StatusProcessing, job.CategoryID); err != nil {
			return "", fmt.Errorf("updating document %s: %w", docID, err)
		}
		return docID, nil
	}

	doc, err := w.docs.CreateDocument(ctx, job.Title, content, sourcePath, documents.TypePDF,
		job.Tags, documents.StatusProcessing, job.CategoryID)
	if err != nil {
		return "", fmt.Errorf("creating document: %w", err)
	}
	return doc.ID, nil
}

func (w *Worker) embedDocument(ctx context.Context, documentID, content string) error {
	chunks := w.chunker.ChunkDocument(documentID, content, nil)
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	rows := make([]vectorindex.Row, len(chunks))
	for i, c := range chunks {
		rows[i] = vectorindex.Row{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			ChunkText:  c.Content,
			ChunkIndex: c.ChunkIndex,
			Metadata:   c.Metadata,
			Vector:     vectors[i],
			CreatedAt:  c.CreatedAt,
		}
	}

	if err := w.vectors.Upsert(ctx, rows); err != nil {
		return fmt.Errorf("writing vectors: %w", err)
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, jobID, message string) {
	if _, err := w.jobs.Update(ctx, jobID, jobstore.Update{
		Status:       strPtr(jobstore.StatusFailed),
		ErrorMessage: &message,
	}); err != nil {
		w.logf("job %s: recording failure %q: %v", jobID, message, err)
	}
	if w.notify != nil {
		w.notify("Stellar", "Extraction failed: "+message)
	}
}

func (w *Worker) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Errorf(format, args...)
	}
}

func optionsFromJob(job *jobstore.ProcessingJob) extract.Options {
	opts := extract.Options{PreferMarker: true}
	if job.ProcessingOptions == nil {
		return opts
	}
	if v, ok := job.ProcessingOptions["extract_images"].(bool); ok {
		opts.ExtractImages = v
	}
	if v, ok := job.ProcessingOptions["force_ocr"].(bool); ok {
		opts.ForceOCR = v
	}
	if v, ok := job.ProcessingOptions["prefer_marker"].(bool); ok {
		opts.PreferMarker = v
	}
	return opts
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
