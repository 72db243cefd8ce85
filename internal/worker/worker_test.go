// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/northbound/stellar/internal/documents"
	"github.com/northbound/stellar/internal/embeddings"
	"github.com/northbound/stellar/internal/extract"
	"github.com/northbound/stellar/internal/jobstore"
	"github.com/northbound/stellar/internal/processor"
	"github.com/northbound/stellar/internal/vectorindex"
)

// fakeSourceFile writes a stand-in PDF so resolveSourcePath's
// existence check passes.
func fakeSourceFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatalf("writing fake source file: %v", err)
	}
	return path
}

type fakeExtractor struct {
	result *extract.Result
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, inputPath string, opts extract.Options) (*extract.Result, error) {
	return f.result, f.err
}

type testEnv struct {
	jobs    *jobstore.Store
	docs    *documents.Store
	vectors *vectorindex.Index
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	jobs, err := jobstore.Open(filepath.Join(dir, "documents.db"))
	if err != nil {
		t.Fatalf("opening job store: %v", err)
	}
	t.Cleanup(func() { jobs.Close() })

	docs, err := documents.Open(filepath.Join(dir, "documents.db"))
	if err != nil {
		t.Fatalf("opening document store: %v", err)
	}
	t.Cleanup(func() { docs.Close() })

	vectors, err := vectorindex.Open(filepath.Join(dir, "embeddings.db"), 384, "local", vectorindex.Options{})
	if err != nil {
		t.Fatalf("opening vector index: %v", err)
	}
	t.Cleanup(func() { vectors.Close() })

	return &testEnv{jobs: jobs, docs: docs, vectors: vectors}
}

func newWorker(env *testEnv, ext Extractor) *Worker {
	return New(Config{
		Jobs:      env.jobs,
		Documents: env.docs,
		Extractor: ext,
		Chunker:   processor.NewChunker(),
		Embedder:  embeddings.NewLocalEmbedder(),
		Vectors:   env.vectors,
	})
}

func TestProcessJob_HappyPathReachesCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.jobs.Create(ctx, jobstore.JobSpec{
		JobType:    jobstore.KindIngestNew,
		SourceType: jobstore.SourceLocalPath,
		SourcePath: fakeSourceFile(t),
		Title:      "Fake Document",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w := newWorker(env, &fakeExtractor{result: &extract.Result{Markdown: "Paragraph one.\n\nParagraph two.", Source: "marker_single"}})
	w.processJob(ctx, job)

	updated, err := env.jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if updated.Status != jobstore.StatusCompleted {
		t.Fatalf("expected status completed, got %s (error: %s)", updated.Status, updated.ErrorMessage)
	}
	if updated.Progress != 100 {
		t.Errorf("expected progress 100, got %d", updated.Progress)
	}
	if updated.ResultDocumentID == "" {
		t.Fatal("expected a result document id")
	}

	doc, err := env.docs.GetDocument(ctx, updated.ResultDocumentID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc.Status != documents.StatusReady {
		t.Errorf("expected document status ready, got %s", doc.Status)
	}

	matches, err := env.vectors.Search(ctx, make([]float32, 384), 10, []string{updated.ResultDocumentID})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) == 0 {
		t.Error("expected at least one vector row written for the document")
	}
}

func TestProcessJob_UnknownJobKindFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.jobs.Create(ctx, jobstore.JobSpec{
		JobType:    "not_a_real_kind",
		SourceType: jobstore.SourceLocalPath,
		SourcePath: "/tmp/fake.pdf",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w := newWorker(env, &fakeExtractor{})
	w.processJob(ctx, job)

	updated, _ := env.jobs.Get(ctx, job.ID)
	if updated.Status != jobstore.StatusFailed {
		t.Errorf("expected status failed for unknown job kind, got %s", updated.Status)
	}
}

func TestProcessJob_MissingSourcePathFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.jobs.Create(ctx, jobstore.JobSpec{
		JobType:    jobstore.KindIngestNew,
		SourceType: jobstore.SourceLocalPath,
		SourcePath: "",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w := newWorker(env, &fakeExtractor{})
	w.processJob(ctx, job)

	updated, _ := env.jobs.Get(ctx, job.ID)
	if updated.Status != jobstore.StatusFailed {
		t.Errorf("expected status failed for missing source path, got %s", updated.Status)
	}
}

func TestProcessJob_ExtractionFailureFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.jobs.Create(ctx, jobstore.JobSpec{
		JobType:    jobstore.KindIngestNew,
		SourceType: jobstore.SourceLocalPath,
		SourcePath: fakeSourceFile(t),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w := newWorker(env, &fakeExtractor{err: fmt.Errorf("all extraction tiers failed")})
	w.processJob(ctx, job)

	updated, _ := env.jobs.Get(ctx, job.ID)
	if updated.Status != jobstore.StatusFailed {
		t.Errorf("expected status failed when extraction fails, got %s", updated.Status)
	}
	if updated.ErrorMessage == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestProcessJob_RemoteURLDownloadsBeforeExtract(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 remote content"))
	}))
	defer srv.Close()

	job, err := env.jobs.Create(ctx, jobstore.JobSpec{
		JobType:    jobstore.KindIngestNew,
		SourceType: jobstore.SourceRemoteURL,
		SourcePath: srv.URL + "/remote.pdf",
		Title:      "Remote Document",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w := newWorker(env, &fakeExtractor{result: &extract.Result{Markdown: "Remote paragraph.", Source: "marker_single"}})
	w.processJob(ctx, job)

	updated, err := env.jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if updated.Status != jobstore.StatusCompleted {
		t.Fatalf("expected status completed, got %s (error: %s)", updated.Status, updated.ErrorMessage)
	}

	downloaded := filepath.Join(os.TempDir(), "stellar_downloads", "remote.pdf")
	if _, err := os.Stat(downloaded); err != nil {
		t.Errorf("expected downloaded file at %s: %v", downloaded, err)
	}
}

func TestProcessJob_RemoteURLDownloadFailureFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	job, err := env.jobs.Create(ctx, jobstore.JobSpec{
		JobType:    jobstore.KindIngestNew,
		SourceType: jobstore.SourceRemoteURL,
		SourcePath: srv.URL + "/missing.pdf",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w := newWorker(env, &fakeExtractor{})
	w.processJob(ctx, job)

	updated, _ := env.jobs.Get(ctx, job.ID)
	if updated.Status != jobstore.StatusFailed {
		t.Errorf("expected status failed for a failed download, got %s", updated.Status)
	}
}

func TestProcessJob_ProgressIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.jobs.Create(ctx, jobstore.JobSpec{
		JobType:    jobstore.KindIngestNew,
		SourceType: jobstore.SourceLocalPath,
		SourcePath: fakeSourceFile(t),
		Title:      "Monotonic",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var observed []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			current, _ := env.jobs.Get(ctx, job.ID)
			if current == nil {
				return
			}
			if len(observed) == 0 || observed[len(observed)-1] != current.Progress {
				observed = append(observed, current.Progress)
			}
			if current.Status == jobstore.StatusCompleted || current.Status == jobstore.StatusFailed {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	w := newWorker(env, &fakeExtractor{result: &extract.Result{Markdown: "Some content here.", Source: "marker_single"}})
	w.processJob(ctx, job)
	<-done

	for i := 1; i < len(observed); i++ {
		if observed[i] < observed[i-1] {
			t.Errorf("progress decreased: %v", observed)
		}
	}
}
