package documents

import (
	"context"
	"path/filepath"
	"testing"
)

func TestCreateAndGetDocument(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "documents.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	doc, err := s.CreateDocument(ctx, "A", "extracted markdown", "/tmp/a.pdf", TypePDF, []string{"tag1"}, StatusReady, "")
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	if doc.Content == "" {
		t.Errorf("expected non-empty content")
	}

	fetched, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if fetched == nil || fetched.Title != "A" {
		t.Errorf("expected document titled A, got %+v", fetched)
	}
}

func TestSetStatusOnlyTouchesStatus(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "documents.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	doc, _ := s.CreateDocument(ctx, "A", "content", "", TypePDF, nil, StatusProcessing, "")

	if err := s.SetStatus(ctx, doc.ID, StatusReady); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	fetched, _ := s.GetDocument(ctx, doc.ID)
	if fetched.Status != StatusReady {
		t.Errorf("expected status ready, got %s", fetched.Status)
	}
	if fetched.Content != "content" {
		t.Errorf("expected content unchanged, got %q", fetched.Content)
	}
}
