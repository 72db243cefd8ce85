// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package vectorindex

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "embeddings.db")
	idx, err := Open(path, 4, "local", Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestUpsertRejectsMismatchedVectorLength(t *testing.T) {
	idx := openTestIndex(t)
	err := idx.Upsert(context.Background(), []Row{
		{ChunkID: "c1", DocumentID: "d1", ChunkText: "hello", ChunkIndex: 0, Vector: []float32{1, 2}},
	})
	if err == nil {
		t.Fatal("expected error for mismatched vector length, got nil")
	}
}

func TestDeleteThenSearchReturnsZeroRows(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Row{
		{ChunkID: "c1", DocumentID: "d1", ChunkText: "hello", ChunkIndex: 0, Vector: []float32{1, 0, 0, 0}},
		{ChunkID: "c2", DocumentID: "d1", ChunkText: "world", ChunkIndex: 1, Vector: []float32{0, 1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	n, err := idx.Delete(ctx, "d1")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows deleted, got %d", n)
	}

	matches, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected zero matches after delete, got %d", len(matches))
	}
}

func TestSearchOrdersByDescendingCosineSimilarity(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Row{
		{ChunkID: "exact", DocumentID: "d1", ChunkText: "exact match", ChunkIndex: 0, Vector: []float32{1, 0, 0, 0}},
		{ChunkID: "orthogonal", DocumentID: "d1", ChunkText: "orthogonal", ChunkIndex: 1, Vector: []float32{0, 1, 0, 0}},
		{ChunkID: "close", DocumentID: "d1", ChunkText: "close match", ChunkIndex: 2, Vector: []float32{0.9, 0.1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].ChunkID != "exact" {
		t.Errorf("expected exact match first, got %s", matches[0].ChunkID)
	}
	if matches[1].ChunkID != "close" {
		t.Errorf("expected close match second, got %s", matches[1].ChunkID)
	}
	for i := 0; i+1 < len(matches); i++ {
		if matches[i].Score < matches[i+1].Score {
			t.Errorf("scores not in descending order at index %d: %f < %f", i, matches[i].Score, matches[i+1].Score)
		}
	}
}

func TestSearchTieBreaksByDocumentIDThenChunkIndex(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Row{
		{ChunkID: "b2", DocumentID: "docB", ChunkText: "b2", ChunkIndex: 2, Vector: []float32{1, 0, 0, 0}},
		{ChunkID: "a0", DocumentID: "docA", ChunkText: "a0", ChunkIndex: 0, Vector: []float32{1, 0, 0, 0}},
		{ChunkID: "a1", DocumentID: "docA", ChunkText: "a1", ChunkIndex: 1, Vector: []float32{1, 0, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	want := []string{"a0", "a1", "b2"}
	for i, id := range want {
		if matches[i].ChunkID != id {
			t.Errorf("expected %s at position %d, got %s", id, i, matches[i].ChunkID)
		}
	}
}

func TestSearchRespectsDocumentFilter(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Row{
		{ChunkID: "a", DocumentID: "docA", ChunkText: "a", ChunkIndex: 0, Vector: []float32{1, 0, 0, 0}},
		{ChunkID: "b", DocumentID: "docB", ChunkText: "b", ChunkIndex: 0, Vector: []float32{1, 0, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	matches, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, []string{"docA"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].DocumentID != "docA" {
		t.Errorf("expected only docA's chunk, got %+v", matches)
	}
}

func TestStatsCountsChunksAndDocuments(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Row{
		{ChunkID: "a0", DocumentID: "docA", ChunkText: "a0", ChunkIndex: 0, Vector: []float32{1, 0, 0, 0}},
		{ChunkID: "a1", DocumentID: "docA", ChunkText: "a1", ChunkIndex: 1, Vector: []float32{0, 1, 0, 0}},
		{ChunkID: "b0", DocumentID: "docB", ChunkText: "b0", ChunkIndex: 0, Vector: []float32{0, 0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	stats, err := idx.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.ChunkCount != 3 {
		t.Errorf("expected 3 chunks, got %d", stats.ChunkCount)
	}
	if stats.DocumentCount != 2 {
		t.Errorf("expected 2 documents, got %d", stats.DocumentCount)
	}
	if stats.Dimensions != 4 {
		t.Errorf("expected dimension 4, got %d", stats.Dimensions)
	}
}

func TestGetDocumentInfoMissingReturnsNil(t *testing.T) {
	idx := openTestIndex(t)
	info, err := idx.GetDocumentInfo(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetDocumentInfo failed: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil for missing document, got %+v", info)
	}
}

func TestCandidateCapInvokesTruncationCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.db")
	var truncatedLoaded, truncatedTotal int
	idx, err := Open(path, 4, "local", Options{
		CandidateCap: 1,
		OnCapTruncated: func(loaded, total int) {
			truncatedLoaded, truncatedTotal = loaded, total
		},
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	err = idx.Upsert(ctx, []Row{
		{ChunkID: "a", DocumentID: "docA", ChunkText: "a", ChunkIndex: 0, Vector: []float32{1, 0, 0, 0}},
		{ChunkID: "b", DocumentID: "docB", ChunkText: "b", ChunkIndex: 0, Vector: []float32{0, 1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if _, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 10, nil); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if truncatedTotal != 2 || truncatedLoaded != 1 {
		t.Errorf("expected truncation callback (1, 2), got (%d, %d)", truncatedLoaded, truncatedTotal)
	}
}
