// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package embeddings

import (
	"context"
	"testing"
)

func TestLocalEmbedder_Dimension(t *testing.T) {
	e := NewLocalEmbedder()
	if e.Dimension() != 384 {
		t.Errorf("expected dimension 384, got %d", e.Dimension())
	}
}

func TestLocalEmbedder_Deterministic(t *testing.T) {
	e := NewLocalEmbedder()
	ctx := context.Background()

	a, err := e.EmbedText(ctx, "the quick brown fox jumps over the lazy dog")
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}
	b, err := e.EmbedText(ctx, "the quick brown fox jumps over the lazy dog")
	if err != nil {
		t.Fatalf("EmbedText failed: %v", err)
	}

	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embed(t) not byte-for-byte stable at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestLocalEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := NewLocalEmbedder()
	ctx := context.Background()

	a, _ := e.EmbedText(ctx, "alpha beta gamma")
	b, _ := e.EmbedText(ctx, "completely different content entirely")

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Errorf("expected distinct embeddings for distinct inputs")
	}
}

func TestLocalEmbedder_EmptyTextIsSafe(t *testing.T) {
	e := NewLocalEmbedder()
	vec, err := e.EmbedText(context.Background(), "")
	if err != nil {
		t.Fatalf("EmbedText failed on empty text: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("expected dimension 384 for empty text, got %d", len(vec))
	}
}

func TestLocalEmbedder_BatchMatchesIndividual(t *testing.T) {
	e := NewLocalEmbedder()
	ctx := context.Background()
	texts := []string{"first text", "second text", "third text"}

	batch, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}

	for i, text := range texts {
		single, _ := e.EmbedText(ctx, text)
		for j := range single {
			if single[j] != batch[i][j] {
				t.Errorf("batch[%d] diverges from individual embed at dim %d", i, j)
			}
		}
	}
}
