// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package processor

import (
	"strings"
	"testing"
)

func TestChunkDocument_ShortText(t *testing.T) {
	chunker := NewChunker()
	text := "This is a short paragraph that should not be split because it fits in one chunk."

	chunks := chunker.ChunkDocument("doc-1", text, nil)

	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk for short text, got %d", len(chunks))
	}
	if chunks[0].Content != text {
		t.Errorf("Chunk content mismatch. Expected: %q, Got: %q", text, chunks[0].Content)
	}
	if chunks[0].ChunkIndex != 0 {
		t.Errorf("Expected chunk index 0, got %d", chunks[0].ChunkIndex)
	}
}

func TestChunkDocument_LongTextProducesMultipleChunks(t *testing.T) {
	chunker := NewChunker()
	paragraph := "This is a sample paragraph with several words in it for bulk. "
	var paragraphs []string
	for i := 0; i < 40; i++ {
		paragraphs = append(paragraphs, strings.Repeat(paragraph, 3))
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := chunker.ChunkDocument("doc-1", text, nil)

	if len(chunks) < 2 {
		t.Fatalf("Expected at least 2 chunks for long text, got %d", len(chunks))
	}
}

func TestChunkDocument_DenseIndices(t *testing.T) {
	chunker := NewChunker()
	paragraph := strings.Repeat("word ", 60)
	text := strings.Repeat(paragraph+"\n\n", 30)

	chunks := chunker.ChunkDocument("doc-1", text, nil)

	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("Expected chunk index %d, got %d", i, c.ChunkIndex)
		}
	}
}

func TestChunkDocument_Overlap(t *testing.T) {
	chunker := NewChunker()
	part1 := strings.Repeat("alpha ", 200)
	part2 := strings.Repeat("beta ", 200)
	part3 := strings.Repeat("gamma ", 200)
	text := part1 + "\n\n" + part2 + "\n\n" + part3

	chunks := chunker.ChunkDocument("doc-1", text, nil)
	if len(chunks) < 2 {
		t.Fatalf("Need at least 2 chunks to test overlap, got %d", len(chunks))
	}

	// The overlap prefix seeded into chunk[i+1] should reuse trailing
	// words from chunk[i].
	for i := 0; i < len(chunks)-1; i++ {
		firstWords := strings.Fields(chunks[i].Content)
		nextWords := strings.Fields(chunks[i+1].Content)
		if len(firstWords) == 0 || len(nextWords) == 0 {
			continue
		}
		if firstWords[len(firstWords)-1] != nextWords[0] {
			t.Errorf("chunk %d ends %q, chunk %d starts %q; expected the overlap prefix to repeat trailing words", i, firstWords[len(firstWords)-1], i+1, nextWords[0])
		}
	}
}

func TestChunkDocument_EmptyText(t *testing.T) {
	chunker := NewChunker()
	chunks := chunker.ChunkDocument("doc-1", "", nil)

	if len(chunks) != 0 {
		t.Errorf("Expected 0 chunks for empty text, got %d", len(chunks))
	}
}

func TestChunkDocument_MetadataCarriedVerbatim(t *testing.T) {
	chunker := NewChunker()
	metadata := map[string]string{"source": "a.pdf"}
	chunks := chunker.ChunkDocument("doc-1", "Some short paragraph of reasonable length for a single chunk.", metadata)

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Metadata["source"] != "a.pdf" {
		t.Errorf("expected metadata carried verbatim, got %+v", chunks[0].Metadata)
	}
}

func TestChunkDocument_DeterministicBoundaries(t *testing.T) {
	chunker := NewChunker()
	paragraph := strings.Repeat("reliable deterministic words here ", 40)
	text := strings.Repeat(paragraph+"\n\n", 10)

	first := chunker.ChunkDocument("doc-1", text, nil)
	second := chunker.ChunkDocument("doc-1", text, nil)

	if len(first) != len(second) {
		t.Fatalf("expected same number of chunks across runs, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Content != second[i].Content {
			t.Errorf("chunk %d boundary differs across runs", i)
		}
	}
}

func TestChunkDocument_ShortDocumentBelowMinStillEmitsOne(t *testing.T) {
	chunker := NewChunker()
	text := "Tiny."

	chunks := chunker.ChunkDocument("doc-1", text, nil)
	if len(chunks) != 1 {
		t.Fatalf("expected exactly 1 chunk for a short non-empty document, got %d", len(chunks))
	}
}
