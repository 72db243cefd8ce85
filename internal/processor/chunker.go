// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package processor splits extracted Markdown into overlapping,
// size-bounded chunks suitable for embedding.
package processor

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Chunk is the unit of retrieval produced from a document.
type Chunk struct {
	ID         string
	DocumentID string
	Content    string
	ChunkIndex int
	Metadata   map[string]string
	CreatedAt  time.Time
}

// Chunker splits Markdown on paragraph boundaries, accumulating an
// overlap-prefix-seeded running buffer. Defaults match spec.md 4.3:
// 1000 char chunks, 200 char overlap, 100 char minimum.
type Chunker struct {
	maxChunkSize int
	overlap      int
	minChunkSize int
}

// NewChunker creates a chunker with the spec's default parameters.
func NewChunker() *Chunker {
	return &Chunker{
		maxChunkSize: 1000,
		overlap:      200,
		minChunkSize: 100,
	}
}

// NewChunkerWithParams creates a chunker with explicit parameters.
func NewChunkerWithParams(maxChunkSize, overlap, minChunkSize int) *Chunker {
	return &Chunker{
		maxChunkSize: maxChunkSize,
		overlap:      overlap,
		minChunkSize: minChunkSize,
	}
}

// ChunkDocument splits content into Chunks, each carrying metadata
// verbatim and a dense 0-based index.
func (c *Chunker) ChunkDocument(documentID, content string, metadata map[string]string) []Chunk {
	paragraphs := splitParagraphs(content)

	var chunks []Chunk
	var buffer strings.Builder

	emit := func() {
		text := strings.TrimSpace(buffer.String())
		if len(text) >= c.minChunkSize {
			chunks = append(chunks, Chunk{
				ID:         uuid.NewString(),
				DocumentID: documentID,
				Content:    text,
				ChunkIndex: len(chunks),
				Metadata:   metadata,
				CreatedAt:  time.Now().UTC(),
			})
		}
		buffer.Reset()
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		candidateLen := buffer.Len()
		if candidateLen > 0 {
			candidateLen += 2 // blank-line separator
		}
		candidateLen += len(para)

		if buffer.Len() > 0 && candidateLen > c.maxChunkSize {
			prefix := overlapPrefix(buffer.String(), c.overlap)
			emit()
			if prefix != "" {
				buffer.WriteString(prefix)
				buffer.WriteString("\n\n")
			}
		}

		if buffer.Len() > 0 {
			buffer.WriteString("\n\n")
		}
		buffer.WriteString(para)
	}

	emit()

	if len(chunks) == 0 && strings.TrimSpace(content) != "" {
		chunks = append(chunks, Chunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			Content:    strings.TrimSpace(content),
			ChunkIndex: 0,
			Metadata:   metadata,
			CreatedAt:  time.Now().UTC(),
		})
	}

	return chunks
}

// splitParagraphs splits on blank-line boundaries.
func splitParagraphs(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	raw := strings.Split(normalized, "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// overlapPrefix returns approximately the last overlap/10 words of
// buffer, per spec.md 4.3's overlap-prefix seeding rule.
func overlapPrefix(buffer string, overlap int) string {
	wantWords := overlap / 10
	if wantWords <= 0 {
		return ""
	}

	words := strings.Fields(buffer)
	if len(words) == 0 {
		return ""
	}
	if wantWords > len(words) {
		wantWords = len(words)
	}

	return strings.Join(words[len(words)-wantWords:], " ")
}
