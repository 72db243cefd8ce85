// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const localDimension = 384

// LocalEmbedder is the deterministic fallback generator: no network
// call, fixed 384-dimension output, used whenever a cloud provider is
// requested but no API key is configured. Per spec.md 4.5 this is the
// only silent substitution in the system, and callers are expected to
// log the fallback at the call site.
type LocalEmbedder struct{}

// NewLocalEmbedder creates the deterministic local fallback embedder.
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{}
}

// Dimension returns the fixed local embedding dimension.
func (e *LocalEmbedder) Dimension() int {
	return localDimension
}

// EmbedText deterministically hashes the first 50 whitespace-separated
// tokens into buckets, adds bigram features at half weight, writes
// character/word counts into slots 0 and 1, and L2-normalizes.
func (e *LocalEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return localEmbed(text), nil
}

// EmbedBatch embeds each text independently; the local generator has
// no batch API to exploit.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = localEmbed(text)
	}
	return result, nil
}

func localEmbed(text string) []float32 {
	vec := make([]float64, localDimension)

	words := strings.Fields(text)
	wordCount := len(words)
	weight := 1.0 / float64(wordCount+1)

	tokenCount := wordCount
	if tokenCount > 50 {
		tokenCount = 50
	}
	tokens := words[:tokenCount]

	for _, tok := range tokens {
		bucket := hashBucket(tok, localDimension)
		vec[bucket] += weight
	}

	for i := 0; i+1 < len(tokens); i++ {
		bigram := tokens[i] + " " + tokens[i+1]
		bucket := hashBucket(bigram, localDimension)
		vec[bucket] += weight * 0.5
	}

	vec[0] = float64(len(text)) / 1000.0
	vec[1] = float64(wordCount)

	return l2Normalize(vec)
}

func hashBucket(s string, mod int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32()) % mod
}

func l2Normalize(vec []float64) []float32 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += v * v
	}
	norm := math.Sqrt(sumSquares)

	out := make([]float32, len(vec))
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
