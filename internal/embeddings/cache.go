// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/redis/go-redis/v9"
)

// CachingEmbedder memoizes embeddings by content hash in Redis before
// delegating to an underlying generator. This is an optimization only:
// every embedder still works correctly with Redis absent, in which
// case CachingEmbedder degrades to always calling through.
type CachingEmbedder struct {
	inner  Embedder
	client *redis.Client
	prefix string
}

// NewCachingEmbedder wraps inner with a Redis-backed memo. client may
// be nil, in which case the cache is a no-op passthrough.
func NewCachingEmbedder(inner Embedder, client *redis.Client, providerTag string) *CachingEmbedder {
	return &CachingEmbedder{inner: inner, client: client, prefix: "stellar:embed:" + providerTag + ":"}
}

func (c *CachingEmbedder) Dimension() int {
	return c.inner.Dimension()
}

func (c *CachingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if c.client == nil {
		return c.inner.EmbedText(ctx, text)
	}

	key := c.cacheKey(text)
	if cached, ok := c.lookup(ctx, key); ok {
		return cached, nil
	}

	vector, err := c.inner.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, vector)
	return vector, nil
}

func (c *CachingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.client == nil {
		return c.inner.EmbedBatch(ctx, texts)
	}

	result := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := c.cacheKey(text)
		if cached, ok := c.lookup(ctx, key); ok {
			result[i] = cached
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for i, idx := range missIdx {
		result[idx] = embedded[i]
		c.store(ctx, c.cacheKey(missTexts[i]), embedded[i])
	}

	return result, nil
}

func (c *CachingEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *CachingEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return deserializeFloat32(raw), true
}

func (c *CachingEmbedder) store(ctx context.Context, key string, vector []float32) {
	// Best-effort: cache write failures never affect the embedding result.
	c.client.Set(ctx, key, serializeFloat32(vector), 0)
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
