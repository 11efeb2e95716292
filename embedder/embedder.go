package embedder

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/notewell/noteindex/chunker"
)

// Common errors
var (
	ErrNoProvider     = errors.New("no embedding provider configured")
	ErrEmptyText      = errors.New("text cannot be empty")
	ErrBatchTooLarge  = errors.New("batch size exceeds limit")
	ErrProviderFailed = errors.New("embedding provider failed")
)

// Batch limits
const (
	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

// Provider generates embeddings for text. Implementations are safe for
// concurrent use.
type Provider interface {
	// Embed generates one embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result is
	// positionally aligned with texts regardless of the order the
	// backend answers in.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width for this provider/model.
	Dimensions() int

	// Name returns the provider name ("openai", "ollama").
	Name() string

	// Model returns the model identifier.
	Model() string

	// Close releases resources held by the provider.
	Close() error
}

// Cache is an in-process LRU of embeddings keyed by content hash. It
// sits in front of a Provider and is independent of the on-disk
// embedding cache the index keeps.
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// DefaultCacheSize bounds the in-process cache when the caller doesn't.
const DefaultCacheSize = 10000

// NewCache creates an embedding cache with LRU eviction.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](DefaultCacheSize)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of the cached vector so caller mutations can't
// poison the cache.
func (c *Cache) Get(hash string) ([]float32, bool) {
	v, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a vector under a content hash.
func (c *Cache) Set(hash string, v []float32) {
	c.cache.Add(hash, v)
}

// Len returns the current cache size.
func (c *Cache) Len() int {
	return c.cache.Len()
}

// cachingProvider wraps a Provider with hash-keyed LRU lookups.
type cachingProvider struct {
	Provider
	cache *Cache
}

// WithCache wraps p so repeated texts are served from memory.
func WithCache(p Provider, cache *Cache) Provider {
	if cache == nil {
		return p
	}
	return &cachingProvider{Provider: p, cache: cache}
}

func (cp *cachingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	hash := chunker.HashContent(text)
	if v, ok := cp.cache.Get(hash); ok {
		return v, nil
	}
	v, err := cp.Provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	cp.cache.Set(hash, v)
	return v, nil
}

func (cp *cachingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missing := make([]string, 0, len(texts))
	missingIdx := make([]int, 0, len(texts))
	for i, t := range texts {
		if v, ok := cp.cache.Get(chunker.HashContent(t)); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := cp.Provider.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		out[missingIdx[j]] = v
		cp.cache.Set(chunker.HashContent(missing[j]), v)
	}
	return out, nil
}

// validateBatch rejects empty batches and empty members before any
// network round trip.
func validateBatch(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrEmptyText)
	}
	for i, t := range texts {
		if t == "" {
			return fmt.Errorf("%w: text at index %d", ErrEmptyText, i)
		}
	}
	return nil
}

// splitBatches cuts texts into provider-sized slices.
func splitBatches(texts []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]string
	for len(texts) > size {
		out = append(out, texts[:size])
		texts = texts[size:]
	}
	return append(out, texts)
}
