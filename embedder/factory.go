package embedder

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Config holds provider configuration. Zero-valued fields fall back to
// provider defaults.
type Config struct {
	Provider   string // "openai" or "ollama"; empty means unconfigured
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int // 0 = probe on first call
	CacheSize  int // in-process LRU entries; 0 = default
}

// New creates a configured provider wrapped in the in-process cache.
// An empty Provider field returns ErrNoProvider: embeddings are opt-in
// and never auto-detected, so a misconfigured key can't silently select
// a paid backend. When Dimensions is zero the width is probed with one
// throwaway call so mismatched vectors are caught at startup rather
// than at search time.
func New(ctx context.Context, cfg Config) (Provider, error) {
	var p Provider
	switch strings.ToLower(cfg.Provider) {
	case "":
		return nil, ErrNoProvider
	case ProviderOpenAI:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		p = NewOpenAIProvider(cfg.BaseURL, apiKey, cfg.Model, cfg.Dimensions)
	case ProviderOllama:
		p = NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNoProvider, cfg.Provider)
	}

	if cfg.Dimensions == 0 {
		if _, err := p.Embed(ctx, "dimension probe"); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("%w: %s probe failed: %v", ErrNoProvider, cfg.Provider, err)
		}
	}

	return WithCache(p, NewCache(cfg.CacheSize)), nil
}
