// Package dedup flags duplicate note content before it is stored. The
// check is layered from cheap to expensive: an exact content-hash
// lookup, then cosine similarity against cached chunk embeddings, then
// a keyword estimate when no embeddings are usable. Near matches are
// tagged and reported rather than blocking the write; only a
// byte-identical file is treated as a hard duplicate by default.
package dedup

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/notewell/noteindex/chunker"
	"github.com/notewell/noteindex/embedder"
	"github.com/notewell/noteindex/index"
	"github.com/notewell/noteindex/types"
)

// Config tunes the duplicate check.
type Config struct {
	// ExactHashSkip short-circuits on a byte-identical indexed file.
	ExactHashSkip bool

	// SemanticThreshold is the cosine similarity above which a chunk
	// counts as a near duplicate.
	SemanticThreshold float64

	// TagAndDefer reports near duplicates without marking the result a
	// duplicate; the host decides. When false, a near duplicate at or
	// above the threshold marks the result.
	TagAndDefer bool

	// PrefixChars bounds how much of the candidate content is embedded
	// for the similarity check.
	PrefixChars int

	// FTSLimit bounds the keyword fallback candidate pool.
	FTSLimit int
}

// DefaultConfig returns the tuning the host ships with.
func DefaultConfig() Config {
	return Config{
		ExactHashSkip:     true,
		SemanticThreshold: 0.90,
		TagAndDefer:       true,
		PrefixChars:       2000,
		FTSLimit:          5,
	}
}

// ftsThresholdScale discounts the semantic threshold for the keyword
// fallback, whose score is a rougher estimate than cosine similarity.
const ftsThresholdScale = 0.85

// Engine runs the layered duplicate check against one index. The
// provider is optional; without one the keyword fallback carries the
// similarity layer.
type Engine struct {
	cfg      Config
	idx      *index.Index
	provider embedder.Provider
	log      *slog.Logger
}

// New creates an Engine. provider may be nil.
func New(cfg Config, idx *index.Index, provider embedder.Provider, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SemanticThreshold <= 0 {
		cfg.SemanticThreshold = DefaultConfig().SemanticThreshold
	}
	if cfg.PrefixChars <= 0 {
		cfg.PrefixChars = DefaultConfig().PrefixChars
	}
	if cfg.FTSLimit <= 0 {
		cfg.FTSLimit = DefaultConfig().FTSLimit
	}
	return &Engine{cfg: cfg, idx: idx, provider: provider, log: log}
}

// CheckDuplicate examines candidate content against the index. An exact
// hash match returns immediately with the matched file and no near
// duplicates. Otherwise cached embeddings are compared; when those are
// unavailable a keyword search estimates similarity instead. The check
// never fails the caller's write path: internal errors degrade to an
// empty result.
func (e *Engine) CheckDuplicate(ctx context.Context, content string) (*types.DedupResult, error) {
	result := &types.DedupResult{}
	if strings.TrimSpace(content) == "" {
		return result, nil
	}

	if e.cfg.ExactHashSkip {
		hash := chunker.HashContent(content)
		match, err := e.idx.GetFileByHash(ctx, hash)
		if err == nil {
			result.IsDuplicate = true
			result.ExactMatch = match
			return result, nil
		}
		if err != index.ErrNotFound {
			return nil, err
		}
	}

	near := e.vectorLayer(ctx, content)
	if len(near) == 0 {
		near = e.keywordLayer(ctx, content)
	}

	sort.Slice(near, func(i, j int) bool {
		if near[i].Similarity != near[j].Similarity {
			return near[i].Similarity > near[j].Similarity
		}
		return near[i].Path < near[j].Path
	})
	result.NearDuplicates = near

	if !e.cfg.TagAndDefer {
		for _, n := range near {
			if n.Similarity >= e.cfg.SemanticThreshold {
				result.IsDuplicate = true
				break
			}
		}
	}
	return result, nil
}

// vectorLayer compares the candidate's embedding against every cached
// chunk vector, keeping the best hit per file. Unavailability (no
// provider, a failed embed, a cold cache) yields nil so the keyword
// fallback takes over.
func (e *Engine) vectorLayer(ctx context.Context, content string) []types.NearDuplicate {
	if e.provider == nil {
		return nil
	}

	prefix := content
	if len(prefix) > e.cfg.PrefixChars {
		prefix = prefix[:e.cfg.PrefixChars]
	}

	queryVec, err := e.provider.Embed(ctx, prefix)
	if err != nil {
		e.log.Warn("dedup embedding failed, falling back to keyword estimate", "error", err)
		return nil
	}

	cached, err := e.idx.GetEmbeddings(ctx, e.provider.Name(), e.provider.Model())
	if err != nil {
		e.log.Warn("dedup embedding lookup failed, falling back to keyword estimate", "error", err)
		return nil
	}
	if len(cached) == 0 {
		return nil
	}

	type fileKey struct{ path, scope string }
	best := make(map[fileKey]float64)
	for _, ce := range cached {
		if len(ce.Vector) != len(queryVec) {
			// Stale entry from a different model width.
			continue
		}
		sim := embedder.CosineSimilarity(queryVec, ce.Vector)
		key := fileKey{ce.Path, ce.Scope}
		if sim > best[key] {
			best[key] = sim
		}
	}

	near := make([]types.NearDuplicate, 0)
	for key, sim := range best {
		if sim >= e.cfg.SemanticThreshold {
			near = append(near, types.NearDuplicate{
				Path:       key.path,
				Scope:      key.scope,
				Similarity: sim,
				Method:     types.MethodVector,
			})
		}
	}
	return near
}

// keywordLayer estimates similarity from a keyword search over an
// excerpt of the candidate. The search only supplies recall; the
// similarity estimate is the share of candidate tokens present in the
// hit's content, so incidental one-word overlaps score low while a
// lightly reworded copy scores near 1. The threshold is discounted
// because the estimate is rougher than cosine similarity.
func (e *Engine) keywordLayer(ctx context.Context, content string) []types.NearDuplicate {
	query := excerptQuery(content)
	if query == "" {
		return nil
	}

	hits, err := e.idx.SearchFTS(ctx, query, e.cfg.FTSLimit, nil)
	if err != nil {
		e.log.Warn("dedup keyword fallback failed", "error", err)
		return nil
	}

	candidate := tokenSet(query)
	if len(candidate) == 0 {
		return nil
	}

	threshold := e.cfg.SemanticThreshold * ftsThresholdScale
	type fileKey struct{ path, scope string }
	best := make(map[fileKey]float64)
	for _, h := range hits {
		est := tokenContainment(candidate, tokenSet(h.Content))
		key := fileKey{h.Path, h.Scope}
		if est > best[key] {
			best[key] = est
		}
	}

	near := make([]types.NearDuplicate, 0)
	for key, est := range best {
		if est >= threshold {
			near = append(near, types.NearDuplicate{
				Path:       key.path,
				Scope:      key.scope,
				Similarity: est,
				Method:     types.MethodFTS,
			})
		}
	}
	return near
}

// tokenSet lowercases text and collects its distinct tokens of at
// least two characters, mirroring the keyword index's sanitization.
func tokenSet(text string) map[string]bool {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)

	set := make(map[string]bool)
	for _, tok := range strings.Fields(cleaned) {
		if len([]rune(tok)) < 2 {
			continue
		}
		set[tok] = true
	}
	return set
}

// tokenContainment returns the share of candidate tokens found in the
// other set.
func tokenContainment(candidate, other map[string]bool) float64 {
	if len(candidate) == 0 {
		return 0
	}
	found := 0
	for tok := range candidate {
		if other[tok] {
			found++
		}
	}
	return float64(found) / float64(len(candidate))
}

// excerptQueryChars bounds the excerpt fed to the keyword fallback.
const excerptQueryChars = 200

// excerptQuery builds the fallback search text: the first non-blank
// line plus the opening of the body, punctuation stripped.
func excerptQuery(content string) string {
	var firstLine string
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			firstLine = trimmed
			break
		}
	}

	excerpt := content
	if len(excerpt) > excerptQueryChars {
		excerpt = excerpt[:excerptQueryChars]
	}

	combined := firstLine + " " + excerpt
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, combined))
}
