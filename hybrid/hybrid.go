// Package hybrid merges keyword and vector retrieval into one ranked
// result list. The merge is a weighted sum over normalized per-channel
// scores; a candidate found by only one channel simply contributes zero
// on the other side, so partial coverage (a cold embedding cache, a
// provider outage) degrades ranking quality instead of dropping hits.
package hybrid

import (
	"math"
	"sort"
)

// Weights splits the merged score between the two channels. They are
// expected to sum to 1.
type Weights struct {
	Vector float64
	Text   float64
}

// DefaultWeights favors semantic similarity while keeping exact keyword
// matches influential.
func DefaultWeights() Weights {
	return Weights{Vector: 0.7, Text: 0.3}
}

// DefaultPoolMultiplier sizes the per-channel candidate pool relative to
// the requested result count. Oversampling lets a candidate ranked low
// by one channel be rescued by the other before the final cut.
const DefaultPoolMultiplier = 4

// PoolLimit returns the per-channel candidate count for a requested
// result count.
func PoolLimit(limit int) int {
	if limit <= 0 {
		limit = 10
	}
	return limit * DefaultPoolMultiplier
}

// KeywordHit is one candidate from the keyword channel. Rank is the
// raw bm25 rank where lower is better.
type KeywordHit struct {
	Key  string
	Rank float64
}

// VectorHit is one candidate from the vector channel. Similarity is
// cosine similarity where higher is better.
type VectorHit struct {
	Key        string
	Similarity float64
}

// Result is one merged candidate with its combined and per-channel
// scores.
type Result struct {
	Key         string
	Score       float64
	TextScore   float64
	VectorScore float64
}

// TextScore maps a bm25 rank onto [0, 1), higher is better. FTS5
// returns ranks at or below zero with stronger matches more negative,
// so the magnitude drives a saturating curve: rank 0 scores 0, rank -1
// scores 0.5, and the score approaches 1 as matches strengthen.
// Positive ranks clamp to zero.
func TextScore(rank float64) float64 {
	m := math.Max(0, -rank)
	return m / (1.0 + m)
}

// Merge combines the two candidate pools and returns at most limit
// results sorted by descending combined score, ties broken by key for
// deterministic output.
func Merge(keyword []KeywordHit, vector []VectorHit, w Weights, limit int) []Result {
	if limit <= 0 {
		limit = 10
	}

	byKey := make(map[string]*Result, len(keyword)+len(vector))
	for _, h := range keyword {
		r := byKey[h.Key]
		if r == nil {
			r = &Result{Key: h.Key}
			byKey[h.Key] = r
		}
		r.TextScore = TextScore(h.Rank)
	}
	for _, h := range vector {
		r := byKey[h.Key]
		if r == nil {
			r = &Result{Key: h.Key}
			byKey[h.Key] = r
		}
		r.VectorScore = h.Similarity
	}

	merged := make([]Result, 0, len(byKey))
	for _, r := range byKey {
		r.Score = w.Vector*r.VectorScore + w.Text*r.TextScore
		merged = append(merged, *r)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Key < merged[j].Key
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
