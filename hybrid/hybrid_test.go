package hybrid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextScore(t *testing.T) {
	assert.Equal(t, 0.0, TextScore(0))
	assert.Equal(t, 0.5, TextScore(-1))
	assert.InDelta(t, 0.8, TextScore(-4), 1e-9)
	// Positive ranks (never produced by FTS5) clamp to zero.
	assert.Equal(t, 0.0, TextScore(4.2))
	assert.Less(t, TextScore(-100), 1.0)
}

func TestTextScore_StrongerMatchScoresHigher(t *testing.T) {
	// bm25 ranks strengthen toward negative infinity; the score must
	// rise with them, preserving bm25 ordering inside the merge.
	prev := TextScore(0)
	for rank := -0.5; rank > -20; rank -= 0.5 {
		cur := TextScore(rank)
		assert.Greater(t, cur, prev, "rank %v", rank)
		prev = cur
	}
}

func TestMerge_BothChannels(t *testing.T) {
	keyword := []KeywordHit{
		{Key: "a", Rank: -4},
		{Key: "b", Rank: -1},
	}
	vector := []VectorHit{
		{Key: "a", Similarity: 0.9},
		{Key: "c", Similarity: 0.95},
	}

	results := Merge(keyword, vector, DefaultWeights(), 10)
	require.Len(t, results, 3)

	byKey := map[string]Result{}
	for _, r := range results {
		byKey[r.Key] = r
	}
	// a: 0.7*0.9 + 0.3*0.8 = 0.87
	assert.InDelta(t, 0.87, byKey["a"].Score, 1e-9)
	// c: vector only, 0.7*0.95 = 0.665
	assert.InDelta(t, 0.665, byKey["c"].Score, 1e-9)
	assert.Zero(t, byKey["c"].TextScore)
	// b: keyword only, 0.3*0.5 = 0.15
	assert.InDelta(t, 0.15, byKey["b"].Score, 1e-9)
	assert.Zero(t, byKey["b"].VectorScore)

	// Sorted descending.
	assert.Equal(t, "a", results[0].Key)
	assert.Equal(t, "c", results[1].Key)
	assert.Equal(t, "b", results[2].Key)
}

func TestMerge_KeywordOnlyPreservesBM25Order(t *testing.T) {
	keyword := []KeywordHit{
		{Key: "worse", Rank: -0.5},
		{Key: "better", Rank: -3},
	}
	results := Merge(keyword, nil, DefaultWeights(), 10)
	require.Len(t, results, 2)
	assert.Equal(t, "better", results[0].Key)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestMerge_LimitAndTieBreak(t *testing.T) {
	vector := []VectorHit{
		{Key: "z", Similarity: 0.5},
		{Key: "a", Similarity: 0.5},
		{Key: "m", Similarity: 0.5},
	}
	results := Merge(nil, vector, DefaultWeights(), 2)
	require.Len(t, results, 2)
	// Equal scores break ties by key for deterministic output.
	assert.Equal(t, "a", results[0].Key)
	assert.Equal(t, "m", results[1].Key)
}

func TestMerge_VectorWeightRaisesVectorFavoredResult(t *testing.T) {
	// "semantic" is loved by the vector channel, "literal" by keyword.
	keyword := []KeywordHit{
		{Key: "literal", Rank: -9},
		{Key: "semantic", Rank: -0.2},
	}
	vector := []VectorHit{
		{Key: "literal", Similarity: 0.2},
		{Key: "semantic", Similarity: 0.99},
	}

	textHeavy := Merge(keyword, vector, Weights{Vector: 0.2, Text: 0.8}, 10)
	assert.Equal(t, "literal", textHeavy[0].Key)

	vectorHeavy := Merge(keyword, vector, Weights{Vector: 0.8, Text: 0.2}, 10)
	assert.Equal(t, "semantic", vectorHeavy[0].Key)

	// Shifting weight toward the vector channel never lowers the score
	// of the vector-favored candidate.
	prev := -1.0
	for vw := 0.0; vw <= 1.0; vw += 0.1 {
		results := Merge(keyword, vector, Weights{Vector: vw, Text: 1 - vw}, 10)
		for _, r := range results {
			if r.Key == "semantic" {
				assert.GreaterOrEqual(t, r.Score, prev)
				prev = r.Score
			}
		}
	}
}

func TestMerge_Empty(t *testing.T) {
	assert.Empty(t, Merge(nil, nil, DefaultWeights(), 5))
}

func TestPoolLimit(t *testing.T) {
	assert.Equal(t, 40, PoolLimit(10))
	assert.Equal(t, 40, PoolLimit(0))
	assert.Equal(t, 12, PoolLimit(3))
}
