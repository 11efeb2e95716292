package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingCache_RoundTrip(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "a.md", "vectors are cached by content hash\n")
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	chunks, err := ix.ListChunks(ctx, "a.md", "personal")
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	vec := []float32{0.1, -0.5, 2.25}
	require.NoError(t, ix.CacheEmbedding(ctx, "openai", "small", chunks[0].ContentHash, vec))

	embs, err := ix.GetEmbeddings(ctx, "openai", "small")
	require.NoError(t, err)
	require.Len(t, embs, 1)
	assert.Equal(t, chunks[0].ID, embs[0].ChunkID)
	assert.Equal(t, vec, embs[0].Vector)

	// A different provider/model pair sees nothing.
	embs, err = ix.GetEmbeddings(ctx, "ollama", "nomic")
	require.NoError(t, err)
	assert.Empty(t, embs)
}

func TestEmbeddingCache_SurvivesReindexOfIdenticalContent(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	content := "this exact text gets re-indexed without changing\n"
	env.write(t, "a.md", content)
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	chunks, err := ix.ListChunks(ctx, "a.md", "personal")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.NoError(t, ix.CacheEmbedding(ctx, "openai", "small", chunks[0].ContentHash, []float32{1, 2}))

	// Moving the text to a new file re-chunks it, but the cache entry is
	// keyed by content hash and keeps serving the new chunk.
	env.remove(t, "a.md")
	env.write(t, "b.md", content)
	_, err = ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	embs, err := ix.GetEmbeddings(ctx, "openai", "small")
	require.NoError(t, err)
	require.Len(t, embs, 1)
	assert.Equal(t, "b.md", embs[0].Path)

	missing, err := ix.GetChunksWithoutEmbeddings(ctx, "openai", "small", 0)
	require.NoError(t, err)
	assert.Empty(t, missing, "identical content must not need re-embedding")
}

func TestCacheEmbedding_Upsert(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "a.md", "note whose vector gets replaced\n")
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	chunks, err := ix.ListChunks(ctx, "a.md", "personal")
	require.NoError(t, err)
	hash := chunks[0].ContentHash

	require.NoError(t, ix.CacheEmbedding(ctx, "openai", "small", hash, []float32{1}))
	require.NoError(t, ix.CacheEmbedding(ctx, "openai", "small", hash, []float32{9}))

	embs, err := ix.GetEmbeddings(ctx, "openai", "small")
	require.NoError(t, err)
	require.Len(t, embs, 1)
	assert.Equal(t, []float32{9}, embs[0].Vector)
}

func TestGetChunksWithoutEmbeddings(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "a.md", "first note needing a vector\n")
	env.write(t, "b.md", "second note needing a vector\n")
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	missing, err := ix.GetChunksWithoutEmbeddings(ctx, "openai", "small", 0)
	require.NoError(t, err)
	require.Len(t, missing, 2)

	require.NoError(t, ix.CacheEmbedding(ctx, "openai", "small", missing[0].ContentHash, []float32{1}))
	missing, err = ix.GetChunksWithoutEmbeddings(ctx, "openai", "small", 0)
	require.NoError(t, err)
	assert.Len(t, missing, 1)
}

func TestListFiles(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "z.md", "last alphabetically\n")
	env.write(t, "a.md", "first alphabetically\n")
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	files, err := ix.ListFiles(ctx, "personal")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.md", files[0].Path)
	assert.Equal(t, "z.md", files[1].Path)

	files, err = ix.ListFiles(ctx, "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFileRecordMetadata(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "meta.md", "---\ntitle: Tagged Note\ntype: journal\ntags: [one, two]\n---\nbody\n")
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	f, err := ix.GetFile(ctx, "meta.md", "personal")
	require.NoError(t, err)
	assert.Equal(t, "Tagged Note", f.Title)
	assert.Equal(t, "journal", f.NoteType)
	assert.Equal(t, []string{"one", "two"}, f.Tags)
	assert.False(t, f.LastIndexedAt.IsZero())
	assert.Positive(t, f.SizeBytes)
}

func TestVectorSerialization(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3.14159}
	assert.Equal(t, vec, DeserializeVector(SerializeVector(vec)))
	assert.Empty(t, DeserializeVector(nil))
}
