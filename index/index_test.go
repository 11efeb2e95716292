package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notewell/noteindex/chunker"
)

// newTestIndex returns an index backed by a temp file and the note
// directory serving as its single scope.
func newTestIndex(t *testing.T) (*Index, testScope) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	notesDir := t.TempDir()
	ix := New(Options{Path: dbPath})
	t.Cleanup(func() { _ = ix.Close() })
	return ix, testScope{dir: notesDir, dbPath: dbPath}
}

type testScope struct {
	dir    string
	dbPath string
}

func (s testScope) scopeDir() ScopeDir {
	return ScopeDir{Scope: "personal", Dir: s.dir}
}

func (s testScope) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(s.dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (s testScope) remove(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(s.dir, rel)))
}

func TestSyncFiles_AddThenIdempotent(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "a.md", "# Alpha\n\nThe quick brown fox jumps over the lazy dog.\n")
	env.write(t, "b.md", "# Beta\n\nA completely different note about gardening tomatoes.\n")
	env.write(t, "c.md", "# Gamma\n\nThe quick brown fox jumps over the lazy dog.\n")

	stats, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Added)
	assert.Zero(t, stats.Updated)
	assert.Zero(t, stats.Removed)
	assert.Zero(t, stats.Unchanged)

	// Second pass with no source changes is a pure no-op.
	stats, err = ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)
	assert.Zero(t, stats.Added)
	assert.Zero(t, stats.Updated)
	assert.Zero(t, stats.Removed)
	assert.Equal(t, 3, stats.Unchanged)
}

func TestSyncFiles_IdenticalBodiesIndexSeparately(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	// Identical bodies share content hashes and therefore chunk IDs;
	// both files must still get their own rows and chunks.
	body := "standup notes repeated verbatim on two days\n"
	env.write(t, "mon.md", body)
	env.write(t, "tue.md", body)

	stats, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Added)

	for _, rel := range []string{"mon.md", "tue.md"} {
		f, err := ix.GetFile(ctx, rel, "personal")
		require.NoError(t, err, rel)
		assert.Equal(t, chunker.HashContent(body), f.ContentHash)

		chunks, err := ix.ListChunks(ctx, rel, "personal")
		require.NoError(t, err, rel)
		require.Len(t, chunks, 1, rel)
	}

	hits, err := ix.SearchFTS(ctx, "standup verbatim", 10, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 2, "both files are searchable")
}

func TestSyncFiles_MoveWithinOnePass(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	body := "content that relocates to a new filename\n"
	env.write(t, "old.md", body)
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	// The new path is indexed before the old row's delete pass; the
	// shared chunk IDs must not collide across the two paths.
	env.remove(t, "old.md")
	env.write(t, "new.md", body)

	stats, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Removed)

	f, err := ix.GetFile(ctx, "new.md", "personal")
	require.NoError(t, err)
	assert.Equal(t, chunker.HashContent(body), f.ContentHash)

	_, err = ix.GetFile(ctx, "old.md", "personal")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncFiles_UpdateAndRemove(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "keep.md", "stable content about sailing\n")
	env.write(t, "change.md", "original content about cooking\n")
	env.write(t, "drop.md", "doomed content about nothing\n")
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	env.write(t, "change.md", "revised content about baking\n")
	env.remove(t, "drop.md")

	stats, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 1, stats.Unchanged)

	_, err = ix.GetFile(ctx, "drop.md", "personal")
	assert.ErrorIs(t, err, ErrNotFound)

	f, err := ix.GetFile(ctx, "change.md", "personal")
	require.NoError(t, err)
	assert.Equal(t, chunker.HashContent("revised content about baking\n"), f.ContentHash)
}

func TestSyncFiles_ScopeIsolation(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()
	otherDir := t.TempDir()

	env.write(t, "mine.md", "note in the personal scope\n")
	require.NoError(t, os.WriteFile(filepath.Join(otherDir, "theirs.md"), []byte("note in the work scope\n"), 0o644))

	both := []ScopeDir{env.scopeDir(), {Scope: "work", Dir: otherDir}}
	_, err := ix.SyncFiles(ctx, both)
	require.NoError(t, err)

	// Syncing only the personal scope must not touch work rows even
	// though its directory lists no files from the other scope.
	env.remove(t, "mine.md")
	stats, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)

	f, err := ix.GetFile(ctx, "theirs.md", "work")
	require.NoError(t, err)
	assert.Equal(t, "work", f.Scope)
}

func TestSyncFiles_ChunksReplacedOnUpdate(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "n.md", "first version about telescopes\n")
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	env.write(t, "n.md", "second version about microscopes\n")
	_, err = ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	hits, err := ix.SearchFTS(ctx, "telescopes", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits, "stale chunks must leave the keyword index")

	hits, err = ix.SearchFTS(ctx, "microscopes", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "n.md", hits[0].Path)
}

func TestSyncFiles_OverlapRejected(t *testing.T) {
	ix, env := newTestIndex(t)
	require.True(t, ix.syncLock.TryAcquire())
	defer ix.syncLock.Release()

	_, err := ix.SyncFiles(context.Background(), []ScopeDir{env.scopeDir()})
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestIndexFileAndRemoveFile(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "one.md", "a single incremental note\n")
	require.NoError(t, ix.IndexFile(ctx, env.scopeDir(), "one.md"))

	f, err := ix.GetFile(ctx, "one.md", "personal")
	require.NoError(t, err)
	assert.Equal(t, "one", f.Title)

	// Unchanged content is a no-op, not an error.
	require.NoError(t, ix.IndexFile(ctx, env.scopeDir(), "one.md"))

	require.NoError(t, ix.RemoveFile(ctx, "one.md", "personal"))
	_, err = ix.GetFile(ctx, "one.md", "personal")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetFileByHash(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	content := "identical body shared by nobody else\n"
	env.write(t, "orig.md", content)
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	f, err := ix.GetFileByHash(ctx, chunker.HashContent(content))
	require.NoError(t, err)
	assert.Equal(t, "orig.md", f.Path)

	_, err = ix.GetFileByHash(ctx, chunker.HashContent("something never stored"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetDuplicateOf(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "copy.md", "near duplicate body\n")
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	require.NoError(t, ix.SetDuplicateOf(ctx, "copy.md", "personal", "original.md"))
	f, err := ix.GetFile(ctx, "copy.md", "personal")
	require.NoError(t, err)
	assert.Equal(t, "original.md", f.DuplicateOf)

	err = ix.SetDuplicateOf(ctx, "missing.md", "personal", "x.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRebuildFromSourceAfterDatabaseLoss(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "a.md", "notes about beekeeping and honey\n")
	env.write(t, "b.md", "notes about woodworking and joinery\n")
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	// The database is disposable; a fresh handle rebuilds everything
	// from the source notes.
	require.NoError(t, os.Remove(env.dbPath))
	rebuilt := New(Options{Path: env.dbPath})
	defer func() { _ = rebuilt.Close() }()

	stats, err := rebuilt.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Added)

	hits, err := rebuilt.SearchFTS(ctx, "beekeeping", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a.md", hits[0].Path)
}

func TestStats(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "a.md", "a note for counting\n")
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	stats, err := ix.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Ready)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 1, stats.Chunks)
	assert.Zero(t, stats.CachedEmbeddings)
	assert.Positive(t, stats.SizeBytes)
}

func TestFlushAndClose(t *testing.T) {
	ix, env := newTestIndex(t)
	ctx := context.Background()

	env.write(t, "a.md", "flush me\n")
	_, err := ix.SyncFiles(ctx, []ScopeDir{env.scopeDir()})
	require.NoError(t, err)

	require.NoError(t, ix.Flush(ctx))
	// A second flush with nothing dirty is a no-op.
	require.NoError(t, ix.Flush(ctx))
	require.NoError(t, ix.Close())
}

func TestDegradedIndex(t *testing.T) {
	// A directory where the database file should be makes init fail.
	ix := New(Options{Path: t.TempDir()})
	ctx := context.Background()

	assert.False(t, ix.IsReady(ctx))

	hits, err := ix.SearchFTS(ctx, "anything", 10, nil)
	assert.NoError(t, err)
	assert.Empty(t, hits)

	files, err := ix.ListFiles(ctx, "")
	assert.NoError(t, err)
	assert.Empty(t, files)

	_, err = ix.SyncFiles(ctx, []ScopeDir{{Scope: "s", Dir: t.TempDir()}})
	assert.ErrorIs(t, err, ErrNotReady)

	err = ix.CacheEmbedding(ctx, "openai", "m", "hash", []float32{1})
	assert.ErrorIs(t, err, ErrNotReady)

	stats, err := ix.Stats(ctx)
	assert.NoError(t, err)
	assert.False(t, stats.Ready)
}
