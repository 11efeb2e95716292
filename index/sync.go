package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notewell/noteindex/chunker"
	"github.com/notewell/noteindex/notes"
	"github.com/notewell/noteindex/types"
)

// ScopeDir names one scope and the directory holding its note files.
type ScopeDir struct {
	Scope string
	Dir   string
}

// hashedNote is the result of reading and hashing one candidate file.
type hashedNote struct {
	rel   string
	raw   []byte
	hash  string
	size  int64
	mtime time.Time
	err   error
}

// SyncFiles reconciles the index with the note collection. Files whose
// content hash is unchanged are skipped entirely; new or changed files
// have their chunks and file row deleted and regenerated; files that
// disappeared from a synced scope are removed. Re-running with no source
// changes is a no-op, so an interrupted sync is resumed safely by
// running it again.
//
// Unreadable files are logged and skipped without affecting the counts;
// an unreadable scope directory is skipped without deleting its rows.
func (ix *Index) SyncFiles(ctx context.Context, scopes []ScopeDir) (types.SyncStats, error) {
	var stats types.SyncStats
	if !ix.ensure(ctx) {
		return stats, ErrNotReady
	}
	if !ix.syncLock.TryAcquire() {
		return stats, ErrSyncInProgress
	}
	defer ix.syncLock.Release()

	for _, sd := range scopes {
		rels, err := notes.ListScope(sd.Dir)
		if err != nil {
			ix.log.Warn("scope listing failed, skipping", "scope", sd.Scope, "dir", sd.Dir, "error", err)
			continue
		}

		existing, err := ix.storedHashes(ctx, sd.Scope)
		if err != nil {
			return stats, err
		}

		hashed := hashNotes(ctx, sd.Dir, rels)
		seen := make(map[string]bool, len(hashed))
		for _, hn := range hashed {
			seen[hn.rel] = true
			if hn.err != nil {
				ix.log.Warn("note unreadable, skipping", "scope", sd.Scope, "path", hn.rel, "error", hn.err)
				delete(seen, hn.rel) // keep any existing row until readable again
				continue
			}

			prevHash, existed := existing[hn.rel]
			if existed && prevHash == hn.hash {
				stats.Unchanged++
				continue
			}

			if err := ix.indexNote(ctx, hn, sd.Scope); err != nil {
				ix.log.Warn("note indexing failed, skipping", "scope", sd.Scope, "path", hn.rel, "error", err)
				continue
			}
			if existed {
				stats.Updated++
			} else {
				stats.Added++
			}
		}

		// Remove rows for files not seen this pass. Only the synced
		// scope is affected; other scopes keep their rows.
		for path := range existing {
			if seen[path] {
				continue
			}
			if err := deleteFileRows(ctx, ix.db, path, sd.Scope); err != nil {
				return stats, err
			}
			stats.Removed++
		}
	}

	if stats.Added+stats.Updated+stats.Removed > 0 {
		ix.markDirty()
	}
	return stats, nil
}

// IndexFile is the single-file equivalent of SyncFiles for incremental
// updates: unchanged content is skipped, changed content is replaced
// wholesale.
func (ix *Index) IndexFile(ctx context.Context, sd ScopeDir, rel string) error {
	if !ix.ensure(ctx) {
		return ErrNotReady
	}
	hn := hashOne(sd.Dir, rel)
	if hn.err != nil {
		return hn.err
	}

	prev, err := ix.GetFile(ctx, rel, sd.Scope)
	if err == nil && prev.ContentHash == hn.hash {
		return nil
	}
	if err != nil && err != ErrNotFound {
		return err
	}

	if err := ix.indexNote(ctx, hn, sd.Scope); err != nil {
		return err
	}
	ix.markDirty()
	return nil
}

// RemoveFile drops the file row and its chunks for (path, scope).
func (ix *Index) RemoveFile(ctx context.Context, path, scope string) error {
	if !ix.ensure(ctx) {
		return ErrNotReady
	}
	if err := deleteFileRows(ctx, ix.db, path, scope); err != nil {
		return err
	}
	ix.markDirty()
	return nil
}

// SetDuplicateOf records the duplicate-of marker on an indexed file,
// used by hosts that store content despite flagged near-duplicates.
func (ix *Index) SetDuplicateOf(ctx context.Context, path, scope, duplicateOf string) error {
	if !ix.ensure(ctx) {
		return ErrNotReady
	}
	res, err := ix.db.ExecContext(ctx,
		`UPDATE files SET duplicate_of = ? WHERE path = ? AND scope = ?`,
		nullable(duplicateOf), path, scope)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	ix.markDirty()
	return nil
}

// indexNote replaces the rows for one note: old chunks and file row are
// deleted and fresh ones inserted in a single transaction, so the
// keyword index never sees a half-indexed file.
func (ix *Index) indexNote(ctx context.Context, hn hashedNote, scope string) error {
	n := notes.Parse(hn.raw, hn.rel, scope)
	pieces := chunker.Split(n.Body, ix.opts.Chunking)

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteFileRows(ctx, tx, hn.rel, scope); err != nil {
		return err
	}

	now := time.Now().UTC()
	record := &types.FileRecord{
		Path:          hn.rel,
		Scope:         scope,
		ContentHash:   hn.hash,
		SizeBytes:     hn.size,
		ModTime:       hn.mtime,
		Title:         n.Title,
		NoteType:      n.Type,
		Tags:          n.Tags,
		CreatedAt:     n.CreatedAt,
		LastIndexedAt: now,
	}
	if err := insertFile(ctx, tx, record); err != nil {
		return err
	}

	for seq, p := range pieces {
		c := &types.Chunk{
			ID:          chunker.ChunkID(hn.hash, seq),
			Path:        hn.rel,
			Scope:       scope,
			StartLine:   p.StartLine,
			EndLine:     p.EndLine,
			ContentHash: chunker.HashContent(p.Text),
			Content:     p.Text,
			UpdatedAt:   now,
		}
		if err := insertChunk(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// storedHashes loads the path→hash map for one scope.
func (ix *Index) storedHashes(ctx context.Context, scope string) (map[string]string, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT path, content_hash FROM files WHERE scope = ?`, scope)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	m := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		m[path] = hash
	}
	return m, rows.Err()
}

// hashNotes reads and hashes candidate files in parallel. Ordering of
// the result matches rels; errors are carried per entry rather than
// failing the batch.
func hashNotes(ctx context.Context, dir string, rels []string) []hashedNote {
	out := make([]hashedNote, len(rels))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, rel := range rels {
		i, rel := i, rel
		g.Go(func() error {
			out[i] = hashOne(dir, rel)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// hashOne reads one file fully and digests its content.
func hashOne(dir, rel string) hashedNote {
	hn := hashedNote{rel: rel}
	full := filepath.Join(dir, rel)
	info, err := os.Stat(full)
	if err != nil {
		hn.err = err
		return hn
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		hn.err = err
		return hn
	}
	hn.raw = raw
	hn.hash = chunker.HashContent(string(raw))
	hn.size = info.Size()
	hn.mtime = info.ModTime()
	return hn
}
