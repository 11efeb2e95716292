package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/notewell/noteindex/chunker"
	"github.com/notewell/noteindex/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrNotReady is returned by write operations when the backend failed
	// to initialize. Read operations degrade to empty results instead.
	ErrNotReady = errors.New("index not ready")
	// ErrSyncInProgress is returned when a sync pass overlaps another on
	// the same handle.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Options configures an Index. Build it once; it is never mutated.
type Options struct {
	// Path is the database file backing this store. The file may be
	// deleted at any time; the next sync rebuilds it from source notes.
	Path string

	// Chunking holds the chunker parameters; the zero value means
	// defaults.
	Chunking chunker.Options

	// Logger receives warnings for skipped files and degraded operation.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

// Index is the single stateful handle owning the open database resource.
// Construction is lazy: the first real operation triggers initialization,
// and an initialization failure sets a permanent degraded flag rather
// than propagating. Degraded reads return empty results; degraded writes
// return ErrNotReady.
type Index struct {
	opts Options
	log  *slog.Logger

	initOnce sync.Once
	initErr  error
	db       *sql.DB

	mu       sync.Mutex
	dirty    bool
	closed   bool
	syncLock syncLock
}

// New creates an Index handle for the database at opts.Path. No I/O
// happens until the first operation.
func New(opts Options) *Index {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Chunking.TargetTokens <= 0 {
		opts.Chunking = chunker.DefaultOptions()
	}
	return &Index{opts: opts, log: log}
}

// ensure lazily opens the database and applies migrations. It reports
// readiness; a failure is logged once and remembered permanently.
func (ix *Index) ensure(ctx context.Context) bool {
	ix.initOnce.Do(func() {
		db, err := openDatabase(ix.opts.Path)
		if err != nil {
			ix.initErr = err
			ix.log.Warn("index init failed, continuing degraded", "path", ix.opts.Path, "error", err)
			return
		}
		if err := ApplyMigrations(ctx, db); err != nil {
			_ = db.Close()
			ix.initErr = err
			ix.log.Warn("index migration failed, continuing degraded", "path", ix.opts.Path, "error", err)
			return
		}
		ix.db = db
	})
	return ix.initErr == nil && ix.db != nil
}

// openDatabase opens the SQLite file with the settings every consumer
// relies on: WAL journaling and a single writer connection.
func openDatabase(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("index: empty database path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// IsReady reports whether the backend initialized successfully. Consumers
// with their own fallback (the dedup engine, the host's naive text scan)
// check this before relying on index results.
func (ix *Index) IsReady(ctx context.Context) bool {
	return ix.ensure(ctx)
}

// markDirty records unsaved work for the next flush.
func (ix *Index) markDirty() {
	ix.mu.Lock()
	ix.dirty = true
	ix.mu.Unlock()
}

// Flush persists pending state to the backing file. It is the only
// visible write boundary and a no-op unless something changed since the
// last flush.
func (ix *Index) Flush(ctx context.Context) error {
	if !ix.ensure(ctx) {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.dirty || ix.closed {
		return nil
	}
	if _, err := ix.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("flush index: %w", err)
	}
	ix.dirty = false
	return nil
}

// Close flushes pending state and releases the database handle. The
// handle stays permanently closed afterwards.
func (ix *Index) Close() error {
	if ix.db == nil {
		return nil
	}
	err := ix.Flush(context.Background())
	ix.mu.Lock()
	ix.closed = true
	ix.mu.Unlock()
	if cerr := ix.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Stats returns a snapshot of index contents. When the backend is
// degraded the snapshot is empty with Ready unset.
func (ix *Index) Stats(ctx context.Context) (types.IndexStats, error) {
	var stats types.IndexStats
	if !ix.ensure(ctx) {
		return stats, nil
	}
	stats.Ready = true

	if err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&stats.Files); err != nil {
		return stats, err
	}
	if err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&stats.Chunks); err != nil {
		return stats, err
	}
	if err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_cache").Scan(&stats.CachedEmbeddings); err != nil {
		return stats, err
	}

	var pageCount, pageSize int64
	if err := ix.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = ix.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.SizeBytes = pageCount * pageSize
	}

	return stats, nil
}
