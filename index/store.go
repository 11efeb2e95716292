package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/notewell/noteindex/types"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const fileColumns = `path, scope, content_hash, size_bytes, mtime, title, note_type, tags, created_at, duplicate_of, last_indexed_at`

// GetFileByHash returns the indexed file whose content hash matches
// exactly; ErrNotFound when none does. The dedup engine's first layer is
// built on this lookup.
func (ix *Index) GetFileByHash(ctx context.Context, hash string) (*types.FileRecord, error) {
	if !ix.ensure(ctx) {
		return nil, ErrNotFound
	}
	row := ix.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE content_hash = ? LIMIT 1`, hash)
	return scanFile(row)
}

// GetFile returns the record for (path, scope); ErrNotFound when absent.
func (ix *Index) GetFile(ctx context.Context, path, scope string) (*types.FileRecord, error) {
	if !ix.ensure(ctx) {
		return nil, ErrNotFound
	}
	row := ix.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE path = ? AND scope = ?`, path, scope)
	return scanFile(row)
}

// ListFiles returns all indexed files, optionally restricted to a scope.
func (ix *Index) ListFiles(ctx context.Context, scope string) ([]*types.FileRecord, error) {
	if !ix.ensure(ctx) {
		return nil, nil
	}
	query := `SELECT ` + fileColumns + ` FROM files`
	args := []interface{}{}
	if scope != "" {
		query += ` WHERE scope = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY path`

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	files := make([]*types.FileRecord, 0)
	for rows.Next() {
		f, err := scanFileRows(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// insertFile writes a fresh file row. Callers delete any previous row for
// (path, scope) first; rows are replaced wholesale, never patched.
func insertFile(ctx context.Context, q querier, f *types.FileRecord) error {
	tags, err := json.Marshal(f.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.Path, f.Scope, f.ContentHash, f.SizeBytes, f.ModTime, f.Title,
		f.NoteType, string(tags), f.CreatedAt, nullable(f.DuplicateOf), f.LastIndexedAt)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// deleteFileRows removes the file row and every chunk belonging to it.
// The FTS triggers drop the mirrored keyword entries in the same
// statement, so the keyword index can never hold stale chunks.
func deleteFileRows(ctx context.Context, q querier, path, scope string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE path = ? AND scope = ?`, path, scope); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM files WHERE path = ? AND scope = ?`, path, scope); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// insertChunk writes one chunk row; the FTS trigger mirrors it.
func insertChunk(ctx context.Context, q querier, c *types.Chunk) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO chunks (chunk_id, path, scope, start_line, end_line, content_hash, content, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Path, c.Scope, c.StartLine, c.EndLine, c.ContentHash, c.Content, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

// ListChunks returns the chunks of one file in order.
func (ix *Index) ListChunks(ctx context.Context, path, scope string) ([]types.Chunk, error) {
	if !ix.ensure(ctx) {
		return nil, nil
	}
	rows, err := ix.db.QueryContext(ctx, `
		SELECT chunk_id, path, scope, start_line, end_line, content_hash, content, updated_at
		FROM chunks WHERE path = ? AND scope = ? ORDER BY start_line
	`, path, scope)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectChunks(rows)
}

// GetEmbeddings returns every cached vector under (provider, model)
// joined to the live chunks through the shared content hash.
func (ix *Index) GetEmbeddings(ctx context.Context, provider, model string) ([]types.ChunkEmbedding, error) {
	if !ix.ensure(ctx) {
		return nil, nil
	}
	rows, err := ix.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.path, c.scope, c.content_hash, e.vector
		FROM chunks c
		JOIN embedding_cache e ON e.content_hash = c.content_hash
		WHERE e.provider = ? AND e.model = ?
	`, provider, model)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.ChunkEmbedding, 0)
	for rows.Next() {
		var ce types.ChunkEmbedding
		var blob []byte
		if err := rows.Scan(&ce.ChunkID, &ce.Path, &ce.Scope, &ce.ContentHash, &blob); err != nil {
			return nil, err
		}
		ce.Vector = DeserializeVector(blob)
		out = append(out, ce)
	}
	return out, rows.Err()
}

// CacheEmbedding upserts one vector keyed by (provider, model, hash). The
// cache is independent of chunk lifecycle: identical text anywhere shares
// this one entry.
func (ix *Index) CacheEmbedding(ctx context.Context, provider, model, hash string, vector []float32) error {
	if !ix.ensure(ctx) {
		return ErrNotReady
	}
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (provider, model, content_hash, vector, dims, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, model, content_hash) DO UPDATE SET
			vector = excluded.vector,
			dims = excluded.dims,
			updated_at = excluded.updated_at
	`, provider, model, hash, SerializeVector(vector), len(vector), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to cache embedding: %w", err)
	}
	ix.markDirty()
	return nil
}

// GetChunksWithoutEmbeddings returns up to limit chunks that have no
// cached vector under (provider, model); the worklist for a cache
// refresh.
func (ix *Index) GetChunksWithoutEmbeddings(ctx context.Context, provider, model string, limit int) ([]types.Chunk, error) {
	if !ix.ensure(ctx) {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := ix.db.QueryContext(ctx, `
		SELECT chunk_id, path, scope, start_line, end_line, content_hash, content, updated_at
		FROM chunks c
		WHERE NOT EXISTS (
			SELECT 1 FROM embedding_cache e
			WHERE e.provider = ? AND e.model = ? AND e.content_hash = c.content_hash
		)
		ORDER BY c.path, c.start_line
		LIMIT ?
	`, provider, model, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectChunks(rows)
}

// Scan helpers: rows are decoded into typed structs here, once, at the
// boundary between the engine and the rest of the system.

type fileScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row *sql.Row) (*types.FileRecord, error) {
	f, err := scanFileFrom(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return f, err
}

func scanFileRows(rows *sql.Rows) (*types.FileRecord, error) {
	return scanFileFrom(rows)
}

func scanFileFrom(s fileScanner) (*types.FileRecord, error) {
	var f types.FileRecord
	var mtime, createdAt, lastIndexedAt sql.NullTime
	var title, noteType, tags, duplicateOf sql.NullString

	err := s.Scan(&f.Path, &f.Scope, &f.ContentHash, &f.SizeBytes, &mtime,
		&title, &noteType, &tags, &createdAt, &duplicateOf, &lastIndexedAt)
	if err != nil {
		return nil, err
	}

	f.Title = title.String
	f.NoteType = noteType.String
	f.DuplicateOf = duplicateOf.String
	if mtime.Valid {
		f.ModTime = mtime.Time
	}
	if createdAt.Valid {
		f.CreatedAt = createdAt.Time
	}
	if lastIndexedAt.Valid {
		f.LastIndexedAt = lastIndexedAt.Time
	}
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &f.Tags)
	}
	return &f, nil
}

func collectChunks(rows *sql.Rows) ([]types.Chunk, error) {
	chunks := make([]types.Chunk, 0)
	for rows.Next() {
		var c types.Chunk
		var updatedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.Path, &c.Scope, &c.StartLine, &c.EndLine,
			&c.ContentHash, &c.Content, &updatedAt); err != nil {
			return nil, err
		}
		if updatedAt.Valid {
			c.UpdatedAt = updatedAt.Time
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// SerializeVector converts a float32 slice to a little-endian byte blob.
func SerializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// DeserializeVector converts a byte blob back to a float32 slice.
func DeserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}
