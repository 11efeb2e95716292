package types

import "time"

// FileRecord is one indexed note file. There is exactly one record per
// (Path, Scope) pair; the record is replaced wholesale when the content
// hash changes and removed when the file disappears.
type FileRecord struct {
	Path          string
	Scope         string
	ContentHash   string
	SizeBytes     int64
	ModTime       time.Time
	Title         string
	NoteType      string
	Tags          []string
	CreatedAt     time.Time
	DuplicateOf   string // set when the file was stored despite near-duplicates
	LastIndexedAt time.Time
}

// Chunk is a contiguous slice of a note body with line-range provenance.
// ID is the first twelve hex characters of the owning file's content hash
// joined with the chunk sequence number, e.g. "a1b2c3d4e5f6:2".
type Chunk struct {
	ID          string
	Path        string
	Scope       string
	StartLine   int
	EndLine     int
	ContentHash string
	Content     string
	UpdatedAt   time.Time
}

// ChunkHit is a chunk returned by keyword search together with its bm25
// rank. Ranks come back from FTS5 ordered ascending: lower is better.
type ChunkHit struct {
	Chunk
	Rank float64
}

// ChunkEmbedding joins a cached vector to a live chunk through the shared
// content hash.
type ChunkEmbedding struct {
	ChunkID     string
	Path        string
	Scope       string
	ContentHash string
	Vector      []float32
}

// CachedEmbedding is one row of the embedding cache, keyed by
// (Provider, Model, ContentHash) independently of any file or chunk.
type CachedEmbedding struct {
	Provider    string
	Model       string
	ContentHash string
	Vector      []float32
	Dims        int
	UpdatedAt   time.Time
}

// SyncStats reports what a reconciliation pass did.
type SyncStats struct {
	Added     int
	Updated   int
	Removed   int
	Unchanged int
}

// IndexStats is a snapshot of index contents and health.
type IndexStats struct {
	Files            int
	Chunks           int
	CachedEmbeddings int
	SizeBytes        int64
	Ready            bool
}

// Dedup detection methods.
const (
	MethodVector = "vector"
	MethodFTS    = "fts"
)

// NearDuplicate identifies an existing file similar to new content.
type NearDuplicate struct {
	Path       string
	Scope      string
	Similarity float64
	Method     string // MethodVector or MethodFTS
}

// DedupResult is the transient outcome of a duplicate check; it is never
// persisted. When IsDuplicate is set the caller should discard the write;
// near-duplicates are advisory and the caller still writes.
type DedupResult struct {
	IsDuplicate    bool
	ExactMatch     *FileRecord
	NearDuplicates []NearDuplicate
}
