// Package index implements the derived, queryable index over a note
// collection: indexed-file records, text chunks, an FTS5 keyword index
// kept in lockstep with the chunk rows, and an embedding-vector cache
// keyed by (provider, model, content hash).
//
// The index is fully rebuildable: it holds nothing that cannot be
// re-derived from the source note files plus embedding calls, so the
// backing database file may be deleted at any time and the next sync
// reconstructs equivalent state.
//
// An Index handle is not safe for concurrent writers across processes;
// callers serialize access externally. Within a process all operations
// are serialized on the handle.
package index
