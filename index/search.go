package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/notewell/noteindex/types"
)

// Filter narrows a keyword search.
type Filter struct {
	// Scope restricts results to one scope when non-empty.
	Scope string
	// PathPrefix restricts results to files under a path prefix (the
	// host's per-project view) when non-empty.
	PathPrefix string
}

// SearchFTS runs a ranked keyword match over the chunk index. The query
// is sanitized before matching: syntax-significant characters are
// stripped, tokens shorter than two characters are dropped, and the
// remaining tokens are joined with OR — recall over precision. A query
// that is empty after sanitization returns no results and no error, as
// does a degraded index.
func (ix *Index) SearchFTS(ctx context.Context, query string, limit int, filter *Filter) ([]types.ChunkHit, error) {
	if !ix.ensure(ctx) {
		return nil, nil
	}

	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `
		SELECT c.chunk_id, c.path, c.scope, c.start_line, c.end_line,
		       c.content_hash, c.content, c.updated_at,
		       bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
	`
	args := []interface{}{sanitized}

	if filter != nil && filter.Scope != "" {
		sqlQuery += " AND c.scope = ?"
		args = append(args, filter.Scope)
	}
	if filter != nil && filter.PathPrefix != "" {
		sqlQuery += " AND c.path LIKE ? ESCAPE '\\'"
		args = append(args, escapeLike(filter.PathPrefix)+"%")
	}

	sqlQuery += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := ix.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]types.ChunkHit, 0, limit)
	for rows.Next() {
		var h types.ChunkHit
		var updatedAt sql.NullTime
		if err := rows.Scan(&h.ID, &h.Path, &h.Scope, &h.StartLine, &h.EndLine,
			&h.ContentHash, &h.Content, &updatedAt, &h.Rank); err != nil {
			return nil, err
		}
		if updatedAt.Valid {
			h.UpdatedAt = updatedAt.Time
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// sanitizeFTSQuery strips everything FTS5 could interpret as syntax and
// keeps only bare tokens of at least two characters, joined with OR.
// Tokens are lowercased so uppercase operator words (AND, NEAR) from the
// input become plain terms.
func sanitizeFTSQuery(query string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, query)

	tokens := make([]string, 0, 8)
	for _, tok := range strings.Fields(cleaned) {
		if len([]rune(tok)) < 2 {
			continue
		}
		tokens = append(tokens, tok)
	}
	return strings.Join(tokens, " OR ")
}

// escapeLike escapes LIKE wildcards in a literal prefix.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
