// Package chunker splits note bodies into overlapping, heading-aware text
// segments sized for indexing and embedding, and provides the content
// hashing used for change detection and cache keys.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// DefaultTargetTokens is the target chunk size in tokens.
	DefaultTargetTokens = 400

	// DefaultOverlapTokens is the continuity overlap between chunks.
	DefaultOverlapTokens = 80

	// CharsPerToken is the heuristic for estimating tokens (chars/4).
	CharsPerToken = 4

	// singleChunkFactor: bodies up to this multiple of the target stay
	// whole instead of being split.
	singleChunkFactor = 1.3

	// headingSplitShare: a heading only triggers a split once the current
	// chunk holds at least this share of the target size.
	headingSplitShare = 0.30

	// tailMergeShare: a trailing fragment smaller than this share of the
	// target is merged into the prior chunk.
	tailMergeShare = 0.15
)

// Options configures Split. The zero value is replaced by defaults; build
// it once and pass it down unchanged.
type Options struct {
	TargetTokens  int
	OverlapTokens int
}

// DefaultOptions returns the documented default chunking parameters.
func DefaultOptions() Options {
	return Options{
		TargetTokens:  DefaultTargetTokens,
		OverlapTokens: DefaultOverlapTokens,
	}
}

// Chunk is an ordered slice of the body with 1-based line provenance.
type Chunk struct {
	Text      string
	StartLine int
	EndLine   int
}

// Split divides body into heading-aware chunks of roughly
// TargetTokens*CharsPerToken characters, each seeded with the trailing
// whole lines of its predecessor for continuity. Non-empty input never
// yields zero chunks; empty input yields none.
func Split(body string, opts Options) []Chunk {
	if body == "" {
		return nil
	}
	if opts.TargetTokens <= 0 {
		opts.TargetTokens = DefaultTargetTokens
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}

	targetChars := opts.TargetTokens * CharsPerToken
	overlapChars := opts.OverlapTokens * CharsPerToken
	minSplitChars := int(headingSplitShare * float64(targetChars))
	minTailChars := int(tailMergeShare * float64(targetChars))

	lines := strings.Split(body, "\n")
	if len(body) <= int(singleChunkFactor*float64(targetChars)) {
		return []Chunk{{Text: body, StartLine: 1, EndLine: len(lines)}}
	}

	var chunks []Chunk
	var cur []string
	curStart := 1
	curSize := 0

	for i, line := range lines {
		ln := i + 1
		if len(cur) > 0 && (curSize >= targetChars || (isHeading(line) && curSize >= minSplitChars)) {
			chunks = append(chunks, Chunk{
				Text:      strings.Join(cur, "\n"),
				StartLine: curStart,
				EndLine:   ln - 1,
			})
			tail := overlapTail(cur, overlapChars)
			cur = append([]string(nil), tail...)
			curStart = ln - len(tail)
			curSize = 0
			for _, t := range tail {
				curSize += len(t) + 1
			}
		}
		cur = append(cur, line)
		curSize += len(line) + 1
	}

	last := Chunk{Text: strings.Join(cur, "\n"), StartLine: curStart, EndLine: len(lines)}
	if len(chunks) > 0 && len(last.Text) < minTailChars {
		// Too small to stand alone: extend the prior chunk to the end of
		// the body instead.
		prev := &chunks[len(chunks)-1]
		prev.EndLine = len(lines)
		prev.Text = strings.Join(lines[prev.StartLine-1:], "\n")
	} else {
		chunks = append(chunks, last)
	}
	return chunks
}

// isHeading reports whether the line is a Markdown heading marker.
func isHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "#")
}

// overlapTail returns the trailing whole lines of prev covering at most
// overlapChars characters.
func overlapTail(prev []string, overlapChars int) []string {
	if overlapChars <= 0 {
		return nil
	}
	size := 0
	i := len(prev)
	for i > 0 {
		next := size + len(prev[i-1]) + 1
		if next > overlapChars {
			break
		}
		size = next
		i--
	}
	return prev[i:]
}

// HashContent returns the deterministic sha256 hex digest of text, used
// for change detection, dedup lookups, and embedding cache keys.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ChunkID derives a chunk identifier from the owning file's content hash
// and the chunk's position within the file.
func ChunkID(fileHash string, seq int) string {
	if len(fileHash) > 12 {
		fileHash = fileHash[:12]
	}
	return fmt.Sprintf("%s:%d", fileHash, seq)
}

// EstimateTokens estimates the token count of text.
func EstimateTokens(text string) int {
	return len(text) / CharsPerToken
}
