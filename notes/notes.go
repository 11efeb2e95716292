// Package notes is the thin collaborator interface onto the note
// collection: enumerate the files of a scope directory and read one note's
// metadata header and body. The CRUD layer that writes these files lives in
// the host; the indexer only ever reads.
package notes

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Note is one parsed note file. Path is relative to the scope directory;
// (Path, Scope) is the stable identity the index keys on.
type Note struct {
	Path      string
	Scope     string
	Title     string
	Type      string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
	Body      string
}

// frontMatter is the optional YAML header between "---" fences.
type frontMatter struct {
	Title   string    `yaml:"title"`
	Type    string    `yaml:"type"`
	Tags    []string  `yaml:"tags"`
	Created time.Time `yaml:"created"`
	Updated time.Time `yaml:"updated"`
}

// noteExtensions are the file suffixes treated as notes.
var noteExtensions = map[string]bool{
	".md":  true,
	".txt": true,
}

// ListScope enumerates note files under dir, returning paths relative to
// dir. Hidden files and directories are skipped.
func ListScope(dir string) ([]string, error) {
	var rels []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !noteExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list scope %s: %w", dir, err)
	}
	return rels, nil
}

// Read loads and parses the note at rel under dir.
func Read(dir, rel, scope string) (*Note, error) {
	raw, err := os.ReadFile(filepath.Join(dir, rel))
	if err != nil {
		return nil, fmt.Errorf("read note %s: %w", rel, err)
	}
	return Parse(raw, rel, scope), nil
}

// Parse splits raw note content into metadata and body. A missing or
// malformed header degrades to a filename-derived title rather than
// failing: an unparseable note must never abort a sync pass.
func Parse(raw []byte, rel, scope string) *Note {
	n := &Note{
		Path:  rel,
		Scope: scope,
		Body:  string(raw),
	}

	header, body, ok := splitFrontMatter(string(raw))
	if ok {
		var fm frontMatter
		if err := yaml.Unmarshal([]byte(header), &fm); err == nil {
			n.Title = strings.TrimSpace(fm.Title)
			n.Type = strings.TrimSpace(fm.Type)
			n.Tags = fm.Tags
			n.CreatedAt = fm.Created
			n.UpdatedAt = fm.Updated
			n.Body = body
		}
	}

	if n.Title == "" {
		n.Title = fallbackTitle(n.Body, rel)
	}
	return n
}

// splitFrontMatter returns the YAML header and remaining body when raw
// begins with a "---" fence closed by another.
func splitFrontMatter(raw string) (header, body string, ok bool) {
	if !strings.HasPrefix(raw, "---\n") && raw != "---" && !strings.HasPrefix(raw, "---\r\n") {
		return "", "", false
	}
	rest := raw[strings.IndexByte(raw, '\n')+1:]
	for _, fence := range []string{"\n---\n", "\n---\r\n"} {
		if i := strings.Index(rest, fence); i >= 0 {
			return rest[:i], rest[i+len(fence):], true
		}
	}
	if strings.HasSuffix(rest, "\n---") {
		return rest[:len(rest)-len("\n---")], "", true
	}
	return "", "", false
}

// fallbackTitle prefers the first Markdown heading, then the file name.
func fallbackTitle(body, rel string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		}
		if trimmed != "" {
			break
		}
	}
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
