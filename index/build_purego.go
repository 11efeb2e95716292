//go:build !sqlite_fts
// +build !sqlite_fts

package index

// Compiled when building without CGO (the default):
//
//	CGO_ENABLED=0 go build ./...
//
// modernc.org/sqlite is a pure Go translation with FTS5 enabled; no C
// compiler is required.
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use.
	DriverName = "sqlite"

	// BuildMode describes the current build configuration.
	BuildMode = "purego"
)
