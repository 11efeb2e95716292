//go:build sqlite_fts
// +build sqlite_fts

package index

// Compiled when building with CGO and the sqlite_fts tag:
//
//	CGO_ENABLED=1 go build -tags "sqlite_fts,fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use.
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration.
	BuildMode = "cgo"
)
