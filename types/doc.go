// Package types contains the shared data structures exchanged between the
// index, dedup engine, hybrid ranker, and host code. Rows coming out of the
// storage layer are decoded into these structs once, at the boundary.
package types
