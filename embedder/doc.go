// Package embedder generates vector embeddings for note chunks through
// HTTP providers. Providers are interchangeable behind the Provider
// interface; an in-process LRU cache keyed by content hash sits in front
// of every provider so repeated text never pays for a second API call.
//
// Embeddings are an acceleration layer, never a correctness dependency:
// callers fall back to keyword search when no provider is configured or
// a provider fails.
package embedder
