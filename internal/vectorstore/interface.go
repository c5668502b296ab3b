// Package vectorstore provides the vector backends behind the memory store.
//
// Backends store documents that already carry their embedding; computing
// embeddings is the caller's job. Metadata values are strings and filters
// are exact-match on metadata keys.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrMissingEmbedding indicates a document without a vector.
	ErrMissingEmbedding = errors.New("document has no embedding")

	// ErrDimensionMismatch indicates a vector of the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrEmptyFilter indicates a destructive call without a filter.
	ErrEmptyFilter = errors.New("filter cannot be empty")
)

// Store is the interface implemented by vector backends.
type Store interface {
	// Upsert writes documents, replacing any with the same ID.
	// Writes are durable when Upsert returns.
	Upsert(ctx context.Context, docs []Document) error

	// Query returns up to k documents matching where, ranked by
	// descending cosine similarity to vector.
	Query(ctx context.Context, vector []float32, k int, where map[string]string) ([]SearchResult, error)

	// List returns every document matching where. A nil filter lists all.
	List(ctx context.Context, where map[string]string) ([]Document, error)

	// Delete removes every document matching where and reports how many.
	Delete(ctx context.Context, where map[string]string) (int, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}
