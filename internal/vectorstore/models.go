package vectorstore

import (
	"fmt"
	"regexp"
)

// Document is a stored unit with its precomputed embedding.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
	Embedding []float32         `json:"-"`
}

// SearchResult is one ranked hit from Query.
type SearchResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// collectionNamePattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects names outside ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func validateDocuments(docs []Document, dim int) error {
	if len(docs) == 0 {
		return ErrEmptyDocuments
	}
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("%w: document id is required", ErrEmptyDocuments)
		}
		if len(d.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingEmbedding, d.ID)
		}
		if dim > 0 && len(d.Embedding) != dim {
			return fmt.Errorf("%w: %s has %d, want %d", ErrDimensionMismatch, d.ID, len(d.Embedding), dim)
		}
	}
	return nil
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
