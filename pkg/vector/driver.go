// Package vector provides interfaces and implementations for the semantic
// memory tier: entry embeddings, stored and queried per user.
package vector

import "context"

// Document is one stored entry embedding with its retrieval metadata.
type Document struct {
	// ID is the entry id the embedding belongs to.
	ID string

	// UserID scopes retrieval; a query never crosses users.
	UserID string

	// Text is the text that was embedded (summary, or raw transcript for
	// degraded entries). Carried so retrieval callers can build prompts
	// without a second storage round-trip.
	Text string

	// Embedding is the vector representation of Text.
	Embedding []float32
}

// QueryResult is a search hit with its similarity score.
type QueryResult struct {
	Document

	// Score is the similarity score (higher = more similar).
	Score float32
}

// VectorDriver handles storage and retrieval of entry embeddings.
type VectorDriver interface {
	// Add stores documents with their embeddings. Re-adding an existing ID
	// updates the stored document.
	Add(ctx context.Context, docs []Document) error

	// Query finds the topK documents of one user most similar to the given
	// embedding.
	Query(ctx context.Context, userID string, embedding []float32, topK int) ([]QueryResult, error)

	// Get retrieves documents by their IDs.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}
