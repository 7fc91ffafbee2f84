// Package memory provides a map-backed vector driver with brute-force cosine
// search. Used in tests and single-user local setups.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/murmurhq/murmur/pkg/vector"
)

// MemoryDriver implements vector.VectorDriver entirely in memory.
type MemoryDriver struct {
	mu   sync.RWMutex
	docs map[string]vector.Document

	// FailWith, when set, is returned by every write. Lets tests exercise
	// degraded-commit handling without a real backend outage.
	FailWith error
}

var _ vector.VectorDriver = (*MemoryDriver)(nil)

// NewMemoryDriver returns an empty in-memory vector driver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{docs: make(map[string]vector.Document)}
}

// Add stores documents, replacing any with the same ID.
func (d *MemoryDriver) Add(_ context.Context, docs []vector.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailWith != nil {
		return d.FailWith
	}
	for _, doc := range docs {
		d.docs[doc.ID] = doc
	}
	return nil
}

// Query brute-forces cosine similarity over one user's documents.
func (d *MemoryDriver) Query(_ context.Context, userID string, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var results []vector.QueryResult
	for _, doc := range d.docs {
		if doc.UserID != userID {
			continue
		}
		results = append(results, vector.QueryResult{
			Document: doc,
			Score:    cosine(embedding, doc.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Get retrieves documents by their IDs, skipping unknown ones.
func (d *MemoryDriver) Get(_ context.Context, ids []string) ([]vector.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []vector.Document
	for _, id := range ids {
		if doc, ok := d.docs[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Delete removes documents by their IDs.
func (d *MemoryDriver) Delete(_ context.Context, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailWith != nil {
		return d.FailWith
	}
	for _, id := range ids {
		delete(d.docs, id)
	}
	return nil
}

// Close is a no-op.
func (d *MemoryDriver) Close() error { return nil }

// Len reports the number of stored documents.
func (d *MemoryDriver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.docs)
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
