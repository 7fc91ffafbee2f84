package testutils

import (
	"context"

	"github.com/murmurhq/murmur/pkg/vector"
)

// MockVectorDriver is a test vector driver
type MockVectorDriver struct {
	Documents []vector.Document

	// Results is returned by Query for any embedding when non-nil; otherwise
	// Query synthesizes hits from the stored documents of the queried user.
	Results []vector.QueryResult

	// FailQuery causes Query to return an error.
	FailQuery error
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		Documents: make([]vector.Document, 0),
	}
}

func (m *MockVectorDriver) Add(_ context.Context, docs []vector.Document) error {
	for _, doc := range docs {
		replaced := false
		for i := range m.Documents {
			if m.Documents[i].ID == doc.ID {
				m.Documents[i] = doc
				replaced = true
				break
			}
		}
		if !replaced {
			m.Documents = append(m.Documents, doc)
		}
	}
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, userID string, _ []float32, topK int) ([]vector.QueryResult, error) {
	if m.FailQuery != nil {
		return nil, m.FailQuery
	}
	if m.Results != nil {
		if len(m.Results) > topK {
			return m.Results[:topK], nil
		}
		return m.Results, nil
	}

	results := make([]vector.QueryResult, 0)
	for _, doc := range m.Documents {
		if doc.UserID != userID {
			continue
		}
		results = append(results, vector.QueryResult{Document: doc, Score: 1.0})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

func (m *MockVectorDriver) Get(_ context.Context, ids []string) ([]vector.Document, error) {
	docs := make([]vector.Document, 0, len(ids))
	for _, id := range ids {
		for _, doc := range m.Documents {
			if doc.ID == id {
				docs = append(docs, doc)
				break
			}
		}
	}
	return docs, nil
}

func (m *MockVectorDriver) Delete(_ context.Context, ids []string) error {
	kept := m.Documents[:0]
	for _, doc := range m.Documents {
		remove := false
		for _, id := range ids {
			if doc.ID == id {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, doc)
		}
	}
	m.Documents = kept
	return nil
}

func (m *MockVectorDriver) Close() error {
	return nil
}
