// Package search maintains the full-text index over raw transcripts that backs
// the dashboard's text filter. The index is derived data; losing it loses
// nothing the raw tier can't rebuild.
package search

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
)

// IndexedEntry is the shape stored in the index.
type IndexedEntry struct {
	EntryID      string
	UserID       string
	Text         string
	OccurredDate string
}

// Index wraps a bleve index over entry transcripts.
type Index struct {
	index bleve.Index
}

// Open opens or creates an index at path.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating search index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}
	return &Index{index: idx}, nil
}

// OpenInMemory creates a non-persistent index. Test and ephemeral use.
func OpenInMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating in-memory search index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = "en"

	// UserID and EntryID are filters, not prose; keyword analysis keeps them
	// exact-match only.
	idFieldMapping := bleve.NewTextFieldMapping()
	idFieldMapping.Analyzer = keyword.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("EntryID", idFieldMapping)
	docMapping.AddFieldMappingsAt("UserID", idFieldMapping)
	docMapping.AddFieldMappingsAt("Text", textFieldMapping)
	docMapping.AddFieldMappingsAt("OccurredDate", idFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}

// IndexEntry adds or updates one transcript in the index.
func (i *Index) IndexEntry(e *IndexedEntry) error {
	return i.index.Index(e.EntryID, e)
}

// Delete removes an entry from the index.
func (i *Index) Delete(entryID string) error {
	return i.index.Delete(entryID)
}

// Search returns the ids of the user's entries matching the query string,
// most relevant first. The query syntax is bleve's (quotes, boolean
// operators, fuzzy ~).
func (i *Index) Search(userID, queryStr string, limit int) ([]string, error) {
	textQuery := bleve.NewQueryStringQuery(queryStr)

	userQuery := bleve.NewTermQuery(userID)
	userQuery.SetField("UserID")

	combined := bleve.NewConjunctionQuery(textQuery, userQuery)

	req := bleve.NewSearchRequestOptions(combined, limit, 0, false)
	results, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching entries: %w", err)
	}

	ids := make([]string, 0, len(results.Hits))
	for _, hit := range results.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Count returns the number of indexed entries.
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

// Close closes the underlying index.
func (i *Index) Close() error {
	return i.index.Close()
}
