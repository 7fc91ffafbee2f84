// Package classify extracts structured facts from raw transcripts.
//
// Classification runs inside the commit but is allowed to fail: a failed
// classification degrades the entry rather than aborting the commit.
package classify

import (
	"context"
	"errors"

	"github.com/murmurhq/murmur/pkg/journal"
)

// ErrClassification is returned when fact extraction fails. Callers commit
// the entry degraded and schedule a repair instead of propagating it.
var ErrClassification = errors.New("classification failed")

// Classifier extracts a structured fact from a transcript.
type Classifier interface {
	// Classify returns a normalized, schema-valid fact for the entry text.
	Classify(ctx context.Context, entryID, rawText string) (*journal.StructuredFact, error)

	// Close releases any resources held by the classifier.
	Close() error
}
