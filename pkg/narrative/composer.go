// Package narrative composes the prose for daily reflections and weekly
// reports. Deterministic fields (counts, histograms, scores) never come from
// here; the composer only writes the narrative text around them.
package narrative

import (
	"context"
	"errors"

	"github.com/murmurhq/murmur/pkg/journal"
)

// ErrComposition is returned when narrative generation fails after retries.
// The aggregation engine falls back to a deterministic template artifact.
var ErrComposition = errors.New("narrative composition failed")

// DailyInput is everything the composer sees for one day.
type DailyInput struct {
	UserID   string
	DateKey  string // journal.DateLayout
	Facts    []journal.StructuredFact
	Degraded int // entries whose facts are missing
}

// WeeklyInput is everything the composer sees for one ISO week.
type WeeklyInput struct {
	UserID    string
	WeekKey   string // "2026-W09"
	Facts     []journal.StructuredFact
	Degraded  int
	Score     float64
	Histogram map[journal.Category]int

	// StyleExamples are past entry texts retrieved from the vector tier so
	// the report echoes the user's own phrasing.
	StyleExamples []string
}

// Composer writes reflection and report prose.
type Composer interface {
	ComposeDaily(ctx context.Context, in DailyInput) (string, error)
	ComposeWeekly(ctx context.Context, in WeeklyInput) (string, error)

	// Close releases any resources held by the composer.
	Close() error
}
