// Package journal defines the core data model for the murmur system: voice-note
// entries, their structured classification, per-user streak state, and the
// aggregation artifacts (daily reflections, weekly reports) derived from them.
//
// Everything in this package is plain data and pure functions. Storage tiers,
// adapters, and engines all speak these types; none of them are owned by a
// particular backend.
package journal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date layout used everywhere a user-local date is
// persisted or compared. Streaks and daily period keys operate on these dates,
// never on raw timestamps.
const DateLayout = "2006-01-02"

// IngestStatus tracks how completely an entry landed across the storage tiers.
type IngestStatus string

const (
	// StatusPending marks an entry draft that has not been committed yet.
	StatusPending IngestStatus = "pending"

	// StatusCommitted marks an entry that landed in every reachable tier.
	StatusCommitted IngestStatus = "committed"

	// StatusDegraded marks a committed entry missing one or more derived
	// representations (structured facts, embedding). The raw transcript is
	// always present for a degraded entry.
	StatusDegraded IngestStatus = "degraded"
)

// Category is the closed classification set for an entry.
type Category string

const (
	CategoryCoding      Category = "coding"
	CategoryLearning    Category = "learning"
	CategoryDebugging   Category = "debugging"
	CategoryResearch    Category = "research"
	CategoryMeeting     Category = "meeting"
	CategoryPlanning    Category = "planning"
	CategoryBlockers    Category = "blockers"
	CategoryAchievement Category = "achievement"
	CategoryOther       Category = "other"
)

// Categories lists every valid category, in display order.
func Categories() []Category {
	return []Category{
		CategoryCoding,
		CategoryLearning,
		CategoryDebugging,
		CategoryResearch,
		CategoryMeeting,
		CategoryPlanning,
		CategoryBlockers,
		CategoryAchievement,
		CategoryOther,
	}
}

// ParseCategory maps a string onto the closed category set. Unknown values
// collapse to CategoryOther rather than erroring; classification adapters are
// not trusted to stay inside the enum.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c
		}
	}
	return CategoryOther
}

// Sentiment is the coarse sentiment label attached by classification.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment normalizes a sentiment string, defaulting to neutral.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// Entry is one logged voice note. The raw transcript is the audit-of-record;
// everything else hangs off it.
type Entry struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	OccurredAt     time.Time    `json:"occurred_at"`
	RawText        string       `json:"raw_text"`
	AudioRef       string       `json:"audio_ref"`
	AudioDuration  int          `json:"audio_duration_sec,omitempty"`
	IdempotencyKey string       `json:"idempotency_key"`
	IngestStatus   IngestStatus `json:"ingest_status"`
	CreatedAt      time.Time    `json:"created_at"`
}

// OccurredDate returns the entry's user-local calendar date.
func (e *Entry) OccurredDate() string {
	return e.OccurredAt.Format(DateLayout)
}

// StructuredFact is the classification output for one entry. Immutable once
// written; corrections create a new entry.
type StructuredFact struct {
	EntryID         string    `json:"entry_id"`
	Category        Category  `json:"category"`
	Activities      []string  `json:"activities"`
	Blockers        []string  `json:"blockers"`
	Accomplishments []string  `json:"accomplishments"`
	Learnings       []string  `json:"learnings"`
	Keywords        []string  `json:"keywords"`
	Sentiment       Sentiment `json:"sentiment"`
	Summary         string    `json:"summary"`
}

const (
	minKeywords    = 3
	maxKeywords    = 5
	maxSummaryWord = 50
)

// ErrInvalidFact is returned when a StructuredFact violates the closed schema.
var ErrInvalidFact = errors.New("invalid structured fact")

// Validate enforces the closed StructuredFact schema: a known category, 3-5
// lowercase keywords, and a bounded summary. Array fields may be empty but
// never nil after normalization.
func (f *StructuredFact) Validate() error {
	if f.Category == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidFact)
	}
	if f.Summary == "" {
		return fmt.Errorf("%w: missing summary", ErrInvalidFact)
	}
	if n := len(strings.Fields(f.Summary)); n > maxSummaryWord {
		return fmt.Errorf("%w: summary has %d words (max %d)", ErrInvalidFact, n, maxSummaryWord)
	}
	if len(f.Keywords) < minKeywords || len(f.Keywords) > maxKeywords {
		return fmt.Errorf("%w: got %d keywords, want %d-%d", ErrInvalidFact, len(f.Keywords), minKeywords, maxKeywords)
	}
	for _, k := range f.Keywords {
		if k != strings.ToLower(k) {
			return fmt.Errorf("%w: keyword %q is not lowercase", ErrInvalidFact, k)
		}
	}
	return nil
}

// Normalize clamps a fact produced by an external classifier into the schema:
// category and sentiment are folded onto their enums, keywords are lowercased
// and truncated, nil slices become empty ones.
func (f *StructuredFact) Normalize() {
	f.Category = ParseCategory(string(f.Category))
	f.Sentiment = ParseSentiment(string(f.Sentiment))

	for i, k := range f.Keywords {
		f.Keywords[i] = strings.ToLower(strings.TrimSpace(k))
	}
	if len(f.Keywords) > maxKeywords {
		f.Keywords = f.Keywords[:maxKeywords]
	}

	if f.Activities == nil {
		f.Activities = []string{}
	}
	if f.Blockers == nil {
		f.Blockers = []string{}
	}
	if f.Accomplishments == nil {
		f.Accomplishments = []string{}
	}
	if f.Learnings == nil {
		f.Learnings = []string{}
	}
	if f.Keywords == nil {
		f.Keywords = []string{}
	}
}

// EmbeddingRecord is the semantic representation of an entry. It cannot
// outlive the entry; the vector tier controls indexing.
type EmbeddingRecord struct {
	EntryID  string    `json:"entry_id"`
	Vector   []float32 `json:"vector"`
	TextUsed string    `json:"text_used"`
}

// StreakState is the per-user rolling commitment counter. Mutated only by the
// memory coordinator inside the entry commit boundary.
type StreakState struct {
	UserID        string `json:"user_id"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	LastEntryDate string `json:"last_entry_date"` // DateLayout, empty if no entries
}

// ArtifactKind distinguishes daily reflections from weekly reports.
type ArtifactKind string

const (
	KindDaily  ArtifactKind = "daily"
	KindWeekly ArtifactKind = "weekly"
)

// AggregationArtifact is a generated daily reflection or weekly report.
// At most one committed artifact exists per (user, period key, kind);
// regeneration overwrites content under the same identity.
type AggregationArtifact struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	PeriodKey         string           `json:"period_key"`
	Kind              ArtifactKind     `json:"kind"`
	Content           string           `json:"content"`
	SourceEntryIDs    []string         `json:"source_entry_ids"`
	EntryCount        int              `json:"entry_count"`
	CategoryHistogram map[Category]int `json:"category_histogram"`
	ProductivityScore float64          `json:"productivity_score"`
	Degraded          bool             `json:"degraded"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

// UserPrefs carries the per-user settings that schedule evaluation and nudge
// policy depend on. Timezone is explicit; nothing in the system reads the
// server clock's zone.
type UserPrefs struct {
	UserID        string `json:"user_id"`
	Timezone      string `json:"timezone"`       // IANA name, e.g. "Europe/Berlin"
	WeekStartDay  int    `json:"week_start_day"` // 0=Monday .. 6=Sunday
	MorningHour   int    `json:"morning_hour"`   // local hour for the morning nudge
	EveningHour   int    `json:"evening_hour"`   // local hour for reflection + streak nudge
	NudgesEnabled bool   `json:"nudges_enabled"`
}

// DefaultPrefs returns the prefs applied to a user who never configured any.
func DefaultPrefs(userID string) UserPrefs {
	return UserPrefs{
		UserID:        userID,
		Timezone:      "UTC",
		WeekStartDay:  0,
		MorningHour:   8,
		EveningHour:   21,
		NudgesEnabled: true,
	}
}

// Location resolves the user's IANA timezone, falling back to UTC on a bad or
// missing name rather than failing the caller.
func (p UserPrefs) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NudgeRecord logs a delivered nudge so that gap reminders fire once per gap.
type NudgeRecord struct {
	UserID string    `json:"user_id"`
	Kind   string    `json:"kind"`
	SentAt time.Time `json:"sent_at"`
}
