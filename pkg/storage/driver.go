// Package storage defines the non-vector storage tiers of the murmur system.
//
// Three logical tiers share this package: the raw tier (append-only audit log
// of transcripts, the system of record), the structured tier (per-entry
// classification facts), and the relational tier (denormalized rows plus
// streaks, artifacts, prefs, nudge log, and scheduler job state — the source
// for every aggregation and dashboard query).
//
// Implementations may back all three tiers with one database, but the
// interfaces stay separate so the memory coordinator can degrade per tier:
// a failed structured write must not fail the raw append.
package storage

import (
	"context"
	"time"

	"github.com/murmurhq/murmur/pkg/journal"
)

// RawStore is the append-only audit tier. Entries are only ever appended,
// status-advanced, or explicitly deleted by the owning user; nothing rewrites
// a stored transcript.
type RawStore interface {
	// AppendEntry stores a new entry. Returns false without error if an
	// entry with the same (user_id, idempotency_key) already exists — the
	// at-least-once upstream makes duplicate appends routine, not errors.
	AppendEntry(ctx context.Context, e *journal.Entry) (bool, error)

	// GetEntry retrieves one entry by id.
	GetEntry(ctx context.Context, entryID string) (*journal.Entry, error)

	// GetEntryByKey retrieves a user's entry by idempotency key.
	GetEntryByKey(ctx context.Context, userID, key string) (*journal.Entry, error)

	// SetIngestStatus advances an entry's ingest status. The only mutation
	// the raw tier permits.
	SetIngestStatus(ctx context.Context, entryID string, status journal.IngestStatus) error

	// EntryDates returns the distinct user-local calendar dates on which
	// the user has entries. Feeds streak re-derivation.
	EntryDates(ctx context.Context, userID string) ([]string, error)

	// DeleteEntry removes an entry from the raw tier. User-initiated only;
	// the coordinator cascades across the remaining tiers.
	DeleteEntry(ctx context.Context, entryID string) error
}

// FactStore is the structured tier: exactly one fact per committed entry.
type FactStore interface {
	PutFact(ctx context.Context, f *journal.StructuredFact) error
	GetFact(ctx context.Context, entryID string) (*journal.StructuredFact, error)
	DeleteFact(ctx context.Context, entryID string) error
}

// EntryRow is the relational tier's denormalized per-entry row, shaped for
// aggregation and dashboard pagination. Structured columns are empty when
// classification has not landed; NeedsRepair flags the row for the background
// repair sweep.
type EntryRow struct {
	EntryID         string
	UserID          string
	OccurredAt      time.Time
	OccurredDate    string // journal.DateLayout
	IngestStatus    journal.IngestStatus
	Category        journal.Category // empty when unclassified
	Sentiment       journal.Sentiment
	Summary         string
	Keywords        []string
	Accomplishments int
	Blockers        int
	Learnings       int
	NeedsRepair     bool
	RepairAttempts  int
	CreatedAt       time.Time
}

// EntryQuery filters and paginates dashboard entry listings.
type EntryQuery struct {
	UserID   string
	Category journal.Category // optional
	From     time.Time        // optional, inclusive
	To       time.Time        // optional, exclusive
	EntryIDs []string         // optional, restrict to these ids (text search results)
	Limit    int
	Offset   int
}

// RelationalStore is the aggregation-friendly tier. It also owns the
// transactionally-maintained satellite tables: streaks, artifacts, user
// prefs, the nudge log, and scheduler job state.
type RelationalStore interface {
	UpsertEntryRow(ctx context.Context, row *EntryRow) error
	EntriesInWindow(ctx context.Context, userID string, start, end time.Time) ([]EntryRow, error)
	ListEntries(ctx context.Context, q EntryQuery) ([]EntryRow, int, error)
	RowsNeedingRepair(ctx context.Context, limit int) ([]EntryRow, error)
	SetRepairState(ctx context.Context, entryID string, attempts int, needsRepair bool) error
	DeleteEntryRow(ctx context.Context, entryID string) error

	GetStreak(ctx context.Context, userID string) (*journal.StreakState, error)
	PutStreak(ctx context.Context, s *journal.StreakState) error

	// InsertArtifact commits an artifact under its (user, period, kind)
	// identity. First committer wins: if a committed artifact already
	// exists, it is returned with created=false and no error.
	InsertArtifact(ctx context.Context, a *journal.AggregationArtifact) (stored *journal.AggregationArtifact, created bool, err error)

	// ReplaceArtifact overwrites content under the existing identity (forced
	// regeneration). Keeps the original artifact id.
	ReplaceArtifact(ctx context.Context, a *journal.AggregationArtifact) (*journal.AggregationArtifact, error)

	GetArtifact(ctx context.Context, userID, periodKey string, kind journal.ArtifactKind) (*journal.AggregationArtifact, error)
	ListArtifacts(ctx context.Context, userID string, kind journal.ArtifactKind, limit, offset int) ([]journal.AggregationArtifact, error)

	GetPrefs(ctx context.Context, userID string) (*journal.UserPrefs, error)
	PutPrefs(ctx context.Context, p *journal.UserPrefs) error
	ListUsers(ctx context.Context) ([]string, error)
	LastEntryAt(ctx context.Context, userID string) (time.Time, error)

	LogNudge(ctx context.Context, n *journal.NudgeRecord) error
	LastNudge(ctx context.Context, userID string) (*journal.NudgeRecord, error)

	GetJob(ctx context.Context, userID, periodKey string, kind journal.JobKind) (*journal.JobState, error)
	PutJob(ctx context.Context, j *journal.JobState) error
	ListJobs(ctx context.Context, status journal.JobStatus, limit int) ([]journal.JobState, error)
}

// Driver is a full storage backend covering all three tiers.
type Driver interface {
	RawStore
	FactStore
	RelationalStore

	// Close releases backend resources.
	Close() error
}
