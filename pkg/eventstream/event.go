package eventstream

import (
	"time"

	"github.com/murmurhq/murmur/pkg/journal"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeEntryIngested is emitted after an entry commit completes,
	// whether fully committed or degraded.
	EventTypeEntryIngested = "murmur.entry.ingested"

	// EventTypeEntryDeleted is emitted after a user-initiated entry deletion.
	EventTypeEntryDeleted = "murmur.entry.deleted"

	// EventTypeArtifactGenerated is emitted when an aggregation artifact is
	// committed for the first time or regenerated.
	EventTypeArtifactGenerated = "murmur.artifact.generated"
)

// EntryIngestedEvent is a transport-neutral event payload for a committed entry.
type EntryIngestedEvent struct {
	SchemaVersion int                  `json:"schema_version"`
	EventType     string               `json:"event_type"`
	EventID       string               `json:"event_id"`
	EmittedAt     time.Time            `json:"emitted_at"`
	Entry         journal.Entry        `json:"entry"`
	Tiers         TierOutcome          `json:"tiers"`
	Streak        *journal.StreakState `json:"streak,omitempty"`
}

// TierOutcome records which storage tiers the commit reached. Raw is always
// true in an emitted event; the commit aborts before emission without it.
type TierOutcome struct {
	Raw        bool `json:"raw"`
	Structured bool `json:"structured"`
	Vector     bool `json:"vector"`
	Relational bool `json:"relational"`
}

// EntryDeletedEvent is emitted after an entry's cascade delete.
type EntryDeletedEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	UserID        string    `json:"user_id"`
	EntryID       string    `json:"entry_id"`
}

// ArtifactGeneratedEvent is emitted after an artifact commit.
type ArtifactGeneratedEvent struct {
	SchemaVersion int                         `json:"schema_version"`
	EventType     string                      `json:"event_type"`
	EventID       string                      `json:"event_id"`
	EmittedAt     time.Time                   `json:"emitted_at"`
	Artifact      journal.AggregationArtifact `json:"artifact"`
	Regenerated   bool                        `json:"regenerated"`
}
