package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/murmurhq/murmur/pkg/eventstream"
	"github.com/murmurhq/murmur/pkg/journal"
)

var _ = Describe("Event", func() {
	It("marshals EntryIngestedEvent with expected top-level keys", func() {
		now := time.Unix(1772409600, 0).UTC()
		event := eventstream.EntryIngestedEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeEntryIngested,
			EventID:       "evt_123",
			EmittedAt:     now,
			Entry: journal.Entry{
				ID:           "e1",
				UserID:       "ada",
				OccurredAt:   now,
				RawText:      "shipped the importer fix",
				IngestStatus: journal.StatusCommitted,
			},
			Tiers: eventstream.TierOutcome{
				Raw: true, Structured: true, Vector: true, Relational: true,
			},
			Streak: &journal.StreakState{UserID: "ada", CurrentStreak: 3, LongestStreak: 7},
		}

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("entry"))
		Expect(got).To(HaveKey("tiers"))
		Expect(got).To(HaveKey("streak"))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeEntryIngested).To(Equal("murmur.entry.ingested"))
		Expect(eventstream.EventTypeEntryDeleted).To(Equal("murmur.entry.deleted"))
		Expect(eventstream.EventTypeArtifactGenerated).To(Equal("murmur.artifact.generated"))
	})

	It("provides ErrNilEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilEvent).NotTo(BeNil())
		Expect(eventstream.ErrNilEvent).To(MatchError("nil event"))
	})
})
