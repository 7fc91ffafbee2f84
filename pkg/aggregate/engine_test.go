package aggregate_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/aggregate"
	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/narrative"
	"github.com/murmurhq/murmur/pkg/narrative/template"
	"github.com/murmurhq/murmur/pkg/storage"
	"github.com/murmurhq/murmur/pkg/storage/inmemory"
	vecmem "github.com/murmurhq/murmur/pkg/vector/memory"
)

// failingComposer simulates a narrator whose retries are exhausted.
type failingComposer struct{ calls int }

func (f *failingComposer) ComposeDaily(context.Context, narrative.DailyInput) (string, error) {
	f.calls++
	return "", narrative.ErrComposition
}

func (f *failingComposer) ComposeWeekly(context.Context, narrative.WeeklyInput) (string, error) {
	f.calls++
	return "", narrative.ErrComposition
}

func (f *failingComposer) Close() error { return nil }

type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 4)
	for i, r := range text {
		vec[i%4] += float32(r) / 100
	}
	return vec, nil
}

func (constEmbedder) Close() error { return nil }

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		store  *inmemory.Driver
		engine *aggregate.Engine
	)

	seedEntry := func(userID string, at time.Time, cat journal.Category, fact *journal.StructuredFact) string {
		entryID := fmt.Sprintf("%s-%s", userID, at.Format("2006-01-02T15"))
		row := storage.EntryRow{
			EntryID:      entryID,
			UserID:       userID,
			OccurredAt:   at,
			OccurredDate: at.Format(journal.DateLayout),
			IngestStatus: journal.StatusCommitted,
			Category:     cat,
			Keywords:     []string{},
			CreatedAt:    at,
		}
		if fact == nil {
			row.IngestStatus = journal.StatusDegraded
			row.NeedsRepair = true
		}
		Expect(store.UpsertEntryRow(ctx, &row)).To(Succeed())
		if fact != nil {
			fact.EntryID = entryID
			fact.Category = cat
			Expect(store.PutFact(ctx, fact)).To(Succeed())
		}
		return entryID
	}

	newEngine := func(narrator narrative.Composer) *aggregate.Engine {
		e, err := aggregate.NewEngine(&aggregate.Config{
			Store:    store,
			Vectors:  vecmem.NewMemoryDriver(),
			Embed:    constEmbedder{},
			Narrator: narrator,
			Fallback: template.NewComposer(),
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		engine = newEngine(nil)
	})

	Describe("daily reflections", func() {
		day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

		It("computes deterministic fields from the period's facts", func() {
			seedEntry("ada", day.Add(9*time.Hour), journal.CategoryCoding, &journal.StructuredFact{
				Summary:         "shipped the importer",
				Sentiment:       journal.SentimentPositive,
				Keywords:        []string{"importer", "shipping", "release"},
				Accomplishments: []string{"shipped the importer"},
			})
			seedEntry("ada", day.Add(15*time.Hour), journal.CategoryDebugging, &journal.StructuredFact{
				Summary:   "chased a race in the worker pool",
				Sentiment: journal.SentimentNegative,
				Keywords:  []string{"race", "workers", "debugging"},
				Blockers:  []string{"race still open"},
			})

			artifact, err := engine.Generate(ctx, "ada", "2026-03-02", journal.KindDaily, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(artifact.EntryCount).To(Equal(2))
			Expect(artifact.CategoryHistogram).To(Equal(map[journal.Category]int{
				journal.CategoryCoding:    1,
				journal.CategoryDebugging: 1,
			}))
			Expect(artifact.ProductivityScore).To(BeNumerically(">", 0))
			Expect(artifact.Degraded).To(BeFalse())
			Expect(artifact.SourceEntryIDs).To(HaveLen(2))
			Expect(artifact.Content).NotTo(BeEmpty())
		})

		It("returns the committed artifact on repeat generation", func() {
			seedEntry("ada", day.Add(9*time.Hour), journal.CategoryCoding, &journal.StructuredFact{Summary: "work"})

			first, err := engine.Generate(ctx, "ada", "2026-03-02", journal.KindDaily, false)
			Expect(err).NotTo(HaveOccurred())

			second, err := engine.Generate(ctx, "ada", "2026-03-02", journal.KindDaily, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
			Expect(second.GeneratedAt).To(Equal(first.GeneratedAt))
		})

		It("regenerates in place under force, keeping the identity", func() {
			seedEntry("ada", day.Add(9*time.Hour), journal.CategoryCoding, &journal.StructuredFact{Summary: "work"})

			first, err := engine.Generate(ctx, "ada", "2026-03-02", journal.KindDaily, false)
			Expect(err).NotTo(HaveOccurred())

			seedEntry("ada", day.Add(16*time.Hour), journal.CategoryLearning, &journal.StructuredFact{Summary: "read up on cron"})

			regen, err := engine.Generate(ctx, "ada", "2026-03-02", journal.KindDaily, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(regen.ID).To(Equal(first.ID))
			Expect(regen.EntryCount).To(Equal(2))

			stored, err := store.GetArtifact(ctx, "ada", "2026-03-02", journal.KindDaily)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.EntryCount).To(Equal(2))
		})

		It("flags the artifact degraded when entries have no facts", func() {
			seedEntry("ada", day.Add(9*time.Hour), journal.CategoryCoding, &journal.StructuredFact{Summary: "work"})
			seedEntry("ada", day.Add(15*time.Hour), "", nil)

			artifact, err := engine.Generate(ctx, "ada", "2026-03-02", journal.KindDaily, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(artifact.Degraded).To(BeTrue())
			Expect(artifact.EntryCount).To(Equal(2))
			// Only classified entries contribute to the histogram.
			Expect(artifact.CategoryHistogram).To(Equal(map[journal.Category]int{
				journal.CategoryCoding: 1,
			}))
		})

		It("refuses to generate over an empty window", func() {
			_, err := engine.Generate(ctx, "ada", "2026-03-02", journal.KindDaily, false)
			Expect(errors.Is(err, aggregate.ErrNoEntries)).To(BeTrue())

			_, err = store.GetArtifact(ctx, "ada", "2026-03-02", journal.KindDaily)
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("falls back to the template when the narrator fails", func() {
			seedEntry("ada", day.Add(9*time.Hour), journal.CategoryCoding, &journal.StructuredFact{Summary: "work"})

			narrator := &failingComposer{}
			engine = newEngine(narrator)

			artifact, err := engine.Generate(ctx, "ada", "2026-03-02", journal.KindDaily, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(narrator.calls).To(Equal(1))
			Expect(artifact.Degraded).To(BeTrue())
			Expect(artifact.Content).To(ContainSubstring("2026-03-02"))
		})
	})

	Describe("weekly reports", func() {
		It("aggregates a week of entries into one histogram", func() {
			// Monday through Wednesday of ISO week 10, 2026.
			monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
			seedEntry("ada", monday, journal.CategoryCoding, &journal.StructuredFact{Summary: "built the schema"})
			seedEntry("ada", monday.AddDate(0, 0, 1), journal.CategoryDebugging, &journal.StructuredFact{Summary: "chased the race"})
			seedEntry("ada", monday.AddDate(0, 0, 2), journal.CategoryLearning, &journal.StructuredFact{Summary: "read the cron docs"})

			artifact, err := engine.Generate(ctx, "ada", "2026-W10", journal.KindWeekly, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(artifact.Kind).To(Equal(journal.KindWeekly))
			Expect(artifact.EntryCount).To(Equal(3))
			Expect(artifact.CategoryHistogram).To(Equal(map[journal.Category]int{
				journal.CategoryCoding:    1,
				journal.CategoryDebugging: 1,
				journal.CategoryLearning:  1,
			}))
		})

		It("evaluates the window in the user's timezone", func() {
			Expect(store.PutPrefs(ctx, &journal.UserPrefs{
				UserID:   "ada",
				Timezone: "Pacific/Auckland",
			})).To(Succeed())

			// 11pm UTC Sunday is already Monday in Auckland.
			sundayUTC := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
			seedEntry("ada", sundayUTC, journal.CategoryCoding, &journal.StructuredFact{Summary: "late night fix"})

			artifact, err := engine.Generate(ctx, "ada", "2026-W10", journal.KindWeekly, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(artifact.EntryCount).To(Equal(1))
		})
	})
})
