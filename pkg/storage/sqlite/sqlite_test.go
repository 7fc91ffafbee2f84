package sqlite_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/storage"
	"github.com/murmurhq/murmur/pkg/storage/sqlite"
)

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *sqlite.Driver
	)

	entry := func(id, userID string, at time.Time) *journal.Entry {
		return &journal.Entry{
			ID:             id,
			UserID:         userID,
			OccurredAt:     at,
			RawText:        "fixed the flaky import test",
			AudioRef:       "voice/" + id + ".ogg",
			AudioDuration:  42,
			IdempotencyKey: journal.IdempotencyKey(userID, "voice/"+id+".ogg", at),
			IngestStatus:   journal.StatusPending,
			CreatedAt:      at,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		driver, err = sqlite.NewDriver(":memory:")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(driver.Close)
	})

	Describe("raw tier", func() {
		It("appends and retrieves entries", func() {
			at := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
			created, err := driver.AppendEntry(ctx, entry("e1", "ada", at))
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			got, err := driver.GetEntry(ctx, "e1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.UserID).To(Equal("ada"))
			Expect(got.RawText).To(Equal("fixed the flaky import test"))
			Expect(got.AudioDuration).To(Equal(42))
			Expect(got.IngestStatus).To(Equal(journal.StatusPending))
		})

		It("deduplicates on the idempotency key", func() {
			at := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
			e := entry("e1", "ada", at)
			created, err := driver.AppendEntry(ctx, e)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			dup := entry("e2", "ada", at)
			dup.IdempotencyKey = e.IdempotencyKey
			created, err = driver.AppendEntry(ctx, dup)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())

			// The original is still the stored entry for that key.
			got, err := driver.GetEntryByKey(ctx, "ada", e.IdempotencyKey)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("e1"))
		})

		It("allows the same key for different users", func() {
			at := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
			a := entry("e1", "ada", at)
			b := entry("e2", "grace", at)
			b.IdempotencyKey = a.IdempotencyKey

			for _, e := range []*journal.Entry{a, b} {
				created, err := driver.AppendEntry(ctx, e)
				Expect(err).NotTo(HaveOccurred())
				Expect(created).To(BeTrue())
			}
		})

		It("advances ingest status", func() {
			at := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
			_, err := driver.AppendEntry(ctx, entry("e1", "ada", at))
			Expect(err).NotTo(HaveOccurred())

			Expect(driver.SetIngestStatus(ctx, "e1", journal.StatusCommitted)).To(Succeed())
			got, err := driver.GetEntry(ctx, "e1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.IngestStatus).To(Equal(journal.StatusCommitted))
		})

		It("returns not-found for missing entries", func() {
			_, err := driver.GetEntry(ctx, "nope")
			Expect(storage.IsNotFound(err)).To(BeTrue())
			Expect(storage.IsNotFound(driver.SetIngestStatus(ctx, "nope", journal.StatusCommitted))).To(BeTrue())
		})

		It("lists distinct entry dates in order", func() {
			for i, day := range []int{3, 1, 3, 2} {
				at := time.Date(2026, 3, day, 10+i, 0, 0, 0, time.UTC)
				_, err := driver.AppendEntry(ctx, entry(string(rune('a'+i)), "ada", at))
				Expect(err).NotTo(HaveOccurred())
			}
			dates, err := driver.EntryDates(ctx, "ada")
			Expect(err).NotTo(HaveOccurred())
			Expect(dates).To(Equal([]string{"2026-03-01", "2026-03-02", "2026-03-03"}))
		})

		It("deletes entries", func() {
			at := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
			_, err := driver.AppendEntry(ctx, entry("e1", "ada", at))
			Expect(err).NotTo(HaveOccurred())

			Expect(driver.DeleteEntry(ctx, "e1")).To(Succeed())
			_, err = driver.GetEntry(ctx, "e1")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("structured tier", func() {
		It("round-trips a fact", func() {
			f := &journal.StructuredFact{
				EntryID:         "e1",
				Category:        journal.CategoryDebugging,
				Activities:      []string{"chased a race in the importer"},
				Blockers:        []string{},
				Accomplishments: []string{"found the missing lock"},
				Learnings:       []string{},
				Keywords:        []string{"race", "importer", "mutex"},
				Sentiment:       journal.SentimentPositive,
				Summary:         "tracked down the importer race",
			}
			Expect(driver.PutFact(ctx, f)).To(Succeed())

			got, err := driver.GetFact(ctx, "e1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(f))
		})

		It("replaces a fact on re-put", func() {
			f := &journal.StructuredFact{
				EntryID: "e1", Category: journal.CategoryOther,
				Activities: []string{}, Blockers: []string{}, Accomplishments: []string{},
				Learnings: []string{}, Keywords: []string{"a", "b", "c"},
				Sentiment: journal.SentimentNeutral, Summary: "first pass",
			}
			Expect(driver.PutFact(ctx, f)).To(Succeed())
			f.Category = journal.CategoryCoding
			f.Summary = "second pass"
			Expect(driver.PutFact(ctx, f)).To(Succeed())

			got, err := driver.GetFact(ctx, "e1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Category).To(Equal(journal.CategoryCoding))
			Expect(got.Summary).To(Equal("second pass"))
		})
	})

	Describe("relational tier", func() {
		row := func(id, userID string, at time.Time, cat journal.Category) *storage.EntryRow {
			return &storage.EntryRow{
				EntryID:      id,
				UserID:       userID,
				OccurredAt:   at,
				OccurredDate: at.Format(journal.DateLayout),
				IngestStatus: journal.StatusCommitted,
				Category:     cat,
				Sentiment:    journal.SentimentNeutral,
				Summary:      "summary for " + id,
				Keywords:     []string{"one", "two", "three"},
				CreatedAt:    at,
			}
		}

		It("filters and paginates dashboard listings", func() {
			base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				cat := journal.CategoryCoding
				if i%2 == 1 {
					cat = journal.CategoryMeeting
				}
				r := row(string(rune('a'+i)), "ada", base.Add(time.Duration(i)*time.Hour), cat)
				Expect(driver.UpsertEntryRow(ctx, r)).To(Succeed())
			}

			all, total, err := driver.ListEntries(ctx, storage.EntryQuery{UserID: "ada", Limit: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(5))
			Expect(all).To(HaveLen(2))
			// Newest first.
			Expect(all[0].EntryID).To(Equal("e"))

			coding, total, err := driver.ListEntries(ctx, storage.EntryQuery{
				UserID: "ada", Category: journal.CategoryCoding, Limit: 10,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(3))
			Expect(coding).To(HaveLen(3))

			page2, _, err := driver.ListEntries(ctx, storage.EntryQuery{UserID: "ada", Limit: 2, Offset: 4})
			Expect(err).NotTo(HaveOccurred())
			Expect(page2).To(HaveLen(1))
			Expect(page2[0].EntryID).To(Equal("a"))
		})

		It("restricts to explicit entry ids", func() {
			base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
			for _, id := range []string{"a", "b", "c"} {
				Expect(driver.UpsertEntryRow(ctx, row(id, "ada", base, journal.CategoryCoding))).To(Succeed())
				base = base.Add(time.Hour)
			}

			got, total, err := driver.ListEntries(ctx, storage.EntryQuery{
				UserID: "ada", EntryIDs: []string{"a", "c"}, Limit: 10,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(2))
			Expect(got).To(HaveLen(2))

			empty, total, err := driver.ListEntries(ctx, storage.EntryQuery{
				UserID: "ada", EntryIDs: []string{}, Limit: 10,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(BeZero())
			Expect(empty).To(BeEmpty())
		})

		It("returns rows inside a half-open window in order", func() {
			base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
			for i, id := range []string{"a", "b", "c"} {
				at := base.Add(time.Duration(i*12) * time.Hour)
				Expect(driver.UpsertEntryRow(ctx, row(id, "ada", at, journal.CategoryCoding))).To(Succeed())
			}

			got, err := driver.EntriesInWindow(ctx, "ada", base, base.Add(24*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(2))
			Expect(got[0].EntryID).To(Equal("a"))
			Expect(got[1].EntryID).To(Equal("b"))
		})

		It("tracks repair state", func() {
			at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
			r := row("e1", "ada", at, "")
			r.NeedsRepair = true
			Expect(driver.UpsertEntryRow(ctx, r)).To(Succeed())

			pending, err := driver.RowsNeedingRepair(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].EntryID).To(Equal("e1"))

			Expect(driver.SetRepairState(ctx, "e1", 1, false)).To(Succeed())
			pending, err = driver.RowsNeedingRepair(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})

		It("stores streak state", func() {
			s := &journal.StreakState{UserID: "ada", CurrentStreak: 4, LongestStreak: 9, LastEntryDate: "2026-03-02"}
			Expect(driver.PutStreak(ctx, s)).To(Succeed())

			got, err := driver.GetStreak(ctx, "ada")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(s))

			_, err = driver.GetStreak(ctx, "nobody")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("artifacts", func() {
		artifact := func(id string) *journal.AggregationArtifact {
			return &journal.AggregationArtifact{
				ID:                id,
				UserID:            "ada",
				PeriodKey:         "2026-03-02",
				Kind:              journal.KindDaily,
				Content:           "a solid day of debugging",
				SourceEntryIDs:    []string{"e1", "e2"},
				EntryCount:        2,
				CategoryHistogram: map[journal.Category]int{journal.CategoryDebugging: 2},
				ProductivityScore: 5.7,
				GeneratedAt:       time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC),
			}
		}

		It("lets the first committer win", func() {
			stored, created, err := driver.InsertArtifact(ctx, artifact("art-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(stored.ID).To(Equal("art-1"))

			loser := artifact("art-2")
			loser.Content = "a different narrative"
			stored, created, err = driver.InsertArtifact(ctx, loser)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(stored.ID).To(Equal("art-1"))
			Expect(stored.Content).To(Equal("a solid day of debugging"))
		})

		It("replaces content under the existing identity", func() {
			_, _, err := driver.InsertArtifact(ctx, artifact("art-1"))
			Expect(err).NotTo(HaveOccurred())

			regen := artifact("art-2")
			regen.Content = "regenerated narrative"
			stored, err := driver.ReplaceArtifact(ctx, regen)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ID).To(Equal("art-1"))
			Expect(stored.Content).To(Equal("regenerated narrative"))
		})

		It("lists artifacts newest period first", func() {
			for _, day := range []string{"2026-03-01", "2026-03-03", "2026-03-02"} {
				a := artifact("art-" + day)
				a.PeriodKey = day
				_, _, err := driver.InsertArtifact(ctx, a)
				Expect(err).NotTo(HaveOccurred())
			}
			got, err := driver.ListArtifacts(ctx, "ada", journal.KindDaily, 10, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(3))
			Expect(got[0].PeriodKey).To(Equal("2026-03-03"))
			Expect(got[2].PeriodKey).To(Equal("2026-03-01"))
		})
	})

	Describe("prefs, nudges, and jobs", func() {
		It("round-trips prefs", func() {
			p := journal.DefaultPrefs("ada")
			p.Timezone = "Europe/Berlin"
			p.WeekStartDay = 6
			Expect(driver.PutPrefs(ctx, &p)).To(Succeed())

			got, err := driver.GetPrefs(ctx, "ada")
			Expect(err).NotTo(HaveOccurred())
			Expect(*got).To(Equal(p))
		})

		It("lists users across prefs and rows", func() {
			p := journal.DefaultPrefs("ada")
			Expect(driver.PutPrefs(ctx, &p)).To(Succeed())
			Expect(driver.UpsertEntryRow(ctx, &storage.EntryRow{
				EntryID: "e1", UserID: "grace",
				OccurredAt:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
				OccurredDate: "2026-03-02", IngestStatus: journal.StatusCommitted,
				Keywords:  []string{},
				CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			})).To(Succeed())

			users, err := driver.ListUsers(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(Equal([]string{"ada", "grace"}))
		})

		It("records nudges and reports the latest", func() {
			first := &journal.NudgeRecord{UserID: "ada", Kind: "gap_reminder", SentAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
			second := &journal.NudgeRecord{UserID: "ada", Kind: "streak_risk", SentAt: time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)}
			Expect(driver.LogNudge(ctx, first)).To(Succeed())
			Expect(driver.LogNudge(ctx, second)).To(Succeed())

			got, err := driver.LastNudge(ctx, "ada")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Kind).To(Equal("streak_risk"))
		})

		It("persists job state transitions", func() {
			j := &journal.JobState{
				UserID: "ada", PeriodKey: "2026-03-02", Kind: journal.JobDailyReflection,
				Status:    journal.JobScheduled,
				NotBefore: time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC),
				UpdatedAt: time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC),
			}
			Expect(driver.PutJob(ctx, j)).To(Succeed())

			j.Status = journal.JobFailedRetryable
			j.Attempts = 1
			j.LastError = "narrative generation timed out"
			Expect(driver.PutJob(ctx, j)).To(Succeed())

			got, err := driver.GetJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(journal.JobFailedRetryable))
			Expect(got.Attempts).To(Equal(1))

			retryable, err := driver.ListJobs(ctx, journal.JobFailedRetryable, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(retryable).To(HaveLen(1))
		})
	})
})
