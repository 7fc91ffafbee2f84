package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/aggregate"
	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/narrative/template"
	"github.com/murmurhq/murmur/pkg/scheduler"
	"github.com/murmurhq/murmur/pkg/storage"
	"github.com/murmurhq/murmur/pkg/storage/inmemory"
)

// recordingNotifier captures deliveries.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	failWith error
}

func (r *recordingNotifier) Deliver(_ context.Context, _, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// flakyJobStore drops the first job-state writes, modelling a job table that
// recovers while the run is in flight.
type flakyJobStore struct {
	*inmemory.Driver
	jobWriteFailures int
}

func (f *flakyJobStore) PutJob(ctx context.Context, j *journal.JobState) error {
	if f.jobWriteFailures > 0 {
		f.jobWriteFailures--
		return errors.New("job table down")
	}
	return f.Driver.PutJob(ctx, j)
}

var _ = Describe("Engine", func() {
	var (
		ctx      context.Context
		store    *inmemory.Driver
		notifier *recordingNotifier
		engine   *scheduler.Engine
	)

	seedEntry := func(userID, entryID string, at time.Time) {
		row := storage.EntryRow{
			EntryID:      entryID,
			UserID:       userID,
			OccurredAt:   at,
			OccurredDate: at.Format(journal.DateLayout),
			IngestStatus: journal.StatusCommitted,
			Category:     journal.CategoryCoding,
			Keywords:     []string{},
			CreatedAt:    at,
		}
		Expect(store.UpsertEntryRow(ctx, &row)).To(Succeed())
		Expect(store.PutFact(ctx, &journal.StructuredFact{
			EntryID:   entryID,
			Category:  journal.CategoryCoding,
			Sentiment: journal.SentimentNeutral,
			Summary:   "worked on the importer",
			Keywords:  []string{"importer", "coding", "work"},
		})).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		notifier = &recordingNotifier{}

		agg, err := aggregate.NewEngine(&aggregate.Config{
			Store:    store,
			Fallback: template.NewComposer(),
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())

		engine = scheduler.NewEngine(&scheduler.Config{
			Store:      store,
			Aggregator: agg,
			Notifier:   notifier,
			Logger:     zap.NewNop(),
		})
	})

	Describe("daily reflection trigger", func() {
		It("generates at the user's evening hour", func() {
			seedEntry("ada", "e1", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
			Expect(store.PutStreak(ctx, &journal.StreakState{
				UserID: "ada", CurrentStreak: 1, LongestStreak: 1, LastEntryDate: "2026-03-02",
			})).To(Succeed())

			engine.Tick(time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC))

			artifact, err := store.GetArtifact(ctx, "ada", "2026-03-02", journal.KindDaily)
			Expect(err).NotTo(HaveOccurred())
			Expect(artifact.EntryCount).To(Equal(1))

			job, err := store.GetJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(journal.JobSucceeded))
		})

		It("does not regenerate on a second tick", func() {
			seedEntry("ada", "e1", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

			tick := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)
			engine.Tick(tick)
			first, err := store.GetArtifact(ctx, "ada", "2026-03-02", journal.KindDaily)
			Expect(err).NotTo(HaveOccurred())

			engine.Tick(tick.Add(time.Minute))
			engine.Tick(tick)
			second, err := store.GetArtifact(ctx, "ada", "2026-03-02", journal.KindDaily)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
			Expect(second.GeneratedAt).To(Equal(first.GeneratedAt))
		})

		It("evaluates the trigger on the user's local clock", func() {
			Expect(store.PutPrefs(ctx, &journal.UserPrefs{
				UserID:        "ada",
				Timezone:      "Asia/Tokyo",
				EveningHour:   21,
				MorningHour:   8,
				NudgesEnabled: false,
			})).To(Succeed())
			// 12:00 UTC is 21:00 in Tokyo; the entry's local date is March 2.
			seedEntry("ada", "e1", time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC))

			engine.Tick(time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC))
			_, err := store.GetArtifact(ctx, "ada", "2026-03-03", journal.KindDaily)
			Expect(storage.IsNotFound(err)).To(BeTrue())

			engine.Tick(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
			artifact, err := store.GetArtifact(ctx, "ada", "2026-03-02", journal.KindDaily)
			Expect(err).NotTo(HaveOccurred())
			Expect(artifact.EntryCount).To(Equal(1))
		})

		It("marks a quiet day succeeded without an artifact", func() {
			prefs := journal.DefaultPrefs("ada")
			Expect(store.PutPrefs(ctx, &prefs)).To(Succeed())

			engine.Tick(time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC))

			_, err := store.GetArtifact(ctx, "ada", "2026-03-02", journal.KindDaily)
			Expect(storage.IsNotFound(err)).To(BeTrue())

			job, err := store.GetJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(journal.JobSucceeded))
		})
	})

	Describe("job retry", func() {
		It("fails retryable with backoff, then terminal after max attempts", func() {
			seedEntry("ada", "e1", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
			store.FailRelational = errors.New("relational tier down")

			now := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)
			engine.RunJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection, now)

			job, err := store.GetJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(journal.JobFailedRetryable))
			Expect(job.Attempts).To(Equal(1))
			Expect(job.NotBefore.After(now)).To(BeTrue())

			// Before the backoff window expires the job is not picked up.
			engine.RunJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection, now.Add(time.Second))
			job, _ = store.GetJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection)
			Expect(job.Attempts).To(Equal(1))

			engine.RunJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection, job.NotBefore)
			engine.RunJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection, job.NotBefore.Add(time.Hour))

			job, _ = store.GetJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection)
			Expect(job.Status).To(Equal(journal.JobFailedTerminal))
			Expect(job.Attempts).To(Equal(3))

			// Terminal jobs stay terminal.
			engine.RunJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection, job.NotBefore.Add(2*time.Hour))
			job, _ = store.GetJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection)
			Expect(job.Status).To(Equal(journal.JobFailedTerminal))
		})

		It("re-runs a stale retryable job from a later tick", func() {
			seedEntry("ada", "e1", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
			store.FailRelational = errors.New("relational tier down")

			engine.Tick(time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC))

			job, err := store.GetJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(journal.JobFailedRetryable))

			// The store heals. No trigger minute ever fires for March 2
			// again; the tick's retry pass has to pick the job up.
			store.FailRelational = nil
			engine.Tick(time.Date(2026, 3, 2, 21, 2, 0, 0, time.UTC))

			artifact, err := store.GetArtifact(ctx, "ada", "2026-03-02", journal.KindDaily)
			Expect(err).NotTo(HaveOccurred())
			Expect(artifact.EntryCount).To(Equal(1))

			job, err = store.GetJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(journal.JobSucceeded))
		})

		It("waits out the backoff window across ticks", func() {
			seedEntry("ada", "e1", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
			store.FailRelational = errors.New("relational tier down")

			engine.Tick(time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC))
			store.FailRelational = nil

			// 21:00:30 is inside the one-minute backoff.
			engine.Tick(time.Date(2026, 3, 2, 21, 0, 30, 0, time.UTC))
			job, err := store.GetJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(journal.JobFailedRetryable))
			Expect(job.Attempts).To(Equal(1))
		})

		It("records the outcome even when the pre-run state write fails", func() {
			seedEntry("ada", "e1", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
			store.FailRelational = errors.New("relational tier down")
			flaky := &flakyJobStore{Driver: store, jobWriteFailures: 1}

			agg, err := aggregate.NewEngine(&aggregate.Config{
				Store:    store,
				Fallback: template.NewComposer(),
				Logger:   zap.NewNop(),
			})
			Expect(err).NotTo(HaveOccurred())
			eng := scheduler.NewEngine(&scheduler.Config{
				Store:      flaky,
				Aggregator: agg,
				Logger:     zap.NewNop(),
			})

			now := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)
			eng.RunJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection, now)

			job, err := store.GetJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(journal.JobFailedRetryable))
			Expect(job.Attempts).To(Equal(1))
		})
	})

	Describe("weekly report trigger", func() {
		It("generates the finished week at the week-start morning", func() {
			// ISO week 10 of 2026: Monday March 2 .. Sunday March 8.
			seedEntry("ada", "e1", time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))

			// Monday March 9, 08:00 UTC: week 10 just ended.
			engine.Tick(time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC))

			artifact, err := store.GetArtifact(ctx, "ada", "2026-W10", journal.KindWeekly)
			Expect(err).NotTo(HaveOccurred())
			Expect(artifact.EntryCount).To(Equal(1))
		})
	})

	Describe("nudges", func() {
		It("delivers and logs the evening streak warning once", func() {
			seedEntry("ada", "e1", time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC))
			Expect(store.PutStreak(ctx, &journal.StreakState{
				UserID: "ada", CurrentStreak: 4, LongestStreak: 4, LastEntryDate: "2026-03-01",
			})).To(Succeed())

			tick := time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC)
			engine.Tick(tick)
			Expect(notifier.Count()).To(Equal(1))

			record, err := store.LastNudge(ctx, "ada")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Kind).To(Equal("streak"))

			engine.Tick(tick.Add(time.Minute))
			Expect(notifier.Count()).To(Equal(1))
		})

		It("does not log a nudge when delivery fails", func() {
			seedEntry("ada", "e1", time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC))
			Expect(store.PutStreak(ctx, &journal.StreakState{
				UserID: "ada", CurrentStreak: 4, LongestStreak: 4, LastEntryDate: "2026-03-01",
			})).To(Succeed())
			notifier.failWith = errors.New("transport down")

			engine.Tick(time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC))

			_, err := store.LastNudge(ctx, "ada")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("sweeps inactivity reminders only", func() {
			seedEntry("ada", "e1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
			Expect(store.PutStreak(ctx, &journal.StreakState{
				UserID: "ada", CurrentStreak: 0, LongestStreak: 4, LastEntryDate: "2026-03-01",
			})).To(Succeed())

			// 28 hours after the last entry, mid-afternoon.
			engine.Sweep(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))
			Expect(notifier.Count()).To(Equal(1))

			record, err := store.LastNudge(ctx, "ada")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Kind).To(Equal("reminder"))
		})
	})

	Describe("RunOnDemand", func() {
		It("generates and records the job as succeeded", func() {
			seedEntry("ada", "e1", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

			artifact, err := engine.RunOnDemand(ctx, "ada", "2026-03-02", journal.KindDaily, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(artifact.EntryCount).To(Equal(1))

			job, err := store.GetJob(ctx, "ada", "2026-03-02", journal.JobDailyReflection)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(journal.JobSucceeded))
		})

		It("force regenerates under the same identity", func() {
			seedEntry("ada", "e1", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

			first, err := engine.RunOnDemand(ctx, "ada", "2026-03-02", journal.KindDaily, false)
			Expect(err).NotTo(HaveOccurred())

			seedEntry("ada", "e2", time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC))
			regen, err := engine.RunOnDemand(ctx, "ada", "2026-03-02", journal.KindDaily, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(regen.ID).To(Equal(first.ID))
			Expect(regen.EntryCount).To(Equal(2))
		})
	})
})
