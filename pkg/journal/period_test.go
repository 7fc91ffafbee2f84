package journal_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/murmurhq/murmur/pkg/journal"
)

var _ = Describe("Period keys", func() {
	berlin, _ := time.LoadLocation("Europe/Berlin")

	It("derives the day key in the user's zone, not UTC", func() {
		// 23:30 UTC on March 9 is already March 10 in Berlin.
		t := time.Date(2025, 3, 9, 23, 30, 0, 0, time.UTC)
		Expect(journal.DayKey(t, time.UTC)).To(Equal("2025-03-09"))
		Expect(journal.DayKey(t, berlin)).To(Equal("2025-03-10"))
	})

	It("derives ISO week keys", func() {
		t := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC) // Wednesday of week 10
		Expect(journal.WeekKey(t, time.UTC)).To(Equal("2025-W10"))
	})

	It("resolves a daily window as a half-open day range", func() {
		p, err := journal.DayPeriod("2025-03-10", time.UTC)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Start).To(Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)))
		Expect(p.Contains(time.Date(2025, 3, 10, 23, 59, 59, 0, time.UTC))).To(BeTrue())
		Expect(p.Contains(time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC))).To(BeFalse())
	})

	It("resolves an ISO week window starting Monday", func() {
		p, err := journal.WeekPeriod("2025-W10", time.UTC, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Start.Weekday()).To(Equal(time.Monday))
		Expect(p.Start).To(Equal(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)))
		Expect(p.End).To(Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)))
	})

	It("shifts the week window for a configured week start day", func() {
		p, err := journal.WeekPeriod("2025-W10", time.UTC, 6) // week starts Sunday
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Start.Weekday()).To(Equal(time.Sunday))
	})

	It("rejects malformed week keys", func() {
		_, err := journal.WeekPeriod("2025-10", time.UTC, 0)
		Expect(err).To(HaveOccurred())
		_, err = journal.WeekPeriod("2025-W99", time.UTC, 0)
		Expect(err).To(HaveOccurred())
	})

	It("handles years whose Jan 1 falls in the previous ISO year", func() {
		// 2027-01-01 is a Friday, part of ISO week 2026-W53.
		t := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
		Expect(journal.WeekKey(t, time.UTC)).To(Equal("2026-W53"))
	})
})

var _ = Describe("IdempotencyKey", func() {
	It("is stable for the same user, audio, and date", func() {
		t := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
		later := time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC)
		Expect(journal.IdempotencyKey("u1", "audio-1", t)).
			To(Equal(journal.IdempotencyKey("u1", "audio-1", later)))
	})

	It("differs across users, audio refs, and dates", func() {
		t := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
		base := journal.IdempotencyKey("u1", "audio-1", t)
		Expect(journal.IdempotencyKey("u2", "audio-1", t)).NotTo(Equal(base))
		Expect(journal.IdempotencyKey("u1", "audio-2", t)).NotTo(Equal(base))
		Expect(journal.IdempotencyKey("u1", "audio-1", t.AddDate(0, 0, 1))).NotTo(Equal(base))
	})
})
