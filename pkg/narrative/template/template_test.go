package template_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/narrative"
	"github.com/murmurhq/murmur/pkg/narrative/template"
)

var _ = Describe("Composer", func() {
	c := template.NewComposer()

	It("mentions accomplishments and blockers in the daily reflection", func() {
		out, err := c.ComposeDaily(context.Background(), narrative.DailyInput{
			UserID:  "ada",
			DateKey: "2026-03-02",
			Facts: []journal.StructuredFact{
				{
					Category:        journal.CategoryCoding,
					Accomplishments: []string{"merged the importer fix"},
					Blockers:        []string{"flaky CI runner"},
					Summary:         "importer work",
				},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("2026-03-02"))
		Expect(out).To(ContainSubstring("merged the importer fix"))
		Expect(out).To(ContainSubstring("flaky CI runner"))
	})

	It("counts degraded entries without facts", func() {
		out, err := c.ComposeDaily(context.Background(), narrative.DailyInput{
			DateKey:  "2026-03-02",
			Degraded: 2,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("2 entries"))
		Expect(out).To(ContainSubstring("raw notes"))
	})

	It("is deterministic for the same weekly input", func() {
		in := narrative.WeeklyInput{
			WeekKey: "2026-W10",
			Score:   6.3,
			Facts: []journal.StructuredFact{
				{Category: journal.CategoryCoding, Summary: "a"},
				{Category: journal.CategoryDebugging, Summary: "b", Blockers: []string{"stuck on auth"}},
			},
			Histogram: map[journal.Category]int{
				journal.CategoryCoding:    1,
				journal.CategoryDebugging: 1,
			},
		}
		first, err := c.ComposeWeekly(context.Background(), in)
		Expect(err).NotTo(HaveOccurred())
		for i := 0; i < 5; i++ {
			again, err := c.ComposeWeekly(context.Background(), in)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(first))
		}
		Expect(first).To(ContainSubstring("2026-W10"))
		Expect(first).To(ContainSubstring("6.3/10"))
		Expect(first).To(ContainSubstring("stuck on auth"))
	})
})
