package heuristic_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/murmurhq/murmur/pkg/classify/heuristic"
	"github.com/murmurhq/murmur/pkg/journal"
)

var _ = Describe("Classifier", func() {
	var c *heuristic.Classifier

	BeforeEach(func() {
		c = heuristic.NewClassifier()
	})

	It("always yields a schema-valid fact", func() {
		fact, err := c.Classify(context.Background(), "e1",
			"Spent the whole afternoon chasing a flaky test, turned out to be a race in the importer.")
		Expect(err).NotTo(HaveOccurred())
		Expect(fact.Validate()).To(Succeed())
		Expect(fact.EntryID).To(Equal("e1"))
	})

	It("categorizes debugging transcripts", func() {
		fact, err := c.Classify(context.Background(), "e1",
			"Chased a nasty bug in the payment flow, the crash only happens under load.")
		Expect(err).NotTo(HaveOccurred())
		Expect(fact.Category).To(Equal(journal.CategoryDebugging))
	})

	It("records accomplishments when the transcript mentions shipping", func() {
		fact, err := c.Classify(context.Background(), "e1",
			"Finally shipped the export feature after three weeks of polishing edge cases.")
		Expect(err).NotTo(HaveOccurred())
		Expect(fact.Accomplishments).NotTo(BeEmpty())
		Expect(fact.Sentiment).To(Equal(journal.SentimentPositive))
	})

	It("records blockers and negative sentiment when stuck", func() {
		fact, err := c.Classify(context.Background(), "e1",
			"Completely stuck on the migration, blocked waiting on the platform team again.")
		Expect(err).NotTo(HaveOccurred())
		Expect(fact.Blockers).NotTo(BeEmpty())
		Expect(fact.Sentiment).To(Equal(journal.SentimentNegative))
	})

	It("is deterministic for the same transcript", func() {
		text := "Refactored the scheduler and wrote tests for the retry path."
		first, err := c.Classify(context.Background(), "e1", text)
		Expect(err).NotTo(HaveOccurred())
		second, err := c.Classify(context.Background(), "e1", text)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
	})

	It("pads keywords up to the floor for terse transcripts", func() {
		fact, err := c.Classify(context.Background(), "e1", "short note")
		Expect(err).NotTo(HaveOccurred())
		Expect(len(fact.Keywords)).To(BeNumerically(">=", 3))
		Expect(len(fact.Keywords)).To(BeNumerically("<=", 5))
	})

	It("bounds the summary at fifty words", func() {
		long := ""
		for i := 0; i < 120; i++ {
			long += "word "
		}
		fact, err := c.Classify(context.Background(), "e1", long)
		Expect(err).NotTo(HaveOccurred())
		Expect(fact.Validate()).To(Succeed())
	})
})
