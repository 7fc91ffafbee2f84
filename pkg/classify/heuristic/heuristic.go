// Package heuristic is a model-free Classifier built on keyword rules. It
// backs tests and offline mode, and serves as the repair-sweep fallback when
// a real classifier keeps failing.
package heuristic

import (
	"context"
	"sort"
	"strings"

	"github.com/murmurhq/murmur/pkg/classify"
	"github.com/murmurhq/murmur/pkg/journal"
)

// Classifier extracts facts with keyword matching. Deterministic for a given
// transcript.
type Classifier struct{}

// NewClassifier returns the rule-based classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

var categoryHints = []struct {
	category journal.Category
	hints    []string
}{
	{journal.CategoryDebugging, []string{"debug", "bug", "fix", "broken", "crash", "error", "flaky"}},
	{journal.CategoryBlockers, []string{"blocked", "stuck", "waiting on", "can't", "cannot"}},
	{journal.CategoryMeeting, []string{"meeting", "standup", "sync", "1:1", "call"}},
	{journal.CategoryPlanning, []string{"plan", "roadmap", "design doc", "scoping", "estimate"}},
	{journal.CategoryResearch, []string{"research", "investigat", "compar", "benchmark", "read up"}},
	{journal.CategoryLearning, []string{"learn", "tutorial", "course", "studied", "figured out how"}},
	{journal.CategoryAchievement, []string{"shipped", "launched", "finished", "merged", "released", "done with"}},
	{journal.CategoryCoding, []string{"code", "coding", "implement", "wrote", "refactor", "built"}},
}

var positiveHints = []string{"great", "good", "finally", "happy", "shipped", "solved", "proud", "works"}
var negativeHints = []string{"frustrat", "stuck", "blocked", "annoying", "broken", "tired", "failed"}

// stopwords are skipped during keyword extraction.
var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"for": true, "was": true, "were": true, "have": true, "had": true,
	"then": true, "them": true, "they": true, "just": true, "about": true,
	"today": true, "spent": true, "some": true, "into": true, "from": true,
	"been": true, "still": true, "really": true, "going": true, "what": true,
}

// Classify builds a fact from keyword rules.
func (c *Classifier) Classify(_ context.Context, entryID, rawText string) (*journal.StructuredFact, error) {
	lower := strings.ToLower(rawText)

	fact := &journal.StructuredFact{
		EntryID:   entryID,
		Category:  matchCategory(lower),
		Keywords:  extractKeywords(lower),
		Sentiment: matchSentiment(lower),
		Summary:   summarize(rawText),
	}

	if containsAny(lower, []string{"shipped", "launched", "finished", "merged", "released"}) {
		fact.Accomplishments = append(fact.Accomplishments, fact.Summary)
	}
	if containsAny(lower, []string{"blocked", "stuck", "waiting on"}) {
		fact.Blockers = append(fact.Blockers, fact.Summary)
	}
	if containsAny(lower, []string{"learned", "figured out", "til "}) {
		fact.Learnings = append(fact.Learnings, fact.Summary)
	}

	fact.Normalize()
	if err := fact.Validate(); err != nil {
		return nil, err
	}
	return fact, nil
}

// Close is a no-op.
func (c *Classifier) Close() error { return nil }

func matchCategory(lower string) journal.Category {
	for _, h := range categoryHints {
		if containsAny(lower, h.hints) {
			return h.category
		}
	}
	return journal.CategoryOther
}

func matchSentiment(lower string) journal.Sentiment {
	pos := countAny(lower, positiveHints)
	neg := countAny(lower, negativeHints)
	switch {
	case pos > neg:
		return journal.SentimentPositive
	case neg > pos:
		return journal.SentimentNegative
	default:
		return journal.SentimentNeutral
	}
}

// extractKeywords picks the most frequent non-stopword terms, padding with
// generic terms so the 3-keyword floor always holds.
func extractKeywords(lower string) []string {
	counts := make(map[string]int)
	var order []string
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(word) < 4 || stopwords[word] {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > 5 {
		order = order[:5]
	}
	for _, pad := range []string{"journal", "work", "note"} {
		if len(order) >= 3 {
			break
		}
		order = append(order, pad)
	}
	return order
}

// summarize truncates the transcript to the summary word budget.
func summarize(rawText string) string {
	words := strings.Fields(rawText)
	if len(words) == 0 {
		return "empty entry"
	}
	if len(words) > 50 {
		words = words[:50]
	}
	return strings.Join(words, " ")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func countAny(s string, subs []string) int {
	n := 0
	for _, sub := range subs {
		n += strings.Count(s, sub)
	}
	return n
}

var _ classify.Classifier = (*Classifier)(nil)
