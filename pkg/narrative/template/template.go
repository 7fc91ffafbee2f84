// Package template is a model-free Composer producing plain deterministic
// prose. It backs tests, offline mode, and the degraded fallback when the
// real composer exhausts its retries.
package template

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/narrative"
)

// Composer renders fixed-shape narratives from the deterministic inputs.
type Composer struct{}

// NewComposer returns the template composer.
func NewComposer() *Composer {
	return &Composer{}
}

// ComposeDaily renders a plain reflection for one day.
func (c *Composer) ComposeDaily(_ context.Context, in narrative.DailyInput) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You logged %s on %s.", countNoun(len(in.Facts)+in.Degraded, "entry", "entries"), in.DateKey)

	var accomplishments, blockers []string
	for _, f := range in.Facts {
		accomplishments = append(accomplishments, f.Accomplishments...)
		blockers = append(blockers, f.Blockers...)
	}
	if len(accomplishments) > 0 {
		fmt.Fprintf(&sb, " Done: %s.", strings.Join(accomplishments, "; "))
	}
	if len(blockers) > 0 {
		fmt.Fprintf(&sb, " Still open: %s.", strings.Join(blockers, "; "))
	}
	if in.Degraded > 0 {
		fmt.Fprintf(&sb, " %s only as raw notes.", countNoun(in.Degraded, "entry exists", "entries exist"))
	}

	return sb.String(), nil
}

// ComposeWeekly renders a plain report for one week.
func (c *Composer) ComposeWeekly(_ context.Context, in narrative.WeeklyInput) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Week %s: %s logged, productivity %.1f/10.",
		in.WeekKey, countNoun(len(in.Facts)+in.Degraded, "entry", "entries"), in.Score)

	if len(in.Histogram) > 0 {
		cats := make([]string, 0, len(in.Histogram))
		for cat := range in.Histogram {
			cats = append(cats, string(cat))
		}
		sort.Strings(cats)
		parts := make([]string, len(cats))
		for i, cat := range cats {
			parts[i] = fmt.Sprintf("%s %d", cat, in.Histogram[journal.Category(cat)])
		}
		fmt.Fprintf(&sb, " Breakdown: %s.", strings.Join(parts, ", "))
	}

	var blockers []string
	for _, f := range in.Facts {
		blockers = append(blockers, f.Blockers...)
	}
	if len(blockers) > 0 {
		fmt.Fprintf(&sb, " Carried blockers: %s.", strings.Join(blockers, "; "))
	}

	return sb.String(), nil
}

// Close is a no-op.
func (c *Composer) Close() error { return nil }

func countNoun(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}

var _ narrative.Composer = (*Composer)(nil)
