// Package nudge decides whether a user should be reminded to log. Decide is a
// pure function of its inputs; the transactional state it reads (streak, last
// entry, nudge log) is maintained elsewhere, and rendering the message is the
// notifier's problem.
package nudge

import (
	"strconv"
	"time"

	"github.com/murmurhq/murmur/pkg/journal"
)

// Kind names a nudge category.
type Kind string

const (
	// KindMorning is the gentle start-of-day prompt for active users.
	KindMorning Kind = "morning"

	// KindReminder fires once per gap when a user has been quiet for a day.
	KindReminder Kind = "reminder"

	// KindStreak fires in the evening when today would break a live streak.
	KindStreak Kind = "streak"
)

// reminderGap is how long a user must be quiet before a reminder fires.
const reminderGap = 24 * time.Hour

// Nudge is an intent to notify: a category plus the variables a message
// template needs. No prose lives here.
type Nudge struct {
	UserID string
	Kind   Kind
	Vars   map[string]string
}

// Input is everything one decision sees.
type Input struct {
	// Now is the evaluation instant. Converted to the user's timezone
	// internally; callers pass whatever clock they have.
	Now time.Time

	Streak journal.StreakState

	// LastEntryAt is zero when the user has never logged.
	LastEntryAt time.Time

	// LastNudge is nil when no nudge was ever sent.
	LastNudge *journal.NudgeRecord

	Prefs journal.UserPrefs
}

// Decide returns at most one nudge for this tick, or nil. Policy order:
// morning prompt, gap reminder, evening streak warning. Opt-out short-circuits
// everything.
func Decide(in Input) *Nudge {
	if !in.Prefs.NudgesEnabled {
		return nil
	}

	loc := in.Prefs.Location()
	now := in.Now.In(loc)

	if n := morningNudge(in, now); n != nil {
		return n
	}
	if n := reminderNudge(in, now); n != nil {
		return n
	}
	return streakNudge(in, now)
}

// morningNudge prompts recently active users at their configured morning
// hour. Users already deep in a gap get the reminder path instead.
func morningNudge(in Input, now time.Time) *Nudge {
	if now.Hour() != in.Prefs.MorningHour {
		return nil
	}
	if in.LastEntryAt.IsZero() || now.Sub(in.LastEntryAt) >= reminderGap {
		return nil
	}
	// One morning nudge per day.
	if in.LastNudge != nil && sameLocalDay(in.LastNudge.SentAt, now, now.Location()) {
		return nil
	}
	return &Nudge{
		UserID: in.Prefs.UserID,
		Kind:   KindMorning,
		Vars: map[string]string{
			"current_streak": strconv.Itoa(in.Streak.CurrentStreak),
		},
	}
}

// reminderNudge fires once per quiet gap: after 24h without an entry, and
// never again until the user logs and goes quiet again.
func reminderNudge(in Input, now time.Time) *Nudge {
	if in.LastEntryAt.IsZero() || now.Sub(in.LastEntryAt) < reminderGap {
		return nil
	}
	// A nudge sent after the last entry already covered this gap.
	if in.LastNudge != nil && in.LastNudge.SentAt.After(in.LastEntryAt) {
		return nil
	}
	hoursSince := int(now.Sub(in.LastEntryAt).Hours())
	return &Nudge{
		UserID: in.Prefs.UserID,
		Kind:   KindReminder,
		Vars: map[string]string{
			"hours_since":    strconv.Itoa(hoursSince),
			"last_streak":    strconv.Itoa(in.Streak.CurrentStreak),
			"longest_streak": strconv.Itoa(in.Streak.LongestStreak),
		},
	}
}

// streakNudge warns at the evening hour when a live streak would break
// tonight: the streak counter is positive but nothing was logged today.
func streakNudge(in Input, now time.Time) *Nudge {
	if in.Streak.CurrentStreak == 0 {
		return nil
	}
	if now.Hour() != in.Prefs.EveningHour {
		return nil
	}
	today := now.Format(journal.DateLayout)
	if in.Streak.LastEntryDate == today {
		return nil
	}
	// One evening warning per day.
	if in.LastNudge != nil && in.LastNudge.Kind == string(KindStreak) && sameLocalDay(in.LastNudge.SentAt, now, now.Location()) {
		return nil
	}
	return &Nudge{
		UserID: in.Prefs.UserID,
		Kind:   KindStreak,
		Vars: map[string]string{
			"current_streak": strconv.Itoa(in.Streak.CurrentStreak),
		},
	}
}

func sameLocalDay(a, b time.Time, loc *time.Location) bool {
	return a.In(loc).Format(journal.DateLayout) == b.In(loc).Format(journal.DateLayout)
}
