package journal

import (
	"sort"
	"time"
)

// AdvanceStreak applies one committed entry date to a streak state and returns
// the updated state. Rules:
//
//   - same calendar date as the last entry: unchanged
//   - exactly one day after the last entry: streak +1
//   - gap of more than one day, or first entry ever: reset to 1
//
// entryDate must be in DateLayout. Dates earlier than last_entry_date are
// out-of-order backfills; callers must detect that case and use
// RederiveStreak instead — AdvanceStreak alone would wrongly reset the streak.
func AdvanceStreak(s StreakState, entryDate string) StreakState {
	switch {
	case s.LastEntryDate == "":
		s.CurrentStreak = 1
	case entryDate == s.LastEntryDate:
		return s
	case entryDate == nextDay(s.LastEntryDate):
		s.CurrentStreak++
	default:
		s.CurrentStreak = 1
	}

	s.LastEntryDate = entryDate
	if s.CurrentStreak > s.LongestStreak {
		s.LongestStreak = s.CurrentStreak
	}
	return s
}

// RederiveStreak rebuilds the streak state from the full set of entry dates
// for a user. Used when a commit arrives out of occurred_at order: the
// incremental transition no longer holds, so the state is recomputed from
// history, which is always correct regardless of arrival order.
func RederiveStreak(userID string, entryDates []string) StreakState {
	s := StreakState{UserID: userID}
	if len(entryDates) == 0 {
		return s
	}

	dates := make([]string, 0, len(entryDates))
	seen := make(map[string]bool, len(entryDates))
	for _, d := range entryDates {
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)

	run := 1
	longest := 1
	for i := 1; i < len(dates); i++ {
		if dates[i] == nextDay(dates[i-1]) {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	s.CurrentStreak = run
	s.LongestStreak = longest
	s.LastEntryDate = dates[len(dates)-1]
	return s
}

func nextDay(date string) string {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, 1).Format(DateLayout)
}
