package journal

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Period is a resolved aggregation window: an identity key plus the half-open
// [Start, End) time range it covers in the user's timezone.
type Period struct {
	Key   string
	Kind  ArtifactKind
	Start time.Time
	End   time.Time
}

var weekKeyRe = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)

// DayKey returns the daily period key ("2006-01-02") for an instant in the
// given location.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// WeekKey returns the ISO-8601 week key ("2025-W10") for an instant in the
// given location.
func WeekKey(t time.Time, loc *time.Location) string {
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// DayPeriod resolves a daily period key into its window in loc.
func DayPeriod(key string, loc *time.Location) (Period, error) {
	day, err := time.ParseInLocation(DateLayout, key, loc)
	if err != nil {
		return Period{}, fmt.Errorf("bad daily period key %q: %w", key, err)
	}
	return Period{
		Key:   key,
		Kind:  KindDaily,
		Start: day,
		End:   day.AddDate(0, 0, 1),
	}, nil
}

// WeekPeriod resolves an ISO week key into its window in loc. weekStartDay
// shifts the boundary for users whose week does not start on Monday
// (0=Monday .. 6=Sunday).
func WeekPeriod(key string, loc *time.Location, weekStartDay int) (Period, error) {
	m := weekKeyRe.FindStringSubmatch(key)
	if m == nil {
		return Period{}, fmt.Errorf("bad weekly period key %q: want YYYY-Www", key)
	}
	year, _ := strconv.Atoi(m[1])
	week, _ := strconv.Atoi(m[2])
	if week < 1 || week > 53 {
		return Period{}, fmt.Errorf("bad weekly period key %q: week out of range", key)
	}

	// Jan 4 is always inside ISO week 1. Walk back to that week's Monday,
	// then forward to the requested week.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	isoMonday := jan4.AddDate(0, 0, -(mondayIndex(jan4.Weekday())))
	start := isoMonday.AddDate(0, 0, (week-1)*7+weekStartDay)

	return Period{
		Key:   key,
		Kind:  KindWeekly,
		Start: start,
		End:   start.AddDate(0, 0, 7),
	}, nil
}

// ResolvePeriod dispatches on kind.
func ResolvePeriod(key string, kind ArtifactKind, prefs UserPrefs) (Period, error) {
	loc := prefs.Location()
	switch kind {
	case KindDaily:
		return DayPeriod(key, loc)
	case KindWeekly:
		return WeekPeriod(key, loc, prefs.WeekStartDay)
	default:
		return Period{}, fmt.Errorf("unknown artifact kind %q", kind)
	}
}

// Contains reports whether t falls inside the period window.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// mondayIndex maps time.Weekday (Sunday=0) onto Monday=0 .. Sunday=6.
func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}
