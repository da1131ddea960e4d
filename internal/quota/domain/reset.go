package domain

import "time"

// ShouldReset reports whether a counter must roll over before it is read.
// A nil lastResetAt means the entry is fresh (count already zero), not
// that a reset is due; this avoids an extra write on first use.
// Calendar arithmetic is done in UTC, the service timezone.
func ShouldReset(lastResetAt *time.Time, policy ResetPolicy, now time.Time) bool {
	if lastResetAt == nil {
		return false
	}

	last := lastResetAt.UTC()
	now = now.UTC()

	switch policy {
	case ResetDaily:
		ly, lm, ld := last.Date()
		ny, nm, nd := now.Date()
		lastDay := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
		nowDay := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
		return lastDay.Before(nowDay)
	case ResetMonthly:
		ly, lm, _ := last.Date()
		ny, nm, _ := now.Date()
		return ly != ny || lm != nm
	default:
		return false
	}
}

// DayKey formats a timestamp as the calendar-day key used for daily
// ad-watch tracking.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
