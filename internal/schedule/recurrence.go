// Package schedule provides pure calendar arithmetic for recurring
// transactions: next-occurrence computation and month windows.
package schedule

import (
	"time"

	"ledgerd/internal/core"
)

// NextOccurrence returns the next occurrence of an interval after the
// reference time. Month and year steps use calendar arithmetic, so
// out-of-range days normalize per time.AddDate (e.g. Jan 31 + 1 month
// lands in early March).
//
// An unknown interval returns the reference unchanged. That is a
// deliberate no-op, not an error; callers that depend on the schedule
// advancing must guard against it or templates get stuck.
func NextOccurrence(ref time.Time, interval core.RecurringInterval) time.Time {
	switch interval {
	case core.Daily:
		return ref.AddDate(0, 0, 1)
	case core.Weekly:
		return ref.AddDate(0, 0, 7)
	case core.Monthly:
		return ref.AddDate(0, 1, 0)
	case core.Yearly:
		return ref.AddDate(1, 0, 0)
	default:
		return ref
	}
}

// MonthWindow returns the closed interval [first instant, last instant]
// of a calendar month in UTC. The end bound is the final nanosecond of
// the month's last day, so inclusive range queries capture every posting
// dated within the month.
func MonthWindow(year int, month time.Month) (start, end time.Time) {
	start = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}

// MonthToDate returns the window from the first day of now's month up to now.
func MonthToDate(now time.Time) (start, end time.Time) {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), now
}

// PriorMonth returns the year and month immediately before now's month.
func PriorMonth(now time.Time) (int, time.Month) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	prev := first.AddDate(0, 0, -1)
	return prev.Year(), prev.Month()
}
