package processor

import (
	"fmt"
	"time"

	"github.com/paycycle/paycycle/app/models"
)

// IdempotencyKey derives the materialization key for one (schedule, period)
// pair: the schedule id plus the due time truncated to the period. Two runs
// evaluating the same period always derive the same key.
func IdempotencyKey(scheduleID uint, frequency string, dueAt time.Time) string {
	return fmt.Sprintf("rp-%d-%s", scheduleID, PeriodMarker(frequency, dueAt))
}

// PeriodMarker truncates a due time to its period granularity.
func PeriodMarker(frequency string, dueAt time.Time) string {
	switch frequency {
	case models.FrequencyMonthly:
		return dueAt.Format("2006-01")
	case models.FrequencyYearly:
		return dueAt.Format("2006")
	default:
		// Daily and weekly periods are identified by the due date itself.
		return dueAt.Format("2006-01-02")
	}
}

// NextRun computes the run time following current, deterministically from
// frequency and anchor. Monthly and yearly schedules preserve the anchor's
// day-of-month, clamped to the target month's last day: a schedule anchored
// on the 31st runs Jan 31, Feb 28 (29 in leap years), Mar 31. Arithmetic is
// done via time.Date in the anchor's location, so processing latency never
// drifts the cadence.
func NextRun(current time.Time, frequency string, anchor time.Time) time.Time {
	loc := anchor.Location()
	cur := current.In(loc)

	switch frequency {
	case models.FrequencyDaily:
		return cur.AddDate(0, 0, 1)
	case models.FrequencyWeekly:
		return cur.AddDate(0, 0, 7)
	case models.FrequencyMonthly:
		year, month := cur.Year(), cur.Month()+1
		return dateClamped(year, month, anchor.Day(), anchor, loc)
	case models.FrequencyYearly:
		return dateClamped(cur.Year()+1, anchor.Month(), anchor.Day(), anchor, loc)
	default:
		return cur.AddDate(0, 0, 1)
	}
}

// dateClamped builds a date with the day clamped to the month's length,
// keeping the anchor's time of day. time.Date normalizes month overflow
// (month 13 becomes January of the next year).
func dateClamped(year int, month time.Month, day int, anchor time.Time, loc *time.Location) time.Time {
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	lastDay := firstOfMonth.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfMonth.Year(), firstOfMonth.Month(), day,
		anchor.Hour(), anchor.Minute(), anchor.Second(), 0, loc)
}
