// Package schedule implements the recurrence calculator: pure date
// arithmetic over rule schedules. No I/O, no side effects; every function
// takes and returns immutable values.
package schedule

import (
	"time"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/core"
)

// NextDate advances from by exactly one period of the given frequency.
//
// Weekly rules with a target weekday land on the next occurrence of that
// weekday strictly after from, so a rule already sitting on its weekday
// advances a full week. Month-based frequencies clamp the target day to
// the length of the destination month; dayOfMonth 31 is the "last day of
// month" sentinel and never means a literal 31st.
func NextDate(freq core.Frequency, from core.Date, dayOfMonth, dayOfWeek *int) core.Date {
	switch freq {
	case core.Daily:
		return from.AddDays(1)
	case core.Weekly:
		if dayOfWeek == nil {
			return from.AddDays(7)
		}
		delta := *dayOfWeek - int(from.Weekday())
		if delta <= 0 {
			delta += 7
		}
		return from.AddDays(delta)
	default:
		return addMonths(from, freq.MonthStep(), dayOfMonth)
	}
}

// addMonths moves forward the given number of months, keeping the target
// day of month subject to month-length clamping. When dayOfMonth is nil
// the day of from is kept.
func addMonths(from core.Date, months int, dayOfMonth *int) core.Date {
	day := from.Day()
	if dayOfMonth != nil {
		day = *dayOfMonth
	}

	m := from.Month() + months
	y := from.Year() + (m-1)/12
	m = (m-1)%12 + 1

	return core.NewDate(y, m, clampDayToMonth(y, m, day))
}

// clampDayToMonth resolves a target day inside a concrete month, shared by
// the monthly, quarterly, and yearly paths. A day beyond the month's length
// (including the 31 sentinel) becomes the month's last day.
func clampDayToMonth(year, month, day int) int {
	last := daysInMonth(year, month)
	if day > last {
		return last
	}
	return day
}

func daysInMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// InitialDate computes the first occurrence of a rule: its start date when
// that already matches the schedule, the first matching date after it
// otherwise.
func InitialDate(r core.RecurrenceRule) core.Date {
	switch r.Frequency {
	case core.Daily:
		return r.StartDate
	case core.Weekly:
		if r.DayOfWeek == nil {
			return r.StartDate
		}
		delta := (*r.DayOfWeek - int(r.StartDate.Weekday()) + 7) % 7
		return r.StartDate.AddDays(delta)
	default:
		if r.DayOfMonth == nil {
			return r.StartDate
		}
		y, m := r.StartDate.Year(), r.StartDate.Month()
		candidate := core.NewDate(y, m, clampDayToMonth(y, m, *r.DayOfMonth))
		if !candidate.Before(r.StartDate.Time) {
			return candidate
		}
		return NextDate(r.Frequency, r.StartDate, r.DayOfMonth, r.DayOfWeek)
	}
}

// NextForRule advances a rule's schedule by one period from the given date.
func NextForRule(r core.RecurrenceRule, from core.Date) core.Date {
	return NextDate(r.Frequency, from, r.DayOfMonth, r.DayOfWeek)
}

// EnumerateNext returns up to count future occurrence dates starting at the
// rule's next generation date, stopping early once the end date is passed.
// The dates are strictly increasing.
func EnumerateNext(r core.RecurrenceRule, count int) []core.Date {
	var out []core.Date
	d := r.NextGenerationDate
	for len(out) < count {
		if r.EndDate != nil && d.After(r.EndDate.Time) {
			break
		}
		out = append(out, d)
		d = NextForRule(r, d)
	}
	return out
}

// TotalOccurrences counts occurrences from the start date to the end date
// inclusive. Unbounded rules return nil.
func TotalOccurrences(r core.RecurrenceRule) *int {
	if r.EndDate == nil {
		return nil
	}
	total := 0
	for d := InitialDate(r); !d.After(r.EndDate.Time); d = NextForRule(r, d) {
		total++
	}
	return &total
}

// RemainingOccurrences counts occurrences still ahead of today, floored at
// zero. Unbounded rules return nil. An occurrence falling exactly on today
// is treated as elapsed: the generation pass owns it, not the countdown.
func RemainingOccurrences(r core.RecurrenceRule, today core.Date) *int {
	if r.EndDate == nil {
		return nil
	}
	remaining := 0
	for d := InitialDate(r); !d.After(r.EndDate.Time); d = NextForRule(r, d) {
		if d.After(today.Time) {
			remaining++
		}
	}
	return &remaining
}
