package schedule

import (
	"fmt"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/core"
)

// UI labels are French, matching the rest of the BazarKELY interface.

var weekdayNames = [7]string{
	"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi",
}

// Describe renders a rule's schedule as a short human-readable phrase,
// e.g. "Tous les mois (le 15)" or "Toutes les semaines (lundi)".
func Describe(r core.RecurrenceRule) string {
	switch r.Frequency {
	case core.Daily:
		return "Tous les jours"
	case core.Weekly:
		if r.DayOfWeek != nil && *r.DayOfWeek >= 0 && *r.DayOfWeek <= 6 {
			return fmt.Sprintf("Toutes les semaines (%s)", weekdayNames[*r.DayOfWeek])
		}
		return "Toutes les semaines"
	case core.Monthly:
		return "Tous les mois" + dayOfMonthSuffix(r.DayOfMonth)
	case core.Quarterly:
		return "Tous les trimestres" + dayOfMonthSuffix(r.DayOfMonth)
	case core.Yearly:
		return "Tous les ans" + dayOfMonthSuffix(r.DayOfMonth)
	default:
		return string(r.Frequency)
	}
}

func dayOfMonthSuffix(dayOfMonth *int) string {
	if dayOfMonth == nil {
		return ""
	}
	if *dayOfMonth == 31 {
		return " (dernier jour)"
	}
	if *dayOfMonth == 1 {
		return " (le 1er)"
	}
	return fmt.Sprintf(" (le %d)", *dayOfMonth)
}

// RelativeDayLabel renders the day delta between today and a target date:
// same day, one day either side, within a week, or a plain date beyond
// that. Overdue dates are labelled with how late they are.
func RelativeDayLabel(today, target core.Date) string {
	delta := today.DaysUntil(target)
	switch {
	case delta == 0:
		return "Aujourd'hui"
	case delta == 1:
		return "Demain"
	case delta == -1:
		return "Hier"
	case delta > 1 && delta <= 7:
		return fmt.Sprintf("Dans %d jours", delta)
	case delta < -1:
		return fmt.Sprintf("En retard de %d jours", -delta)
	default:
		return fmt.Sprintf("Le %s", target.Format("02/01/2006"))
	}
}
