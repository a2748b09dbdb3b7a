package core

import "strings"

// ValidationResult is the outcome of checking a candidate rule. All
// applicable checks run; every failure contributes one message. It is
// never returned as an error so the caller decides how to surface it.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

func (v ValidationResult) Error() string {
	return strings.Join(v.Errors, "; ")
}

// ValidateRule checks a fully resolved candidate rule before create or
// update. It never panics and reports all failures, not just the first.
func ValidateRule(r RecurrenceRule) ValidationResult {
	var errs []string

	if r.Amount.Cents <= 0 {
		errs = append(errs, "amount must be positive")
	}
	if strings.TrimSpace(r.Description) == "" {
		errs = append(errs, "description cannot be empty")
	}
	if strings.TrimSpace(r.Category) == "" {
		errs = append(errs, "category cannot be empty")
	}
	if !r.Type.IsValid() {
		errs = append(errs, "invalid transaction type")
	}
	if r.Type == Transfer {
		if r.ToAccountID == nil || strings.TrimSpace(*r.ToAccountID) == "" {
			errs = append(errs, "transfer requires a destination account")
		} else if *r.ToAccountID == r.AccountID {
			errs = append(errs, "transfer accounts must differ")
		}
	}

	if err := r.StartDate.Validate(); err != nil {
		errs = append(errs, "invalid start date")
	}
	if r.EndDate != nil && !r.EndDate.After(r.StartDate.Time) {
		errs = append(errs, "end date must be after start date")
	}

	if r.DayOfMonth != nil && (*r.DayOfMonth < 1 || *r.DayOfMonth > 31) {
		errs = append(errs, "day of month must be between 1 and 31")
	}
	if r.DayOfWeek != nil && (*r.DayOfWeek < 0 || *r.DayOfWeek > 6) {
		errs = append(errs, "day of week must be between 0 and 6")
	}

	errs = append(errs, frequencyFieldErrors(r)...)

	if r.NotifyDaysBefore < 0 {
		errs = append(errs, "notification days cannot be negative")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// frequencyFieldErrors enforces the per-frequency day field rules: weekly
// needs a day of week, month-based frequencies need a day of month, daily
// uses neither.
func frequencyFieldErrors(r RecurrenceRule) []string {
	var errs []string
	switch r.Frequency {
	case Daily:
		if r.DayOfMonth != nil {
			errs = append(errs, "daily frequency does not use day of month")
		}
		if r.DayOfWeek != nil {
			errs = append(errs, "daily frequency does not use day of week")
		}
	case Weekly:
		if r.DayOfWeek == nil {
			errs = append(errs, "weekly frequency requires day of week")
		}
		if r.DayOfMonth != nil {
			errs = append(errs, "weekly frequency does not use day of month")
		}
	case Monthly, Quarterly, Yearly:
		if r.DayOfMonth == nil {
			errs = append(errs, "frequency requires day of month")
		}
		if r.DayOfWeek != nil {
			errs = append(errs, "frequency does not use day of week")
		}
	default:
		errs = append(errs, "invalid frequency")
	}
	return errs
}
