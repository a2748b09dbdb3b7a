package core

import (
	"errors"
	"time"
)

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

type (
	Frequency string

	TransactionType string

	// Date is a calendar day. The wrapped time is always midnight UTC so two
	// dates compare equal iff they name the same day.
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// RecurrenceRule is the template a recurring transaction is generated from.
	RecurrenceRule struct {
		ID          string
		UserID      string
		AccountID   string
		ToAccountID *string // destination account, transfers only
		Type        TransactionType
		Amount      Money
		Description string
		Category    string

		Frequency  Frequency
		StartDate  Date
		EndDate    *Date // nil means unbounded
		DayOfMonth *int  // 1-31, 31 means last day of month
		DayOfWeek  *int  // 0=Sunday .. 6=Saturday

		NotifyDaysBefore int
		AutoCreate       bool
		BudgetID         *string

		IsActive           bool
		LastGeneratedDate  *Date
		NextGenerationDate Date

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Transaction is a concrete dated record produced by the transaction
	// subsystem. Every generated record carries the rule back-reference,
	// transfer legs included, so duplicate detection is an exact id lookup.
	Transaction struct {
		ID              string
		UserID          string
		AccountID       string
		Type            TransactionType
		Amount          Money
		Description     string
		Category        string
		Date            Date
		Notes           string
		RecurringRuleID *string
		CreatedAt       time.Time
	}

	// NewTransaction is the input for a single income/expense record.
	NewTransaction struct {
		AccountID       string
		Type            TransactionType
		Amount          Money
		Description     string
		Category        string
		Date            Date
		Notes           string
		RecurringRuleID *string
	}

	// NewTransfer is the input for a paired debit/credit.
	NewTransfer struct {
		FromAccountID   string
		ToAccountID     string
		Amount          Money
		Description     string
		Category        string
		Date            Date
		Notes           string
		RecurringRuleID *string
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyCategory    = errors.New("empty category")
	ErrRuleNotFound     = errors.New("recurrence rule not found")
)

func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Monthly, Quarterly, Yearly:
		return true
	default:
		return false
	}
}

// MonthStep returns how many months one period spans, or 0 for day-based
// frequencies.
func (f Frequency) MonthStep() int {
	switch f {
	case Monthly:
		return 1
	case Quarterly:
		return 3
	case Yearly:
		return 12
	default:
		return 0
	}
}

func (t TransactionType) IsValid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	default:
		return false
	}
}

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to the calendar day it falls on.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month as an int.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year.
func (d Date) Year() int {
	return d.Time.Year()
}

// AddDays returns the date n calendar days later.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time.AddDate(0, 0, n))
}

// DaysUntil returns the whole-day delta from d to other, negative when
// other is in the past.
func (d Date) DaysUntil(other Date) int {
	return int(other.Time.Sub(d.Time).Hours() / 24)
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Unbounded reports whether the rule has no end date.
func (r RecurrenceRule) Unbounded() bool {
	return r.EndDate == nil
}

// IsTransfer reports whether generation produces a paired debit/credit.
func (r RecurrenceRule) IsTransfer() bool {
	return r.Type == Transfer && r.ToAccountID != nil
}
