package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/core"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/schedule"
)

// RuleState is the lifecycle state of a rule at a point in time.
type RuleState string

const (
	StateActivePending RuleState = "active_pending"
	StateActiveDue     RuleState = "active_due"
	StateSuspended     RuleState = "suspended"
	StateExpired       RuleState = "expired"
)

// StateOf classifies a rule against today's date. A bounded rule expires
// only once its schedule has moved past the end date, never by the mere
// passage of time: the final occurrence stays due until it is generated,
// even when the pass that picks it up runs after the end date.
func StateOf(r core.RecurrenceRule, today core.Date) RuleState {
	if r.EndDate != nil {
		if r.NextGenerationDate.After(r.EndDate.Time) {
			return StateExpired
		}
		// After the final occurrence fires, the rule is deactivated with
		// its date clamped to the end. Telling that apart from a user
		// suspension needs the advance that the clamp swallowed.
		if !r.IsActive && r.LastGeneratedDate != nil &&
			schedule.NextForRule(r, *r.LastGeneratedDate).After(r.EndDate.Time) {
			return StateExpired
		}
	}
	if !r.IsActive {
		return StateSuspended
	}
	if !r.NextGenerationDate.After(today.Time) {
		return StateActiveDue
	}
	return StateActivePending
}

// Reminder is an upcoming occurrence inside a rule's notification window.
type Reminder struct {
	Rule  core.RecurrenceRule
	Due   core.Date
	Label string
}

// Engine turns due rules into concrete transactions and advances their
// schedules. Rules are processed one at a time; the duplicate guard is the
// only protection against double firing, there is no per-rule lock.
type Engine struct {
	store  *Store
	ledger TransactionLedger
	now    func() time.Time
}

func NewEngine(store *Store, ledger TransactionLedger) *Engine {
	return &Engine{
		store:  store,
		ledger: ledger,
		now:    time.Now,
	}
}

// SetClock replaces the time source, mainly for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// IsDue reports whether the rule's next generation date has arrived, both
// sides normalized to midnight.
func (e *Engine) IsDue(r core.RecurrenceRule) bool {
	return !r.NextGenerationDate.After(core.DateOf(e.now()).Time)
}

// Generate fires one occurrence of the rule. Inactive or not-yet-due rules
// are a no-op, not an error. A duplicate guard hit skips creation but
// still advances the schedule, so repeated invocations on the same day
// make forward progress without double firing. A ledger failure leaves
// the schedule untouched so the rule stays due and is retried next cycle.
func (e *Engine) Generate(ctx context.Context, id string) (*core.Transaction, error) {
	rule, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rule.IsActive || !e.IsDue(*rule) {
		return nil, nil
	}

	fired := rule.NextGenerationDate

	existing, err := e.ledger.FindGenerated(ctx, rule.UserID, rule.ID, fired)
	if err != nil {
		return nil, fmt.Errorf("duplicate guard lookup: %w", err)
	}
	if existing != nil {
		slog.InfoContext(ctx, "Occurrence already generated, advancing schedule",
			"rule_id", rule.ID, "date", fired.String(), "transaction_id", existing.ID)
		e.advance(ctx, *rule, fired)
		return nil, nil
	}

	created, err := e.createTransaction(ctx, *rule, fired)
	if err != nil {
		return nil, fmt.Errorf("generate rule %s: %w", rule.ID, err)
	}

	e.advance(ctx, *rule, fired)

	slog.InfoContext(ctx, "Generated transaction from recurrence rule",
		"rule_id", rule.ID,
		"transaction_id", created.ID,
		"date", fired.String(),
		"amount_cents", rule.Amount.Cents,
		"frequency", rule.Frequency)

	return created, nil
}

// GeneratePending fires every due, active, auto-create rule of the user.
// Failures are isolated per rule: the returned error joins them as a
// warning while the successfully generated transactions are still
// returned. Confirm-first rules are left for an explicit Generate call.
func (e *Engine) GeneratePending(ctx context.Context, userID string) ([]core.Transaction, error) {
	rules, err := e.store.GetAll(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	today := core.DateOf(e.now())
	var (
		generated []core.Transaction
		failures  []error
	)
	for _, rule := range rules {
		if StateOf(rule, today) != StateActiveDue {
			continue
		}
		if !rule.AutoCreate {
			slog.DebugContext(ctx, "Skipping confirm-first rule",
				"rule_id", rule.ID, "due", rule.NextGenerationDate.String())
			continue
		}

		tx, err := e.Generate(ctx, rule.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to generate from rule",
				"rule_id", rule.ID, "description", rule.Description, "error", err)
			failures = append(failures, err)
			continue
		}
		if tx != nil {
			generated = append(generated, *tx)
		}
	}

	return generated, errors.Join(failures...)
}

// UpcomingReminders returns the rules whose next occurrence has entered
// its notification window but not yet arrived.
func (e *Engine) UpcomingReminders(ctx context.Context, userID string) ([]Reminder, error) {
	rules, err := e.store.GetAll(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	today := core.DateOf(e.now())
	var out []Reminder
	for _, rule := range rules {
		if StateOf(rule, today) != StateActivePending || rule.NotifyDaysBefore <= 0 {
			continue
		}
		days := today.DaysUntil(rule.NextGenerationDate)
		if days > rule.NotifyDaysBefore {
			continue
		}
		out = append(out, Reminder{
			Rule:  rule,
			Due:   rule.NextGenerationDate,
			Label: schedule.RelativeDayLabel(today, rule.NextGenerationDate),
		})
	}
	return out, nil
}

func (e *Engine) createTransaction(ctx context.Context, rule core.RecurrenceRule, date core.Date) (*core.Transaction, error) {
	notes := "Transaction récurrente: " + schedule.Describe(rule)

	if rule.IsTransfer() {
		legs, err := e.ledger.CreateTransfer(ctx, rule.UserID, core.NewTransfer{
			FromAccountID:   rule.AccountID,
			ToAccountID:     *rule.ToAccountID,
			Amount:          rule.Amount,
			Description:     rule.Description,
			Category:        rule.Category,
			Date:            date,
			Notes:           notes,
			RecurringRuleID: &rule.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("create transfer: %w", err)
		}
		if len(legs) == 0 {
			return nil, errors.New("transfer returned no legs")
		}
		return &legs[0], nil
	}

	tx, err := e.ledger.CreateTransaction(ctx, rule.UserID, core.NewTransaction{
		AccountID:       rule.AccountID,
		Type:            rule.Type,
		Amount:          rule.Amount,
		Description:     rule.Description,
		Category:        rule.Category,
		Date:            date,
		Notes:           notes,
		RecurringRuleID: &rule.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return tx, nil
}

// advance moves the rule past the fired date. When the next date would
// outlive the end date, the rule goes inactive with the date clamped to
// the end. A persist failure is logged but not returned: the transaction
// already exists and the duplicate guard absorbs the retry.
func (e *Engine) advance(ctx context.Context, rule core.RecurrenceRule, fired core.Date) {
	next := schedule.NextForRule(rule, fired)

	rule.LastGeneratedDate = &fired
	if rule.EndDate != nil && next.After(rule.EndDate.Time) {
		rule.IsActive = false
		rule.NextGenerationDate = *rule.EndDate
	} else {
		rule.NextGenerationDate = next
	}
	rule.UpdatedAt = e.now()

	if err := e.store.Save(ctx, rule); err != nil {
		slog.ErrorContext(ctx, "Failed to persist schedule advance",
			"rule_id", rule.ID, "error", err)
	}
}
