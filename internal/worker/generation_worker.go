package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/notify"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/recurring"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/storage"
)

// ReminderPublisher emits upcoming-occurrence events.
type ReminderPublisher interface {
	PublishReminder(ctx context.Context, msg *notify.ReminderMessage) error
}

// GenerationWorker runs the generation engine across every rule owner in
// the mirror.
type GenerationWorker struct {
	storage   *storage.SQLiteRepository
	engine    *recurring.Engine
	reminders ReminderPublisher // nil when no broker is configured
}

func NewGenerationWorker(storage *storage.SQLiteRepository, engine *recurring.Engine, reminders ReminderPublisher) *GenerationWorker {
	return &GenerationWorker{
		storage:   storage,
		engine:    engine,
		reminders: reminders,
	}
}

// ProcessDueRules fires every due auto-create rule of every owner. Per-user
// failures are logged and do not stop the pass; the count of generated
// transactions is returned.
func (w *GenerationWorker) ProcessDueRules(ctx context.Context) (int, error) {
	owners, err := w.storage.ListRuleOwners(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rule owners: %w", err)
	}

	slog.InfoContext(ctx, "Processing due recurrence rules", "owners", len(owners))

	generated := 0
	for _, userID := range owners {
		txs, err := w.engine.GeneratePending(ctx, userID)
		if err != nil {
			slog.WarnContext(ctx, "Some rules failed to generate",
				"user_id", userID, "generated", len(txs), "error", err)
		}
		generated += len(txs)
	}

	slog.InfoContext(ctx, "Generation pass complete", "generated", generated)
	return generated, nil
}

// SendReminders publishes an event for every rule inside its notification
// window. Without a publisher this is a no-op.
func (w *GenerationWorker) SendReminders(ctx context.Context) (int, error) {
	if w.reminders == nil {
		return 0, nil
	}

	owners, err := w.storage.ListRuleOwners(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rule owners: %w", err)
	}

	sent := 0
	for _, userID := range owners {
		upcoming, err := w.engine.UpcomingReminders(ctx, userID)
		if err != nil {
			slog.WarnContext(ctx, "Failed to collect reminders",
				"user_id", userID, "error", err)
			continue
		}
		for _, rem := range upcoming {
			msg := &notify.ReminderMessage{
				UserID:      rem.Rule.UserID,
				RuleID:      rem.Rule.ID,
				Description: rem.Rule.Description,
				AmountCents: rem.Rule.Amount.Cents,
				DueDate:     rem.Due.String(),
				Label:       rem.Label,
				Timestamp:   time.Now(),
			}
			if err := w.reminders.PublishReminder(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "Failed to publish reminder",
					"rule_id", rem.Rule.ID, "error", err)
				continue
			}
			sent++
		}
	}

	return sent, nil
}
