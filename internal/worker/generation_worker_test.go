package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/core"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/notify"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/recurring"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []notify.ReminderMessage
}

func (p *capturePublisher) PublishReminder(ctx context.Context, msg *notify.ReminderMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, *msg)
	return nil
}

func TestProcessDueRulesAcrossOwners(t *testing.T) {
	repo := newTestStorage(t)
	store := recurring.NewStore(repo, nil, nil)
	engine := recurring.NewEngine(store, repo)
	engine.SetClock(func() time.Time {
		return time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	})
	w := NewGenerationWorker(repo, engine, nil)
	ctx := context.Background()

	// Two owners with a due rule each, one rule not yet due.
	due1 := seedRule(t, repo, "r1")
	due2 := seedRule(t, repo, "r2")
	due2.UserID = "u2"
	if err := repo.PutRule(ctx, due2); err != nil {
		t.Fatalf("put rule: %v", err)
	}
	future := seedRule(t, repo, "r3")
	future.NextGenerationDate = core.NewDate(2024, 8, 1)
	if err := repo.PutRule(ctx, future); err != nil {
		t.Fatalf("put rule: %v", err)
	}

	generated, err := w.ProcessDueRules(ctx)
	if err != nil {
		t.Fatalf("process due rules: %v", err)
	}
	if generated != 2 {
		t.Fatalf("expected 2 transactions, got %d", generated)
	}

	for _, c := range []struct {
		userID string
		ruleID string
	}{{due1.UserID, due1.ID}, {"u2", due2.ID}} {
		tx, err := repo.FindGenerated(ctx, c.userID, c.ruleID, core.NewDate(2024, 7, 1))
		if err != nil {
			t.Fatalf("find generated: %v", err)
		}
		if tx == nil {
			t.Fatalf("no transaction for rule %s", c.ruleID)
		}
	}

	// A second pass is a no-op: schedules advanced past today.
	generated, err = w.ProcessDueRules(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if generated != 0 {
		t.Fatalf("expected idempotent second pass, got %d", generated)
	}
}

func TestSendReminders(t *testing.T) {
	repo := newTestStorage(t)
	store := recurring.NewStore(repo, nil, nil)
	engine := recurring.NewEngine(store, repo)
	engine.SetClock(func() time.Time {
		return time.Date(2024, 6, 28, 9, 0, 0, 0, time.UTC)
	})
	pub := &capturePublisher{}
	w := NewGenerationWorker(repo, engine, pub)
	ctx := context.Background()

	// Due July 1st with a 3-day window: inside.
	inside := seedRule(t, repo, "r1")
	inside.NotifyDaysBefore = 3
	if err := repo.PutRule(ctx, inside); err != nil {
		t.Fatalf("put rule: %v", err)
	}
	// Same date without notifications: silent.
	silent := seedRule(t, repo, "r2")
	if err := repo.PutRule(ctx, silent); err != nil {
		t.Fatalf("put rule: %v", err)
	}

	sent, err := w.SendReminders(ctx)
	if err != nil {
		t.Fatalf("send reminders: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 reminder, got %d", sent)
	}
	msg := pub.msgs[0]
	if msg.RuleID != inside.ID || msg.DueDate != "2024-07-01" {
		t.Fatalf("unexpected reminder %+v", msg)
	}
	if msg.Label != "Dans 3 jours" {
		t.Fatalf("unexpected label %q", msg.Label)
	}

	// No publisher configured: quiet no-op.
	quiet := NewGenerationWorker(repo, engine, nil)
	if sent, err := quiet.SendReminders(ctx); err != nil || sent != 0 {
		t.Fatalf("expected no-op, got sent=%d err=%v", sent, err)
	}
}
