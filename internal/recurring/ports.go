// Package recurring contains the recurring transaction engine: the
// dual-store rule adapter and the generation engine that turns due rules
// into concrete transactions.
package recurring

import (
	"context"
	"strings"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/core"
)

// Ports for outbound adapters.
type (
	// LocalStore is the offline mirror. It is the durability floor: every
	// write path must succeed against it without touching the network.
	LocalStore interface {
		PutRule(ctx context.Context, r core.RecurrenceRule) error
		GetRule(ctx context.Context, id string) (*core.RecurrenceRule, error)
		ListRules(ctx context.Context, userID string) ([]core.RecurrenceRule, error)
		DeleteRule(ctx context.Context, id string) error

		// ReplaceRuleID swaps a locally generated id for the remote-assigned
		// one after a successful remote create.
		ReplaceRuleID(ctx context.Context, oldID, newID string) error

		MarkRuleSynced(ctx context.Context, id string) error
		MarkRuleSyncPending(ctx context.Context, id string) error
	}

	// RemoteStore is the authoritative hosted store. Any of its errors are
	// survivable; callers log them and move on.
	RemoteStore interface {
		CreateRule(ctx context.Context, r core.RecurrenceRule) (assignedID string, err error)
		UpsertRule(ctx context.Context, r core.RecurrenceRule) error
		GetRule(ctx context.Context, id string) (*core.RecurrenceRule, error)
		ListRules(ctx context.Context, userID string) ([]core.RecurrenceRule, error)
		DeleteRule(ctx context.Context, id string) error
	}

	// TransactionLedger is the transaction subsystem boundary. Each call is
	// atomic; CreateTransfer writes both legs or neither.
	TransactionLedger interface {
		CreateTransaction(ctx context.Context, userID string, in core.NewTransaction) (*core.Transaction, error)
		CreateTransfer(ctx context.Context, userID string, in core.NewTransfer) ([]core.Transaction, error)

		// FindGenerated looks up a transaction generated from the rule on the
		// exact date. Returns (nil, nil) when there is none.
		FindGenerated(ctx context.Context, userID, ruleID string, date core.Date) (*core.Transaction, error)
	}

	// SyncPublisher queues reconciliation work for writes that could not
	// reach the remote store.
	SyncPublisher interface {
		PublishRuleSync(ctx context.Context, ruleID string) error
		PublishRuleDelete(ctx context.Context, ruleID string) error
	}
)

// ValidationError reports every failed rule check. It is a caller-facing
// result, never retried.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid rule: " + strings.Join(e.Errors, "; ")
}
