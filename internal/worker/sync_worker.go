// Package worker hosts the background processes: remote reconciliation of
// the mirror and scheduled generation of due recurring transactions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/core"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/notify"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/recurring"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/storage"
)

// SyncWorker pushes mirror writes that missed the remote store. It is fed
// by AMQP messages, with periodic pending scans as a backup for lost
// messages.
type SyncWorker struct {
	storage   *storage.SQLiteRepository
	remote    recurring.RemoteStore
	batchSize int
}

func NewSyncWorker(storage *storage.SQLiteRepository, remote recurring.RemoteStore, batchSize int) *SyncWorker {
	return &SyncWorker{
		storage:   storage,
		remote:    remote,
		batchSize: batchSize,
	}
}

// HandleSyncMessage reconciles one rule with the remote store. A returned
// error requeues the message.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *notify.RuleSyncMessage) error {
	slog.InfoContext(ctx, "Processing rule sync message",
		"rule_id", msg.RuleID, "op", msg.Op)

	switch msg.Op {
	case notify.OpDelete:
		if err := w.remote.DeleteRule(ctx, msg.RuleID); err != nil {
			return fmt.Errorf("delete remote rule %s: %w", msg.RuleID, err)
		}
		return nil
	case notify.OpSync:
		return w.syncRule(ctx, msg.RuleID)
	default:
		slog.WarnContext(ctx, "Dropping sync message with unknown op",
			"rule_id", msg.RuleID, "op", msg.Op)
		return nil
	}
}

func (w *SyncWorker) syncRule(ctx context.Context, id string) error {
	rule, err := w.storage.GetRule(ctx, id)
	if errors.Is(err, core.ErrRuleNotFound) {
		// Deleted from the mirror since the message was queued.
		slog.WarnContext(ctx, "Rule vanished before sync, dropping message", "rule_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get rule %s from mirror: %w", id, err)
	}

	if err := w.remote.UpsertRule(ctx, *rule); err != nil {
		return fmt.Errorf("upsert remote rule %s: %w", id, err)
	}

	if err := w.storage.MarkRuleSynced(ctx, id); err != nil {
		slog.WarnContext(ctx, "Failed to mark rule synced",
			"rule_id", id, "error", err)
		// Sync itself succeeded; the pending scan will just revisit it.
	}

	slog.InfoContext(ctx, "Synced rule to remote store", "rule_id", id)
	return nil
}

// ProcessPendingRules pushes a batch of sync-pending rules. Failures are
// isolated per rule; the batch keeps going.
func (w *SyncWorker) ProcessPendingRules(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncRules(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending sync rules: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending rule syncs", "count", len(pending))

	for _, rule := range pending {
		if err := w.syncRule(ctx, rule.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to sync pending rule",
				"rule_id", rule.ID, "error", err)
			if merr := w.storage.MarkRuleSyncError(ctx, rule.ID, err.Error()); merr != nil {
				slog.ErrorContext(ctx, "Failed to mark rule sync error",
					"rule_id", rule.ID, "error", merr)
			}
			continue
		}
	}

	return nil
}

// StartupSyncCheck drains a larger pending backlog at worker start to
// recover from downtime or lost messages.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncRules(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending rules for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending rule syncs found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending rule syncs on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0
	for _, rule := range pending {
		if err := w.syncRule(ctx, rule.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to sync rule during startup",
				"rule_id", rule.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(pending),
		"synced", successCount,
		"errors", errorCount)

	return nil
}
