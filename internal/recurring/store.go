package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/core"
	"github.com/cyberkelysoatra/bazarkely-sub005/internal/schedule"
)

// NewRule is the input for creating a recurrence rule.
type NewRule struct {
	UserID      string
	AccountID   string
	ToAccountID *string
	Type        core.TransactionType
	Amount      core.Money
	Description string
	Category    string

	Frequency  core.Frequency
	StartDate  core.Date
	EndDate    *core.Date
	DayOfMonth *int
	DayOfWeek  *int

	NotifyDaysBefore int
	AutoCreate       bool
	BudgetID         *string
}

// RulePatch is a partial update; nil fields are left untouched. Changing
// the frequency drops the day fields that no longer apply, so a patch
// that switches regimes must carry the newly required day field.
type RulePatch struct {
	Amount      *core.Money
	Description *string
	Category    *string
	AccountID   *string
	ToAccountID *string

	Frequency  *core.Frequency
	StartDate  *core.Date
	EndDate    *core.Date
	DayOfMonth *int
	DayOfWeek  *int

	NotifyDaysBefore *int
	AutoCreate       *bool
	BudgetID         *string
	IsActive         *bool

	// Clear flags null the matching optional field; a clear wins over a
	// value carried in the same patch. Clearing the end date turns a
	// bounded rule back into an unbounded one.
	ClearEndDate     bool
	ClearBudgetID    bool
	ClearToAccountID bool
}

// Store reconciles the local mirror with the remote authoritative store.
// Local writes are the durability floor; remote propagation is best-effort
// and failures are queued for the sync worker.
type Store struct {
	local  LocalStore
	remote RemoteStore   // nil in offline-only deployments
	sync   SyncPublisher // nil when no broker is configured
	merge  MergeFunc
	now    func() time.Time
}

func NewStore(local LocalStore, remote RemoteStore, sync SyncPublisher) *Store {
	return &Store{
		local:  local,
		remote: remote,
		sync:   sync,
		merge:  LastWriteWins,
		now:    time.Now,
	}
}

// SetMergePolicy replaces the reconciliation policy, mainly for tests.
func (s *Store) SetMergePolicy(m MergeFunc) {
	s.merge = m
}

// SetClock replaces the time source, mainly for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Create validates the rule, computes its first generation date, writes it
// to the mirror, and then tries the remote store. A remote-assigned id
// replaces the local one; a remote failure leaves the rule pending sync.
func (s *Store) Create(ctx context.Context, in NewRule) (*core.RecurrenceRule, error) {
	now := s.now()
	rule := core.RecurrenceRule{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		AccountID:        in.AccountID,
		ToAccountID:      in.ToAccountID,
		Type:             in.Type,
		Amount:           in.Amount,
		Description:      in.Description,
		Category:         in.Category,
		Frequency:        in.Frequency,
		StartDate:        in.StartDate,
		EndDate:          in.EndDate,
		DayOfMonth:       in.DayOfMonth,
		DayOfWeek:        in.DayOfWeek,
		NotifyDaysBefore: in.NotifyDaysBefore,
		AutoCreate:       in.AutoCreate,
		BudgetID:         in.BudgetID,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if v := core.ValidateRule(rule); !v.Valid {
		return nil, &ValidationError{Errors: v.Errors}
	}
	rule.NextGenerationDate = schedule.InitialDate(rule)

	if err := s.local.PutRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("save rule to mirror: %w", err)
	}

	if s.remote == nil {
		return &rule, nil
	}

	assignedID, err := s.remote.CreateRule(ctx, rule)
	if err != nil {
		slog.WarnContext(ctx, "Remote create failed, rule queued for sync",
			"rule_id", rule.ID, "error", err)
		s.queueSync(ctx, rule.ID)
		return &rule, nil
	}

	if assignedID != "" && assignedID != rule.ID {
		if err := s.local.ReplaceRuleID(ctx, rule.ID, assignedID); err != nil {
			slog.ErrorContext(ctx, "Failed to adopt remote rule id",
				"local_id", rule.ID, "remote_id", assignedID, "error", err)
			return &rule, nil
		}
		rule.ID = assignedID
	}
	s.markSynced(ctx, rule.ID)

	return &rule, nil
}

// GetAll returns the user's rules. The mirror answers immediately; remote
// records are merged in best-effort, last write wins on UpdatedAt.
func (s *Store) GetAll(ctx context.Context, userID string) ([]core.RecurrenceRule, error) {
	local, err := s.local.ListRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list rules from mirror: %w", err)
	}

	if s.remote == nil {
		return sortRules(local), nil
	}

	remote, err := s.remote.ListRules(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "Remote list failed, returning mirror only",
			"user_id", userID, "error", err)
		return sortRules(local), nil
	}

	byID := make(map[string]core.RecurrenceRule, len(local))
	for _, r := range local {
		byID[r.ID] = r
	}
	for _, rr := range remote {
		lr, ok := byID[rr.ID]
		if !ok {
			// Remote-only record, cache it in the mirror.
			byID[rr.ID] = rr
			s.cacheRemote(ctx, rr)
			continue
		}
		winner := s.merge(lr, rr)
		byID[rr.ID] = winner
		if rr.UpdatedAt.After(lr.UpdatedAt) {
			s.cacheRemote(ctx, winner)
		}
	}

	merged := make([]core.RecurrenceRule, 0, len(byID))
	for _, r := range byID {
		merged = append(merged, r)
	}
	return sortRules(merged), nil
}

// GetByID looks up the mirror first and falls back to a remote
// fetch-and-cache on a miss.
func (s *Store) GetByID(ctx context.Context, id string) (*core.RecurrenceRule, error) {
	r, err := s.local.GetRule(ctx, id)
	if err == nil {
		return r, nil
	}
	if s.remote == nil {
		return nil, err
	}

	rr, rerr := s.remote.GetRule(ctx, id)
	if rerr != nil {
		return nil, err
	}
	s.cacheRemote(ctx, *rr)
	return rr, nil
}

// Update applies a partial edit. When any schedule field changes, the next
// generation date is recomputed from the merged values.
func (s *Store) Update(ctx context.Context, id string, patch RulePatch) (*core.RecurrenceRule, error) {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rule := *existing
	scheduleChanged := applyPatch(&rule, patch)

	if v := core.ValidateRule(rule); !v.Valid {
		return nil, &ValidationError{Errors: v.Errors}
	}

	if scheduleChanged {
		// Recompute from the merged definition, then roll forward to today:
		// an edit on a long-running rule must not rewind the schedule and
		// have the next generation pass replay months of back-dated
		// transactions.
		next := schedule.InitialDate(rule)
		today := core.DateOf(s.now())
		for next.Before(today.Time) {
			if rule.EndDate != nil && next.After(rule.EndDate.Time) {
				break
			}
			next = schedule.NextForRule(rule, next)
		}
		rule.NextGenerationDate = next
	}
	// A rule whose next date would outlive its end date goes inactive with
	// the date clamped, whether the edit changed the schedule or the end.
	if rule.EndDate != nil && rule.NextGenerationDate.After(rule.EndDate.Time) {
		rule.IsActive = false
		rule.NextGenerationDate = *rule.EndDate
	}
	rule.UpdatedAt = s.now()

	if err := s.Save(ctx, rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// Delete removes the rule from the mirror and best-effort from the remote
// store. Local removal succeeds even when the remote is unreachable.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.local.DeleteRule(ctx, id); err != nil {
		return err
	}

	if s.remote != nil {
		if err := s.remote.DeleteRule(ctx, id); err != nil {
			slog.WarnContext(ctx, "Remote delete failed, queued for sync",
				"rule_id", id, "error", err)
			if s.sync != nil {
				if perr := s.sync.PublishRuleDelete(ctx, id); perr != nil {
					slog.ErrorContext(ctx, "Failed to publish delete sync message",
						"rule_id", id, "error", perr)
				}
			}
		}
	}
	return nil
}

// ToggleActive suspends or resumes a rule. Resuming does not recompute the
// schedule; it continues from the existing next generation date.
func (s *Store) ToggleActive(ctx context.Context, id string, active bool) (*core.RecurrenceRule, error) {
	return s.Update(ctx, id, RulePatch{IsActive: &active})
}

// Save writes a rule to the mirror and propagates it best-effort to the
// remote store. The generation engine uses it for schedule advances.
func (s *Store) Save(ctx context.Context, rule core.RecurrenceRule) error {
	if err := s.local.PutRule(ctx, rule); err != nil {
		return fmt.Errorf("save rule to mirror: %w", err)
	}

	if s.remote != nil {
		if err := s.remote.UpsertRule(ctx, rule); err != nil {
			slog.WarnContext(ctx, "Remote update failed, rule queued for sync",
				"rule_id", rule.ID, "error", err)
			s.queueSync(ctx, rule.ID)
			return nil
		}
		s.markSynced(ctx, rule.ID)
	}
	return nil
}

func (s *Store) queueSync(ctx context.Context, id string) {
	if err := s.local.MarkRuleSyncPending(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to mark rule sync pending", "rule_id", id, "error", err)
	}
	if s.sync != nil {
		if err := s.sync.PublishRuleSync(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Failed to publish sync message", "rule_id", id, "error", err)
		}
	}
}

func (s *Store) markSynced(ctx context.Context, id string) {
	if err := s.local.MarkRuleSynced(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to mark rule synced", "rule_id", id, "error", err)
	}
}

func (s *Store) cacheRemote(ctx context.Context, r core.RecurrenceRule) {
	if err := s.local.PutRule(ctx, r); err != nil {
		slog.WarnContext(ctx, "Failed to cache remote rule in mirror",
			"rule_id", r.ID, "error", err)
		return
	}
	s.markSynced(ctx, r.ID)
}

// applyPatch merges non-nil patch fields into the rule and reports whether
// any schedule-relevant field changed.
func applyPatch(r *core.RecurrenceRule, p RulePatch) bool {
	if p.Amount != nil {
		r.Amount = *p.Amount
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.AccountID != nil {
		r.AccountID = *p.AccountID
	}
	if p.ClearToAccountID {
		r.ToAccountID = nil
	} else if p.ToAccountID != nil {
		r.ToAccountID = p.ToAccountID
	}
	if p.NotifyDaysBefore != nil {
		r.NotifyDaysBefore = *p.NotifyDaysBefore
	}
	if p.AutoCreate != nil {
		r.AutoCreate = *p.AutoCreate
	}
	if p.ClearBudgetID {
		r.BudgetID = nil
	} else if p.BudgetID != nil {
		r.BudgetID = p.BudgetID
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
	if p.ClearEndDate {
		r.EndDate = nil
	} else if p.EndDate != nil {
		r.EndDate = p.EndDate
	}

	changed := false
	if p.Frequency != nil && *p.Frequency != r.Frequency {
		r.Frequency = *p.Frequency
		changed = true
		// Day fields from the old regime no longer apply.
		switch r.Frequency {
		case core.Daily:
			r.DayOfMonth, r.DayOfWeek = nil, nil
		case core.Weekly:
			r.DayOfMonth = nil
		default:
			r.DayOfWeek = nil
		}
	}
	if p.StartDate != nil && !p.StartDate.Equal(r.StartDate.Time) {
		r.StartDate = *p.StartDate
		changed = true
	}
	if p.DayOfMonth != nil && (r.DayOfMonth == nil || *r.DayOfMonth != *p.DayOfMonth) {
		r.DayOfMonth = p.DayOfMonth
		changed = true
	}
	if p.DayOfWeek != nil && (r.DayOfWeek == nil || *r.DayOfWeek != *p.DayOfWeek) {
		r.DayOfWeek = p.DayOfWeek
		changed = true
	}
	return changed
}

func sortRules(rules []core.RecurrenceRule) []core.RecurrenceRule {
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].NextGenerationDate.Equal(rules[j].NextGenerationDate.Time) {
			return rules[i].NextGenerationDate.Before(rules[j].NextGenerationDate.Time)
		}
		return rules[i].ID < rules[j].ID
	})
	return rules
}
