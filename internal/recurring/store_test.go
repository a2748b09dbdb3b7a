package recurring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/core"
)

func intPtr(v int) *int { return &v }

func monthlyRuleInput() NewRule {
	return NewRule{
		UserID:      "u1",
		AccountID:   "acc1",
		Type:        core.Expense,
		Amount:      core.Money{Cents: 150000},
		Description: "Loyer",
		Category:    "logement",
		Frequency:   core.Monthly,
		StartDate:   core.NewDate(2024, 1, 1),
		DayOfMonth:  intPtr(1),
		AutoCreate:  true,
	}
}

func TestCreateComputesInitialSchedule(t *testing.T) {
	local := newMemoryLocal()
	store := NewStore(local, nil, nil)

	rule, err := store.Create(context.Background(), monthlyRuleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !rule.IsActive {
		t.Fatalf("expected new rule active")
	}
	if rule.NextGenerationDate != core.NewDate(2024, 1, 1) {
		t.Fatalf("expected first occurrence on start date, got %s", rule.NextGenerationDate)
	}
	if _, ok := local.rules[rule.ID]; !ok {
		t.Fatalf("rule not written to mirror")
	}
}

func TestCreateRejectsInvalidRule(t *testing.T) {
	store := NewStore(newMemoryLocal(), nil, nil)

	in := monthlyRuleInput()
	in.Amount.Cents = 0
	in.Description = ""

	_, err := store.Create(context.Background(), in)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %v", verr.Errors)
	}
}

func TestCreateAdoptsRemoteID(t *testing.T) {
	local := newMemoryLocal()
	remote := newMemoryRemote()
	remote.assignID = "remote-1"
	store := NewStore(local, remote, nil)

	rule, err := store.Create(context.Background(), monthlyRuleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rule.ID != "remote-1" {
		t.Fatalf("expected remote id adopted, got %s", rule.ID)
	}
	if _, ok := local.rules["remote-1"]; !ok {
		t.Fatalf("mirror does not hold the remote id")
	}
	if local.syncState["remote-1"] != "synced" {
		t.Fatalf("expected rule marked synced, got %q", local.syncState["remote-1"])
	}
}

func TestCreateOfflineKeepsLocalIDAndQueuesSync(t *testing.T) {
	local := newMemoryLocal()
	remote := newMemoryRemote()
	remote.fail = true
	pub := &recordingPublisher{}
	store := NewStore(local, remote, pub)

	rule, err := store.Create(context.Background(), monthlyRuleInput())
	if err != nil {
		t.Fatalf("create must survive a remote outage: %v", err)
	}
	if _, ok := local.rules[rule.ID]; !ok {
		t.Fatalf("rule not written to mirror")
	}
	if local.syncState[rule.ID] != "pending" {
		t.Fatalf("expected rule pending sync, got %q", local.syncState[rule.ID])
	}
	if len(pub.syncs) != 1 || pub.syncs[0] != rule.ID {
		t.Fatalf("expected one sync message for %s, got %v", rule.ID, pub.syncs)
	}
}

func TestGetAllMergesLastWriteWins(t *testing.T) {
	local := newMemoryLocal()
	remote := newMemoryRemote()
	store := NewStore(local, remote, nil)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// Remote copy is newer: its description wins and the mirror is updated.
	newerRemote := core.RecurrenceRule{
		ID: "r1", UserID: "u1", AccountID: "a", Type: core.Expense,
		Amount: core.Money{Cents: 100}, Description: "remote wins", Category: "c",
		Frequency: core.Monthly, StartDate: core.NewDate(2024, 1, 1), DayOfMonth: intPtr(1),
		NextGenerationDate: core.NewDate(2024, 7, 1), IsActive: true,
		UpdatedAt: base.Add(time.Hour),
	}
	localCopy := newerRemote
	localCopy.Description = "local stale"
	localCopy.UpdatedAt = base
	local.rules["r1"] = localCopy
	remote.rules["r1"] = newerRemote

	// Local copy is newer: it wins and the mirror is left untouched.
	newerLocal := newerRemote
	newerLocal.ID = "r2"
	newerLocal.Description = "local wins"
	newerLocal.UpdatedAt = base.Add(2 * time.Hour)
	staleRemote := newerLocal
	staleRemote.Description = "remote stale"
	staleRemote.UpdatedAt = base
	local.rules["r2"] = newerLocal
	remote.rules["r2"] = staleRemote

	// Equal timestamps favour the local copy.
	tied := newerRemote
	tied.ID = "r3"
	tied.Description = "local tied"
	tied.UpdatedAt = base
	tiedRemote := tied
	tiedRemote.Description = "remote tied"
	local.rules["r3"] = tied
	remote.rules["r3"] = tiedRemote

	rules, err := store.GetAll(ctx, "u1")
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	got := make(map[string]string, len(rules))
	for _, r := range rules {
		got[r.ID] = r.Description
	}
	if got["r1"] != "remote wins" {
		t.Fatalf("r1: expected remote copy, got %q", got["r1"])
	}
	if got["r2"] != "local wins" {
		t.Fatalf("r2: expected local copy, got %q", got["r2"])
	}
	if got["r3"] != "local tied" {
		t.Fatalf("r3: expected local copy on tie, got %q", got["r3"])
	}
	if local.rules["r1"].Description != "remote wins" {
		t.Fatalf("mirror not refreshed with newer remote copy")
	}
	if local.rules["r2"].Description != "local wins" {
		t.Fatalf("mirror overwritten by stale remote copy")
	}
}

func TestGetAllCachesRemoteOnlyRules(t *testing.T) {
	local := newMemoryLocal()
	remote := newMemoryRemote()
	store := NewStore(local, remote, nil)

	remote.rules["r9"] = core.RecurrenceRule{
		ID: "r9", UserID: "u1", AccountID: "a", Type: core.Income,
		Amount: core.Money{Cents: 100}, Description: "Salaire", Category: "revenus",
		Frequency: core.Monthly, StartDate: core.NewDate(2024, 1, 5), DayOfMonth: intPtr(5),
		NextGenerationDate: core.NewDate(2024, 7, 5), IsActive: true,
	}

	rules, err := store.GetAll(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != "r9" {
		t.Fatalf("expected remote-only rule returned, got %v", rules)
	}
	if _, ok := local.rules["r9"]; !ok {
		t.Fatalf("remote-only rule not cached in mirror")
	}
}

func TestGetAllSurvivesRemoteOutage(t *testing.T) {
	local := newMemoryLocal()
	remote := newMemoryRemote()
	store := NewStore(local, remote, nil)

	local.rules["r1"] = core.RecurrenceRule{ID: "r1", UserID: "u1", NextGenerationDate: core.NewDate(2024, 7, 1)}
	remote.fail = true

	rules, err := store.GetAll(context.Background(), "u1")
	if err != nil {
		t.Fatalf("expected mirror fallback, got %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule from mirror, got %d", len(rules))
	}
}

func TestGetAllSortsByNextGenerationDate(t *testing.T) {
	local := newMemoryLocal()
	store := NewStore(local, nil, nil)

	local.rules["b"] = core.RecurrenceRule{ID: "b", UserID: "u1", NextGenerationDate: core.NewDate(2024, 7, 1)}
	local.rules["a"] = core.RecurrenceRule{ID: "a", UserID: "u1", NextGenerationDate: core.NewDate(2024, 7, 1)}
	local.rules["c"] = core.RecurrenceRule{ID: "c", UserID: "u1", NextGenerationDate: core.NewDate(2024, 6, 1)}

	rules, err := store.GetAll(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	order := []string{rules[0].ID, rules[1].ID, rules[2].ID}
	if order[0] != "c" || order[1] != "a" || order[2] != "b" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestUpdateRecomputesScheduleOnChange(t *testing.T) {
	local := newMemoryLocal()
	store := NewStore(local, nil, nil)
	store.SetClock(fixedClock(2024, 1, 1))
	ctx := context.Background()

	rule, err := store.Create(ctx, monthlyRuleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := store.Update(ctx, rule.ID, RulePatch{DayOfMonth: intPtr(15)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.NextGenerationDate != core.NewDate(2024, 1, 15) {
		t.Fatalf("expected schedule recomputed to 2024-01-15, got %s", updated.NextGenerationDate)
	}

	// Non-schedule edits leave the next date alone.
	before := updated.NextGenerationDate
	updated, err = store.Update(ctx, rule.ID, RulePatch{Description: strPtr("Loyer maison")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.NextGenerationDate != before {
		t.Fatalf("description edit moved the schedule to %s", updated.NextGenerationDate)
	}
	if updated.Description != "Loyer maison" {
		t.Fatalf("description not applied")
	}
}

func TestUpdateDoesNotRewindLongRunningSchedule(t *testing.T) {
	local := newMemoryLocal()
	store := NewStore(local, nil, nil)
	store.SetClock(fixedClock(2024, 6, 10))
	ctx := context.Background()

	rule, err := store.Create(ctx, monthlyRuleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// The rule has been running since January.
	saved := local.rules[rule.ID]
	saved.NextGenerationDate = core.NewDate(2024, 7, 1)
	local.rules[rule.ID] = saved

	// Moving the day of month recomputes from the merged definition, but
	// the result is rolled forward to today so the next generation pass
	// does not replay months of back-dated occurrences.
	updated, err := store.Update(ctx, rule.ID, RulePatch{DayOfMonth: intPtr(15)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.NextGenerationDate != core.NewDate(2024, 6, 15) {
		t.Fatalf("expected next date 2024-06-15, got %s", updated.NextGenerationDate)
	}
	if !updated.IsActive {
		t.Fatalf("rule should stay active")
	}
}

func TestUpdateClearsOptionalFields(t *testing.T) {
	local := newMemoryLocal()
	store := NewStore(local, nil, nil)
	store.SetClock(fixedClock(2024, 1, 1))
	ctx := context.Background()

	in := monthlyRuleInput()
	end := core.NewDate(2024, 12, 1)
	in.EndDate = &end
	in.BudgetID = strPtr("budget-1")

	rule, err := store.Create(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := store.Update(ctx, rule.ID, RulePatch{ClearEndDate: true, ClearBudgetID: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.EndDate != nil {
		t.Fatalf("expected end date cleared, got %s", updated.EndDate)
	}
	if updated.BudgetID != nil {
		t.Fatalf("expected budget cleared, got %q", *updated.BudgetID)
	}
	if updated.NextGenerationDate != rule.NextGenerationDate {
		t.Fatalf("clearing bounds moved the schedule to %s", updated.NextGenerationDate)
	}

	// A clear wins over a value carried in the same patch.
	other := core.NewDate(2025, 1, 1)
	updated, err = store.Update(ctx, rule.ID, RulePatch{EndDate: &other, ClearEndDate: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.EndDate != nil {
		t.Fatalf("clear should win over a set in the same patch")
	}

	// A transfer cannot lose its destination account.
	transferIn := monthlyRuleInput()
	transferIn.Type = core.Transfer
	transferIn.ToAccountID = strPtr("acc2")
	transfer, err := store.Create(ctx, transferIn)
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	if _, err := store.Update(ctx, transfer.ID, RulePatch{ClearToAccountID: true}); err == nil {
		t.Fatalf("expected validation error when clearing a transfer destination")
	}
}

func TestUpdateFrequencyChangeDropsStaleDayFields(t *testing.T) {
	local := newMemoryLocal()
	store := NewStore(local, nil, nil)
	store.SetClock(fixedClock(2024, 1, 1))
	ctx := context.Background()

	rule, err := store.Create(ctx, monthlyRuleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	weekly := core.Weekly
	updated, err := store.Update(ctx, rule.ID, RulePatch{Frequency: &weekly, DayOfWeek: intPtr(1)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.DayOfMonth != nil {
		t.Fatalf("day of month should be dropped on regime change")
	}
	if updated.DayOfWeek == nil || *updated.DayOfWeek != 1 {
		t.Fatalf("day of week not applied")
	}
	// First Monday on or after 2024-01-01 is Jan 1 itself.
	if updated.NextGenerationDate != core.NewDate(2024, 1, 1) {
		t.Fatalf("expected 2024-01-01, got %s", updated.NextGenerationDate)
	}

	// Switching regimes without the new day field is rejected.
	monthly := core.Monthly
	if _, err := store.Update(ctx, rule.ID, RulePatch{Frequency: &monthly}); err == nil {
		t.Fatalf("expected validation error for monthly without day of month")
	}
}

func TestUpdateEndDateBeforeScheduleDeactivates(t *testing.T) {
	local := newMemoryLocal()
	store := NewStore(local, nil, nil)
	ctx := context.Background()

	rule, err := store.Create(ctx, monthlyRuleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Advance the rule past January.
	saved := local.rules[rule.ID]
	saved.NextGenerationDate = core.NewDate(2024, 5, 1)
	local.rules[rule.ID] = saved

	end := core.NewDate(2024, 3, 1)
	updated, err := store.Update(ctx, rule.ID, RulePatch{EndDate: &end})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.IsActive {
		t.Fatalf("expected rule deactivated when schedule outlives end date")
	}
	if updated.NextGenerationDate != end {
		t.Fatalf("expected next date clamped to end, got %s", updated.NextGenerationDate)
	}
}

func TestToggleActiveKeepsSchedule(t *testing.T) {
	local := newMemoryLocal()
	store := NewStore(local, nil, nil)
	ctx := context.Background()

	rule, err := store.Create(ctx, monthlyRuleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	next := rule.NextGenerationDate

	suspended, err := store.ToggleActive(ctx, rule.ID, false)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if suspended.IsActive {
		t.Fatalf("expected suspended")
	}

	resumed, err := store.ToggleActive(ctx, rule.ID, true)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !resumed.IsActive {
		t.Fatalf("expected active")
	}
	if resumed.NextGenerationDate != next {
		t.Fatalf("resume must not recompute the schedule, got %s", resumed.NextGenerationDate)
	}
}

func TestDeleteLocalFirstQueuesRemoteFailure(t *testing.T) {
	local := newMemoryLocal()
	remote := newMemoryRemote()
	pub := &recordingPublisher{}
	store := NewStore(local, remote, pub)
	ctx := context.Background()

	rule, err := store.Create(ctx, monthlyRuleInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	remote.fail = true
	if err := store.Delete(ctx, rule.ID); err != nil {
		t.Fatalf("delete must survive a remote outage: %v", err)
	}
	if _, ok := local.rules[rule.ID]; ok {
		t.Fatalf("rule still present in mirror")
	}
	if len(pub.deletes) != 1 || pub.deletes[0] != rule.ID {
		t.Fatalf("expected delete sync message, got %v", pub.deletes)
	}

	if err := store.Delete(ctx, "missing"); !errors.Is(err, core.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
}

func strPtr(s string) *string { return &s }
