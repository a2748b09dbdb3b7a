package recurring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/core"
)

// In-memory fakes for the outbound ports.

type memoryLocal struct {
	mu        sync.Mutex
	rules     map[string]core.RecurrenceRule
	syncState map[string]string // "pending" or "synced"
	putErr    error
}

func newMemoryLocal() *memoryLocal {
	return &memoryLocal{
		rules:     make(map[string]core.RecurrenceRule),
		syncState: make(map[string]string),
	}
}

func (m *memoryLocal) PutRule(ctx context.Context, r core.RecurrenceRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.rules[r.ID] = r
	return nil
}

func (m *memoryLocal) GetRule(ctx context.Context, id string) (*core.RecurrenceRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, core.ErrRuleNotFound
	}
	return &r, nil
}

func (m *memoryLocal) ListRules(ctx context.Context, userID string) ([]core.RecurrenceRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.RecurrenceRule
	for _, r := range m.rules {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryLocal) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return core.ErrRuleNotFound
	}
	delete(m.rules, id)
	delete(m.syncState, id)
	return nil
}

func (m *memoryLocal) ReplaceRuleID(ctx context.Context, oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[oldID]
	if !ok {
		return core.ErrRuleNotFound
	}
	delete(m.rules, oldID)
	r.ID = newID
	m.rules[newID] = r
	return nil
}

func (m *memoryLocal) MarkRuleSynced(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncState[id] = "synced"
	return nil
}

func (m *memoryLocal) MarkRuleSyncPending(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncState[id] = "pending"
	return nil
}

type memoryRemote struct {
	mu       sync.Mutex
	rules    map[string]core.RecurrenceRule
	assignID string // id handed out by CreateRule; empty keeps the caller's
	fail     bool   // every call errors when set
	creates  int
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{rules: make(map[string]core.RecurrenceRule)}
}

var errRemoteDown = errors.New("remote store unavailable")

func (m *memoryRemote) CreateRule(ctx context.Context, r core.RecurrenceRule) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", errRemoteDown
	}
	m.creates++
	id := r.ID
	if m.assignID != "" {
		id = m.assignID
	}
	r.ID = id
	m.rules[id] = r
	return id, nil
}

func (m *memoryRemote) UpsertRule(ctx context.Context, r core.RecurrenceRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errRemoteDown
	}
	m.rules[r.ID] = r
	return nil
}

func (m *memoryRemote) GetRule(ctx context.Context, id string) (*core.RecurrenceRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errRemoteDown
	}
	r, ok := m.rules[id]
	if !ok {
		return nil, core.ErrRuleNotFound
	}
	return &r, nil
}

func (m *memoryRemote) ListRules(ctx context.Context, userID string) ([]core.RecurrenceRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errRemoteDown
	}
	var out []core.RecurrenceRule
	for _, r := range m.rules {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryRemote) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errRemoteDown
	}
	delete(m.rules, id)
	return nil
}

type memoryLedger struct {
	mu        sync.Mutex
	seq       int
	txs       []core.Transaction
	createErr error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{}
}

func (m *memoryLedger) CreateTransaction(ctx context.Context, userID string, in core.NewTransaction) (*core.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.seq++
	tx := core.Transaction{
		ID:              fmt.Sprintf("tx-%d", m.seq),
		UserID:          userID,
		AccountID:       in.AccountID,
		Type:            in.Type,
		Amount:          in.Amount,
		Description:     in.Description,
		Category:        in.Category,
		Date:            in.Date,
		Notes:           in.Notes,
		RecurringRuleID: in.RecurringRuleID,
	}
	m.txs = append(m.txs, tx)
	return &tx, nil
}

func (m *memoryLedger) CreateTransfer(ctx context.Context, userID string, in core.NewTransfer) ([]core.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	legs := make([]core.Transaction, 2)
	for i, acc := range []string{in.FromAccountID, in.ToAccountID} {
		m.seq++
		legs[i] = core.Transaction{
			ID:              fmt.Sprintf("tx-%d", m.seq),
			UserID:          userID,
			AccountID:       acc,
			Type:            core.Transfer,
			Amount:          in.Amount,
			Description:     in.Description,
			Category:        in.Category,
			Date:            in.Date,
			Notes:           in.Notes,
			RecurringRuleID: in.RecurringRuleID,
		}
	}
	m.txs = append(m.txs, legs...)
	return legs, nil
}

func (m *memoryLedger) FindGenerated(ctx context.Context, userID, ruleID string, date core.Date) (*core.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.UserID == userID && tx.RecurringRuleID != nil && *tx.RecurringRuleID == ruleID && tx.Date == date {
			t := tx
			return &t, nil
		}
	}
	return nil, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	syncs   []string
	deletes []string
}

func (p *recordingPublisher) PublishRuleSync(ctx context.Context, ruleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncs = append(p.syncs, ruleID)
	return nil
}

func (p *recordingPublisher) PublishRuleDelete(ctx context.Context, ruleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes = append(p.deletes, ruleID)
	return nil
}
