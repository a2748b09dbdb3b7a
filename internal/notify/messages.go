package notify

import (
	"encoding/json"
	"time"
)

const (
	OpSync   = "sync"
	OpDelete = "delete"
)

// RuleSyncMessage asks the sync worker to reconcile one rule with the
// remote store. It carries only the id and operation; the worker fetches
// the current record from the mirror.
type RuleSyncMessage struct {
	RuleID    string    `json:"rule_id"`
	Op        string    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRuleSyncMessage(ruleID, op string) *RuleSyncMessage {
	return &RuleSyncMessage{
		RuleID:    ruleID,
		Op:        op,
		Timestamp: time.Now(),
	}
}

func (m *RuleSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RuleSyncMessageFromJSON(data []byte) (*RuleSyncMessage, error) {
	var msg RuleSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ReminderMessage announces an upcoming occurrence inside its notification
// window. Delivery to the user is another subsystem's concern.
type ReminderMessage struct {
	UserID      string    `json:"user_id"`
	RuleID      string    `json:"rule_id"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	DueDate     string    `json:"due_date"`
	Label       string    `json:"label"`
	Timestamp   time.Time `json:"timestamp"`
}

func (m *ReminderMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
