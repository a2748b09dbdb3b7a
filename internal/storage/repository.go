// Package storage is the SQLite offline mirror: recurrence rules with
// per-record sync state, plus the local transaction ledger the generation
// engine writes into.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/core"

	_ "modernc.org/sqlite"
)

const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := applySchema(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const ruleColumns = `id, user_id, account_id, to_account_id, type, amount_cents,
	description, category, frequency, start_date, end_date, day_of_month,
	day_of_week, notify_days_before, auto_create, budget_id, is_active,
	last_generated_date, next_generation_date, created_at, updated_at`

// PutRule inserts or replaces a rule. New rows start sync-pending; the
// sync state of an existing row is left alone, the caller flips it
// explicitly after the remote write settles.
func (r *SQLiteRepository) PutRule(ctx context.Context, rule core.RecurrenceRule) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recurrence_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			account_id = excluded.account_id,
			to_account_id = excluded.to_account_id,
			type = excluded.type,
			amount_cents = excluded.amount_cents,
			description = excluded.description,
			category = excluded.category,
			frequency = excluded.frequency,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			day_of_month = excluded.day_of_month,
			day_of_week = excluded.day_of_week,
			notify_days_before = excluded.notify_days_before,
			auto_create = excluded.auto_create,
			budget_id = excluded.budget_id,
			is_active = excluded.is_active,
			last_generated_date = excluded.last_generated_date,
			next_generation_date = excluded.next_generation_date,
			updated_at = excluded.updated_at`,
		rule.ID, rule.UserID, rule.AccountID, rule.ToAccountID, string(rule.Type),
		rule.Amount.Cents, rule.Description, rule.Category, string(rule.Frequency),
		rule.StartDate.Format(dateLayout), nullableDate(rule.EndDate),
		rule.DayOfMonth, rule.DayOfWeek, rule.NotifyDaysBefore, rule.AutoCreate,
		rule.BudgetID, rule.IsActive, nullableDate(rule.LastGeneratedDate),
		rule.NextGenerationDate.Format(dateLayout),
		rule.CreatedAt.UTC().Format(timeLayout), rule.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("put rule: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetRule(ctx context.Context, id string) (*core.RecurrenceRule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM recurrence_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (r *SQLiteRepository) ListRules(ctx context.Context, userID string) ([]core.RecurrenceRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM recurrence_rules
		 WHERE user_id = ? ORDER BY next_generation_date, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

func (r *SQLiteRepository) DeleteRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recurrence_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrRuleNotFound
	}
	return nil
}

// ReplaceRuleID adopts a remote-assigned id for a locally created rule.
// The transaction back-references follow so the duplicate guard keeps
// matching.
func (r *SQLiteRepository) ReplaceRuleID(ctx context.Context, oldID, newID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin id swap: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE recurrence_rules SET id = ? WHERE id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("swap rule id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swap rule id rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrRuleNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET recurring_rule_id = ? WHERE recurring_rule_id = ?`,
		newID, oldID); err != nil {
		return fmt.Errorf("swap transaction back-references: %w", err)
	}

	return tx.Commit()
}

func (r *SQLiteRepository) MarkRuleSynced(ctx context.Context, id string) error {
	return r.setSyncState(ctx, id, SyncSynced, nil)
}

func (r *SQLiteRepository) MarkRuleSyncPending(ctx context.Context, id string) error {
	return r.setSyncState(ctx, id, SyncPending, nil)
}

func (r *SQLiteRepository) MarkRuleSyncError(ctx context.Context, id, msg string) error {
	slog.WarnContext(ctx, "Rule marked with sync error", "rule_id", id, "error", msg)
	return r.setSyncState(ctx, id, SyncError, &msg)
}

func (r *SQLiteRepository) setSyncState(ctx context.Context, id, state string, msg *string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recurrence_rules SET sync_state = ?, sync_error = ? WHERE id = ?`,
		state, msg, id)
	if err != nil {
		return fmt.Errorf("set sync state: %w", err)
	}
	return nil
}

// GetPendingSyncRules returns rules still waiting to reach the remote
// store, oldest edits first.
func (r *SQLiteRepository) GetPendingSyncRules(ctx context.Context, limit int) ([]core.RecurrenceRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM recurrence_rules
		 WHERE sync_state = ? ORDER BY updated_at LIMIT ?`, SyncPending, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync rules: %w", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

// ListRuleOwners returns the distinct user ids holding at least one rule.
func (r *SQLiteRepository) ListRuleOwners(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM recurrence_rules ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list rule owners: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan rule owner: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CreateTransaction writes a single income/expense record.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, userID string, in core.NewTransaction) (*core.Transaction, error) {
	tx := core.Transaction{
		ID:              uuid.NewString(),
		UserID:          userID,
		AccountID:       in.AccountID,
		Type:            in.Type,
		Amount:          in.Amount,
		Description:     in.Description,
		Category:        in.Category,
		Date:            in.Date,
		Notes:           in.Notes,
		RecurringRuleID: in.RecurringRuleID,
		CreatedAt:       time.Now().UTC(),
	}

	if err := r.insertTransaction(ctx, r.db, tx, nil); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to mirror",
		"id", tx.ID, "description", tx.Description,
		"amount_cents", tx.Amount.Cents, "date", tx.Date.String())

	return &tx, nil
}

// CreateTransfer writes the paired debit and credit legs atomically: both
// rows commit or neither does.
func (r *SQLiteRepository) CreateTransfer(ctx context.Context, userID string, in core.NewTransfer) ([]core.Transaction, error) {
	now := time.Now().UTC()
	groupID := uuid.NewString()

	debit := core.Transaction{
		ID:              uuid.NewString(),
		UserID:          userID,
		AccountID:       in.FromAccountID,
		Type:            core.Transfer,
		Amount:          in.Amount,
		Description:     in.Description,
		Category:        in.Category,
		Date:            in.Date,
		Notes:           in.Notes,
		RecurringRuleID: in.RecurringRuleID,
		CreatedAt:       now,
	}
	credit := debit
	credit.ID = uuid.NewString()
	credit.AccountID = in.ToAccountID

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transfer: %w", err)
	}
	defer dbtx.Rollback()

	if err := r.insertTransaction(ctx, dbtx, debit, &groupID); err != nil {
		return nil, fmt.Errorf("create transfer debit leg: %w", err)
	}
	if err := r.insertTransaction(ctx, dbtx, credit, &groupID); err != nil {
		return nil, fmt.Errorf("create transfer credit leg: %w", err)
	}
	if err := dbtx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transfer: %w", err)
	}

	slog.InfoContext(ctx, "Transfer saved to mirror",
		"debit_id", debit.ID, "credit_id", credit.ID,
		"amount_cents", in.Amount.Cents, "date", in.Date.String())

	return []core.Transaction{debit, credit}, nil
}

// FindGenerated is the duplicate guard lookup: an exact match on the rule
// back-reference and occurrence date covers transfers too, since both
// legs carry the reference.
func (r *SQLiteRepository) FindGenerated(ctx context.Context, userID, ruleID string, date core.Date) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, account_id, type, amount_cents, description,
		       category, date, notes, recurring_rule_id, created_at
		FROM transactions
		WHERE user_id = ? AND recurring_rule_id = ? AND date = ?
		ORDER BY created_at LIMIT 1`,
		userID, ruleID, date.Format(dateLayout))

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find generated transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions returns the user's generated records, newest date first.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, account_id, type, amount_cents, description,
		       category, date, notes, recurring_rule_id, created_at
		FROM transactions WHERE user_id = ?
		ORDER BY date DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLiteRepository) insertTransaction(ctx context.Context, db execer, tx core.Transaction, groupID *string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, account_id, type, amount_cents,
			description, category, date, notes, recurring_rule_id,
			transfer_group_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.AccountID, string(tx.Type), tx.Amount.Cents,
		tx.Description, tx.Category, tx.Date.Format(dateLayout), tx.Notes,
		tx.RecurringRuleID, groupID, tx.CreatedAt.Format(timeLayout))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*core.RecurrenceRule, error) {
	var (
		rule                           core.RecurrenceRule
		typ, freq, startDate, nextDate string
		endDate, lastGenerated         sql.NullString
		toAccount, budgetID            sql.NullString
		dayOfMonth, dayOfWeek          sql.NullInt64
		createdAt, updatedAt           string
	)
	err := row.Scan(&rule.ID, &rule.UserID, &rule.AccountID, &toAccount, &typ,
		&rule.Amount.Cents, &rule.Description, &rule.Category, &freq,
		&startDate, &endDate, &dayOfMonth, &dayOfWeek, &rule.NotifyDaysBefore,
		&rule.AutoCreate, &budgetID, &rule.IsActive, &lastGenerated,
		&nextDate, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rule.Type = core.TransactionType(typ)
	rule.Frequency = core.Frequency(freq)
	rule.ToAccountID = nullString(toAccount)
	rule.BudgetID = nullString(budgetID)
	rule.DayOfMonth = nullInt(dayOfMonth)
	rule.DayOfWeek = nullInt(dayOfWeek)

	if rule.StartDate, err = parseDate(startDate); err != nil {
		return nil, err
	}
	if rule.NextGenerationDate, err = parseDate(nextDate); err != nil {
		return nil, err
	}
	if rule.EndDate, err = parseNullDate(endDate); err != nil {
		return nil, err
	}
	if rule.LastGeneratedDate, err = parseNullDate(lastGenerated); err != nil {
		return nil, err
	}
	if rule.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rule.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &rule, nil
}

func collectRules(rows *sql.Rows) ([]core.RecurrenceRule, error) {
	var out []core.RecurrenceRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (*core.Transaction, error) {
	var (
		tx        core.Transaction
		typ, date string
		ruleID    sql.NullString
		createdAt string
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.AccountID, &typ, &tx.Amount.Cents,
		&tx.Description, &tx.Category, &date, &tx.Notes, &ruleID, &createdAt)
	if err != nil {
		return nil, err
	}

	tx.Type = core.TransactionType(typ)
	tx.RecurringRuleID = nullString(ruleID)
	if tx.Date, err = parseDate(date); err != nil {
		return nil, err
	}
	if tx.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &tx, nil
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return core.Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return core.Date{Time: t}, nil
}

func parseNullDate(s sql.NullString) (*core.Date, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := parseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullableDate(d *core.Date) *string {
	if d == nil {
		return nil
	}
	s := d.Format(dateLayout)
	return &s
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
