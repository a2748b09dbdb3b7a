// Package remote is the hosted authoritative store for recurrence rules,
// a plain row store over PostgreSQL. Column names are snake_case; the
// mapping to the in-memory model is a pure renaming boundary.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyberkelysoatra/bazarkely-sub005/internal/core"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the rule table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS recurrence_rules (
			id                   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id              TEXT NOT NULL,
			account_id           TEXT NOT NULL,
			to_account_id        TEXT,
			type                 TEXT NOT NULL,
			amount_cents         BIGINT NOT NULL,
			description          TEXT NOT NULL,
			category             TEXT NOT NULL,
			frequency            TEXT NOT NULL,
			start_date           DATE NOT NULL,
			end_date             DATE,
			day_of_month         INT,
			day_of_week          INT,
			notify_days_before   INT NOT NULL DEFAULT 0,
			auto_create          BOOLEAN NOT NULL DEFAULT TRUE,
			budget_id            TEXT,
			is_active            BOOLEAN NOT NULL DEFAULT TRUE,
			last_generated_date  DATE,
			next_generation_date DATE NOT NULL,
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_remote_rules_user ON recurrence_rules(user_id)`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateRule inserts the rule and returns the server-assigned id.
func (s *PostgresStore) CreateRule(ctx context.Context, r core.RecurrenceRule) (string, error) {
	var assignedID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO recurrence_rules (user_id, account_id, to_account_id, type,
			amount_cents, description, category, frequency, start_date, end_date,
			day_of_month, day_of_week, notify_days_before, auto_create, budget_id,
			is_active, last_generated_date, next_generation_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20)
		RETURNING id`,
		r.UserID, r.AccountID, r.ToAccountID, string(r.Type), r.Amount.Cents,
		r.Description, r.Category, string(r.Frequency), r.StartDate.Time,
		dateValue(r.EndDate), r.DayOfMonth, r.DayOfWeek, r.NotifyDaysBefore,
		r.AutoCreate, r.BudgetID, r.IsActive, dateValue(r.LastGeneratedDate),
		r.NextGenerationDate.Time, r.CreatedAt, r.UpdatedAt,
	).Scan(&assignedID)
	if err != nil {
		return "", fmt.Errorf("create remote rule: %w", err)
	}
	return assignedID, nil
}

// UpsertRule writes the rule under its existing id. Used for updates and
// for deferred sync of rules created while offline, whose local id stays
// authoritative.
func (s *PostgresStore) UpsertRule(ctx context.Context, r core.RecurrenceRule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recurrence_rules (id, user_id, account_id, to_account_id, type,
			amount_cents, description, category, frequency, start_date, end_date,
			day_of_month, day_of_week, notify_days_before, auto_create, budget_id,
			is_active, last_generated_date, next_generation_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			account_id = EXCLUDED.account_id,
			to_account_id = EXCLUDED.to_account_id,
			type = EXCLUDED.type,
			amount_cents = EXCLUDED.amount_cents,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			frequency = EXCLUDED.frequency,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			day_of_month = EXCLUDED.day_of_month,
			day_of_week = EXCLUDED.day_of_week,
			notify_days_before = EXCLUDED.notify_days_before,
			auto_create = EXCLUDED.auto_create,
			budget_id = EXCLUDED.budget_id,
			is_active = EXCLUDED.is_active,
			last_generated_date = EXCLUDED.last_generated_date,
			next_generation_date = EXCLUDED.next_generation_date,
			updated_at = EXCLUDED.updated_at`,
		r.ID, r.UserID, r.AccountID, r.ToAccountID, string(r.Type), r.Amount.Cents,
		r.Description, r.Category, string(r.Frequency), r.StartDate.Time,
		dateValue(r.EndDate), r.DayOfMonth, r.DayOfWeek, r.NotifyDaysBefore,
		r.AutoCreate, r.BudgetID, r.IsActive, dateValue(r.LastGeneratedDate),
		r.NextGenerationDate.Time, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert remote rule: %w", err)
	}
	return nil
}

const remoteRuleColumns = `id, user_id, account_id, to_account_id, type,
	amount_cents, description, category, frequency, start_date, end_date,
	day_of_month, day_of_week, notify_days_before, auto_create, budget_id,
	is_active, last_generated_date, next_generation_date, created_at, updated_at`

func (s *PostgresStore) GetRule(ctx context.Context, id string) (*core.RecurrenceRule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+remoteRuleColumns+` FROM recurrence_rules WHERE id = $1`, id)
	rule, err := scanRemoteRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get remote rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresStore) ListRules(ctx context.Context, userID string) ([]core.RecurrenceRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+remoteRuleColumns+` FROM recurrence_rules
		 WHERE user_id = $1 ORDER BY next_generation_date, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list remote rules: %w", err)
	}
	defer rows.Close()

	var out []core.RecurrenceRule
	for rows.Next() {
		rule, err := scanRemoteRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan remote rule: %w", err)
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM recurrence_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete remote rule: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRemoteRule(row rowScanner) (*core.RecurrenceRule, error) {
	var (
		rule                    core.RecurrenceRule
		typ, freq               string
		startDate, nextDate     time.Time
		endDate, lastGenerated  *time.Time
		toAccount, budgetID     *string
		dayOfMonth, dayOfWeek   *int
	)
	err := row.Scan(&rule.ID, &rule.UserID, &rule.AccountID, &toAccount, &typ,
		&rule.Amount.Cents, &rule.Description, &rule.Category, &freq,
		&startDate, &endDate, &dayOfMonth, &dayOfWeek, &rule.NotifyDaysBefore,
		&rule.AutoCreate, &budgetID, &rule.IsActive, &lastGenerated,
		&nextDate, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rule.Type = core.TransactionType(typ)
	rule.Frequency = core.Frequency(freq)
	rule.ToAccountID = toAccount
	rule.BudgetID = budgetID
	rule.DayOfMonth = dayOfMonth
	rule.DayOfWeek = dayOfWeek
	rule.StartDate = core.DateOf(startDate)
	rule.NextGenerationDate = core.DateOf(nextDate)
	if endDate != nil {
		d := core.DateOf(*endDate)
		rule.EndDate = &d
	}
	if lastGenerated != nil {
		d := core.DateOf(*lastGenerated)
		rule.LastGeneratedDate = &d
	}
	return &rule, nil
}

func dateValue(d *core.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}
