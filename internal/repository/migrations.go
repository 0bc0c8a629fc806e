package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// PostgresMigrations is the ordered Postgres schema history.
var PostgresMigrations = []Migration{
	{
		Version:     1,
		Description: "Approval rules, spend requests and approval steps",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS approval_rules (
				id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				seq           BIGSERIAL NOT NULL UNIQUE,
				category      TEXT,
				expense_type  TEXT CHECK (expense_type IN ('OPEX', 'CAPEX')),
				min_amount    NUMERIC(18, 2) NOT NULL CHECK (min_amount >= 0),
				required_role TEXT NOT NULL,
				is_active     BOOLEAN NOT NULL DEFAULT TRUE,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_approval_rules_active ON approval_rules (is_active, min_amount, seq)`,
			`CREATE TABLE IF NOT EXISTS spend_requests (
				id                   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				title                TEXT NOT NULL,
				amount               NUMERIC(18, 2) NOT NULL CHECK (amount > 0),
				currency             CHAR(3) NOT NULL,
				category             TEXT NOT NULL,
				expense_type         TEXT NOT NULL CHECK (expense_type IN ('OPEX', 'CAPEX')),
				supplier             TEXT NOT NULL DEFAULT '',
				justification        TEXT NOT NULL DEFAULT '',
				detailed_description TEXT NOT NULL DEFAULT '',
				is_budgeted          BOOLEAN NOT NULL DEFAULT FALSE,
				status               TEXT NOT NULL,
				submitted_by         TEXT NOT NULL,
				completed_at         TIMESTAMPTZ,
				created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_spend_requests_status ON spend_requests (status, created_at)`,
			`CREATE TABLE IF NOT EXISTS approval_steps (
				id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				request_id        UUID NOT NULL REFERENCES spend_requests (id) ON DELETE CASCADE,
				role_name         TEXT NOT NULL,
				step_order        INTEGER NOT NULL CHECK (step_order > 0),
				status            TEXT NOT NULL CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
				source            TEXT NOT NULL,
				rule_id           UUID,
				rule_min_amount   NUMERIC(18, 2),
				decision_date     TIMESTAMPTZ,
				approver_identity TEXT,
				decision_notes    TEXT,
				created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (request_id, step_order)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_approval_steps_pending ON approval_steps (request_id, status, step_order)`,
		},
	},
	{
		Version:     2,
		Description: "Approval audit log",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS approval_audit_log (
				id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				request_id    UUID NOT NULL REFERENCES spend_requests (id) ON DELETE CASCADE,
				step_id       UUID,
				action        TEXT NOT NULL,
				performed_by  TEXT NOT NULL,
				performed_at  TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
				status_before TEXT,
				status_after  TEXT,
				metadata      JSONB
			)`,
			`CREATE INDEX IF NOT EXISTS idx_approval_audit_request ON approval_audit_log (request_id, performed_at)`,
		},
	},
	{
		Version:     3,
		Description: "In-app notifications",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS notifications (
				id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				recipient  TEXT NOT NULL,
				title      TEXT NOT NULL,
				message    TEXT NOT NULL,
				kind       TEXT NOT NULL CHECK (kind IN ('INFO', 'SUCCESS', 'WARNING', 'ACTION')),
				is_read    BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications (recipient, is_read, created_at DESC)`,
		},
	},
}

// Migrate applies every Postgres migration newer than the recorded version.
// Each migration runs in its own transaction.
func (s *PostgresStore) Migrate(ctx context.Context) (int, error) {
	if _, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range PostgresMigrations {
		if m.Version <= current {
			continue
		}
		err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
			for _, stmt := range m.Statements {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version)
			return err
		})
		if err != nil {
			return current, fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		current = m.Version
	}
	return current, nil
}
