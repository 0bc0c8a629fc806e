package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Approval rules, spend requests and approval steps",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS approval_rules (
					seq INTEGER PRIMARY KEY AUTOINCREMENT,
					id TEXT UNIQUE NOT NULL,
					category TEXT,
					expense_type TEXT,
					min_amount TEXT NOT NULL,
					required_role TEXT NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS spend_requests (
					id TEXT PRIMARY KEY,
					title TEXT NOT NULL,
					amount TEXT NOT NULL,
					currency TEXT NOT NULL,
					category TEXT NOT NULL,
					expense_type TEXT NOT NULL,
					supplier TEXT NOT NULL DEFAULT '',
					justification TEXT NOT NULL DEFAULT '',
					detailed_description TEXT NOT NULL DEFAULT '',
					is_budgeted BOOLEAN NOT NULL DEFAULT 0,
					status TEXT NOT NULL,
					submitted_by TEXT NOT NULL,
					completed_at DATETIME,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					created_seq INTEGER NOT NULL
				)`,
				`CREATE INDEX idx_spend_requests_status ON spend_requests(status)`,
				`CREATE TABLE IF NOT EXISTS approval_steps (
					id TEXT PRIMARY KEY,
					request_id TEXT NOT NULL,
					role_name TEXT NOT NULL,
					step_order INTEGER NOT NULL,
					status TEXT NOT NULL,
					source TEXT NOT NULL,
					rule_id TEXT,
					rule_min_amount TEXT,
					decision_date DATETIME,
					approver_identity TEXT,
					decision_notes TEXT,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					UNIQUE (request_id, step_order),
					FOREIGN KEY (request_id) REFERENCES spend_requests(id)
				)`,
				`CREATE INDEX idx_approval_steps_request ON approval_steps(request_id, status, step_order)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Approval audit log",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS approval_audit_log (
					seq INTEGER PRIMARY KEY AUTOINCREMENT,
					id TEXT UNIQUE NOT NULL,
					request_id TEXT NOT NULL,
					step_id TEXT,
					action TEXT NOT NULL,
					performed_by TEXT NOT NULL,
					performed_at DATETIME NOT NULL,
					status_before TEXT,
					status_after TEXT,
					metadata TEXT
				)`,
				`CREATE INDEX idx_approval_audit_request ON approval_audit_log(request_id)`,
			)
		},
	},
	{
		Version:     3,
		Description: "In-app notifications",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS notifications (
					seq INTEGER PRIMARY KEY AUTOINCREMENT,
					id TEXT UNIQUE NOT NULL,
					recipient TEXT NOT NULL,
					title TEXT NOT NULL,
					message TEXT NOT NULL,
					kind TEXT NOT NULL,
					is_read BOOLEAN NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_notifications_unread ON notifications(recipient, is_read)`,
			)
		},
	},
}

// Migrate applies all pending database migrations and returns the resulting
// schema version.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	var currentVersion int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return currentVersion, fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return currentVersion, fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); err != nil {
			_ = tx.Rollback()
			return currentVersion, fmt.Errorf("failed to update schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return currentVersion, fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
		currentVersion = migration.Version

		s.log.Info().
			Int("version", migration.Version).
			Str("description", migration.Description).
			Msg("Applied migration")
	}
	return currentVersion, nil
}
