// Package sqlite implements repository.Store on a single-file SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/logger"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements repository.Store using SQLite.
type Store struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time
}

// Open opens (creating if needed) the database at dbPath. Writers are
// serialized through a single connection and immediate transactions.
func Open(dbPath string, log *logger.Logger) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.InvalidInput("dbPath", "must not be empty")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		db:  db,
		log: log.Component("sqlite"),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to commit transaction")
	}
	return nil
}

// ── rules ────────────────────────────────────────────────────────────────────

const ruleColumns = `id, seq, category, expense_type, min_amount, required_role, is_active, created_at, updated_at`

func (s *Store) ListActiveRules(ctx context.Context) ([]*repository.ApprovalRule, error) {
	return s.ListRules(ctx, true)
}

func (s *Store) CreateRule(ctx context.Context, rule *repository.ApprovalRule) error {
	return s.insertRule(ctx, s.db, rule)
}

func (s *Store) ImportRules(ctx context.Context, rules []*repository.ApprovalRule) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, rule := range rules {
			if err := s.insertRule(ctx, tx, rule); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertRule(ctx context.Context, q dbtx, rule *repository.ApprovalRule) error {
	now := s.now()
	id := uuid.NewString()

	var expenseType *string
	if rule.ExpenseType != nil {
		v := string(*rule.ExpenseType)
		expenseType = &v
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO approval_rules (id, category, expense_type, min_amount, required_role, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rule.Category, expenseType, rule.MinAmount.String(), rule.RequiredRole, rule.IsActive, now, now,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval rule")
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval rule sequence")
	}

	rule.ID = id
	rule.Seq = seq
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

func (s *Store) ListRules(ctx context.Context, activeOnly bool) ([]*repository.ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY CAST(min_amount AS REAL) ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer func() { _ = rows.Close() }()

	var rules []*repository.ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval rules")
	}
	return rules, nil
}

func (s *Store) GetRule(ctx context.Context, id string) (*repository.ApprovalRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM approval_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("approval_rule", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval rule")
	}
	return rule, nil
}

func scanRule(row scanner) (*repository.ApprovalRule, error) {
	rule := &repository.ApprovalRule{}
	var expenseType *string
	if err := row.Scan(
		&rule.ID, &rule.Seq, &rule.Category, &expenseType, &rule.MinAmount,
		&rule.RequiredRole, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if expenseType != nil {
		t := repository.ExpenseType(*expenseType)
		rule.ExpenseType = &t
	}
	return rule, nil
}

func (s *Store) DeactivateRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_rules SET is_active = 0, updated_at = ? WHERE id = ?`, s.now(), id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate approval rule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("approval_rule", id)
	}
	return nil
}

// ── workflows ────────────────────────────────────────────────────────────────

// InTransaction runs fn in an immediate transaction; the single connection
// keeps concurrent deciders from interleaving.
func (s *Store) InTransaction(ctx context.Context, fn func(tx repository.WorkflowTx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&workflowTx{tx: tx, now: s.now})
	})
}

func (s *Store) GetRequest(ctx context.Context, id string) (*repository.SpendRequest, error) {
	req, err := getRequest(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if req.Steps, err = listSteps(ctx, s.db, id); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Store) ListRequests(ctx context.Context, filter repository.RequestFilter) ([]*repository.SpendRequest, int64, error) {
	var conds []string
	var args []any
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.SubmittedBy != nil {
		conds = append(conds, "submitted_by = ?")
		args = append(args, *filter.SubmittedBy)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spend_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count spend requests")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + requestColumns + ` FROM spend_requests` + where + ` ORDER BY created_seq DESC LIMIT ? OFFSET ?`
	reqs, err := queryRequests(ctx, s.db, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

func (s *Store) ListPendingForRole(ctx context.Context, role string) ([]*repository.SpendRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM spend_requests r
		WHERE r.status IN ('SUBMITTED', 'IN_APPROVAL')
		  AND (SELECT s.role_name FROM approval_steps s
		       WHERE s.request_id = r.id AND s.status = 'PENDING'
		       ORDER BY s.step_order ASC LIMIT 1) = ?
		ORDER BY r.created_seq ASC`

	reqs, err := queryRequests(ctx, s.db, query, role)
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		if req.Steps, err = listSteps(ctx, s.db, req.ID); err != nil {
			return nil, err
		}
	}
	return reqs, nil
}

func (s *Store) ListAudit(ctx context.Context, requestID string) ([]*repository.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, step_id, action, performed_by, performed_at, status_before, status_after, metadata
		FROM approval_audit_log WHERE request_id = ? ORDER BY seq ASC`, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer func() { _ = rows.Close() }()

	var entries []*repository.AuditEntry
	for rows.Next() {
		e := &repository.AuditEntry{}
		var before, after, metadata *string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.StepID, &e.Action, &e.PerformedBy, &e.PerformedAt,
			&before, &after, &metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		if before != nil {
			e.StatusBefore = repository.StatusPtr(repository.RequestStatus(*before))
		}
		if after != nil {
			e.StatusAfter = repository.StatusPtr(repository.RequestStatus(*after))
		}
		if metadata != nil {
			if err := json.Unmarshal([]byte(*metadata), &e.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate audit log")
	}
	return entries, nil
}

// ── notifications ────────────────────────────────────────────────────────────

func (s *Store) CreateNotification(ctx context.Context, n *repository.Notification) error {
	n.ID = uuid.NewString()
	n.IsRead = false
	n.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient, title, message, kind, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		n.ID, n.Recipient, n.Title, n.Message, string(n.Kind), n.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create notification")
	}
	return nil
}

func (s *Store) UnreadNotifications(ctx context.Context, recipient string, limit int) ([]*repository.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient, title, message, kind, is_read, created_at
		FROM notifications
		WHERE recipient = ? AND is_read = 0
		ORDER BY seq DESC
		LIMIT ?`, recipient, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get notifications")
	}
	defer func() { _ = rows.Close() }()

	var out []*repository.Notification
	for rows.Next() {
		n := &repository.Notification{}
		var kind string
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Title, &n.Message, &kind, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan notification")
		}
		n.Kind = repository.NotificationKind(kind)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate notifications")
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark notification read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("notification", id)
	}
	return nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, recipient string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE recipient = ? AND is_read = 0`, recipient)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to mark notifications read")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

var _ repository.Store = (*Store)(nil)
