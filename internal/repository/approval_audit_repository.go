package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
)

// ApprovalAuditRepository appends and reads immutable approval audit log entries.
type ApprovalAuditRepository struct {
	db querier
}

// NewApprovalAuditRepository creates a new ApprovalAuditRepository.
func NewApprovalAuditRepository(db querier) *ApprovalAuditRepository {
	return &ApprovalAuditRepository{db: db}
}

// Append inserts one audit entry. This is the only mutation the log exposes.
func (r *ApprovalAuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	metadataJSON, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_audit_log
		    (request_id, step_id, action, performed_by,
		     status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7)
		RETURNING id, performed_at
	`

	err = r.db.QueryRow(ctx, query,
		entry.RequestID,
		entry.StepID,
		entry.Action,
		entry.PerformedBy,
		statusArg(entry.StatusBefore),
		statusArg(entry.StatusAfter),
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// GetByRequestID returns the full audit trail for a request ordered oldest-first.
func (r *ApprovalAuditRepository) GetByRequestID(ctx context.Context, requestID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, request_id, step_id, action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM approval_audit_log
		WHERE request_id = $1
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ApprovalAuditRepository) scanRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate audit log")
	}
	return entries, nil
}

func scanAuditEntry(sc rowScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var before, after *string
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.RequestID,
		&entry.StepID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&before,
		&after,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}
	entry.StatusBefore = statusFromArg(before)
	entry.StatusAfter = statusFromArg(after)

	if err := unmarshalMetadata(metadataJSON, &entry.Metadata); err != nil {
		return nil, err
	}
	return entry, nil
}

func marshalMetadata(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
	}
	return data, nil
}

func unmarshalMetadata(data []byte, m *map[string]interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
	}
	return nil
}

func statusArg(s *RequestStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func statusFromArg(s *string) *RequestStatus {
	if s == nil {
		return nil
	}
	v := RequestStatus(*s)
	return &v
}
