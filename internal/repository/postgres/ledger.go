package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const auditColumns = `
	id, case_id, sequence, analyst, action, details, before_value, after_value,
	"timestamp", prev_hash, hash, signature, key_version
`

// AppendAuditEntry inserts a sealed entry. This is an APPEND-ONLY operation;
// the schema rejects any later UPDATE or DELETE.
func (r *repo) AppendAuditEntry(ctx context.Context, e *domain.AuditEntry) error {
	const query = `
		INSERT INTO audit_log (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	details := []byte(e.Details)
	if len(details) == 0 {
		details = []byte("null")
	}
	_, err := r.q.Exec(ctx, query,
		e.ID, e.CaseID, e.Sequence, e.Analyst, e.Action, details, e.BeforeValue, e.AfterValue,
		e.Timestamp, e.PrevHash, e.Hash, e.Signature, e.KeyVersion,
	)
	if err != nil {
		return mapError(err, "insert audit entry")
	}
	return nil
}

// LastAuditEntry returns the head of the case chain, nil when it is empty
func (r *repo) LastAuditEntry(ctx context.Context, caseID uuid.UUID) (*domain.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE case_id = $1 ORDER BY sequence DESC LIMIT 1`
	e, err := scanAuditEntry(r.q.QueryRow(ctx, query, caseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err, "load audit head")
	}
	return e, nil
}

func (r *repo) ListAuditEntries(ctx context.Context, caseID uuid.UUID) ([]domain.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE case_id = $1 ORDER BY sequence`
	rows, err := r.q.Query(ctx, query, caseID)
	if err != nil {
		return nil, mapError(err, "query audit entries")
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// RecentAuditEntries returns the newest entries across all cases
func (r *repo) RecentAuditEntries(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log ORDER BY "timestamp" DESC, sequence DESC LIMIT $1`
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, mapError(err, "query recent audit entries")
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanAuditEntry(row pgx.Row) (*domain.AuditEntry, error) {
	var (
		e       domain.AuditEntry
		details []byte
	)
	err := row.Scan(
		&e.ID, &e.CaseID, &e.Sequence, &e.Analyst, &e.Action, &details, &e.BeforeValue, &e.AfterValue,
		&e.Timestamp, &e.PrevHash, &e.Hash, &e.Signature, &e.KeyVersion,
	)
	if err != nil {
		return nil, err
	}
	e.Details = json.RawMessage(details)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

func (r *repo) CreateSubmission(ctx context.Context, sub *domain.Submission) error {
	payload, err := json.Marshal(sub.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal submission payload: %w", err)
	}
	const query = `
		INSERT INTO submissions (case_id, submission_id, checksum, sar_payload, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.q.Exec(ctx, query, sub.CaseID, sub.SubmissionID, sub.Checksum, payload, sub.SubmittedAt); err != nil {
		return mapError(err, "insert submission")
	}
	return nil
}

func (r *repo) GetSubmission(ctx context.Context, caseID uuid.UUID) (*domain.Submission, error) {
	const query = `
		SELECT case_id, submission_id, checksum, sar_payload, submitted_at
		FROM submissions WHERE case_id = $1
		ORDER BY submitted_at DESC LIMIT 1
	`
	var (
		sub     domain.Submission
		payload []byte
	)
	err := r.q.QueryRow(ctx, query, caseID).Scan(&sub.CaseID, &sub.SubmissionID, &sub.Checksum, &payload, &sub.SubmittedAt)
	if err != nil {
		return nil, notFound(err, "submission for case", caseID.String())
	}
	if err := json.Unmarshal(payload, &sub.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode submission %s: %w", sub.SubmissionID, err)
	}
	sub.SubmittedAt = sub.SubmittedAt.UTC()
	return &sub, nil
}

// AmendAuditEntry attempts an in-place update. The append-only trigger turns
// it into an immutability violation.
func (s *Store) AmendAuditEntry(ctx context.Context, e *domain.AuditEntry) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audit_log SET analyst = $2, details = $3 WHERE id = $1`,
		e.ID, e.Analyst, []byte(e.Details),
	)
	if err != nil {
		return mapError(err, "update audit entry")
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("audit entry", e.ID.String())
	}
	return nil
}

// RemoveAuditEntry attempts a delete, rejected by the schema
func (s *Store) RemoveAuditEntry(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "delete audit entry")
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("audit entry", id.String())
	}
	return nil
}

// AmendSubmission attempts an in-place update, rejected by the schema
func (s *Store) AmendSubmission(ctx context.Context, sub *domain.Submission) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET checksum = $2 WHERE submission_id = $1`,
		sub.SubmissionID, sub.Checksum,
	)
	if err != nil {
		return mapError(err, "update submission")
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("submission", sub.SubmissionID)
	}
	return nil
}

// RemoveSubmission attempts a delete, rejected by the schema
func (s *Store) RemoveSubmission(ctx context.Context, submissionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM submissions WHERE submission_id = $1`, submissionID)
	if err != nil {
		return mapError(err, "delete submission")
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("submission", submissionID)
	}
	return nil
}
