package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const alertColumns = `id, customer_id, alert_type, risk_score, status, created_at, assigned_to`

func (r *repo) CreateAlert(ctx context.Context, a *domain.Alert) error {
	const query = `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.Exec(ctx, query,
		a.ID, a.CustomerID, a.AlertType, a.RiskScore, a.Status, a.CreatedAt, a.AssignedTo,
	)
	if err != nil {
		return mapError(err, "insert alert")
	}
	return nil
}

func (r *repo) GetAlert(ctx context.Context, id uuid.UUID) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlert(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "alert", id.String())
	}
	return a, nil
}

func (r *repo) ListAlerts(ctx context.Context, status domain.AlertStatus) ([]domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY risk_score DESC, created_at ASC`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "query alerts")
	}
	defer rows.Close()

	alerts := []domain.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (r *repo) UpdateAlertStatus(ctx context.Context, id uuid.UUID, status domain.AlertStatus) error {
	tag, err := r.q.Exec(ctx, `UPDATE alerts SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return mapError(err, "update alert status")
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("alert", id.String())
	}
	return nil
}

func (r *repo) AlertTypes(ctx context.Context) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT DISTINCT alert_type FROM alerts ORDER BY alert_type`)
	if err != nil {
		return nil, mapError(err, "query alert types")
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var a domain.Alert
	if err := row.Scan(&a.ID, &a.CustomerID, &a.AlertType, &a.RiskScore, &a.Status, &a.CreatedAt, &a.AssignedTo); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

const caseColumns = `id, alert_id, enriched_data, sar_draft, compliance_score, status, typology, typology_confirmed, created_at, updated_at`

func (r *repo) CreateCase(ctx context.Context, c *domain.Case) error {
	enriched, err := json.Marshal(c.EnrichedData)
	if err != nil {
		return fmt.Errorf("failed to marshal enriched data: %w", err)
	}
	const query = `
		INSERT INTO cases (` + caseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.q.Exec(ctx, query,
		c.ID, c.AlertID, enriched, c.SARDraft, c.ComplianceScore,
		c.Status, c.Typology, c.TypologyConfirmed, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "insert case")
	}
	return nil
}

// GetCase loads a case. Inside a transaction the row stays locked until
// commit.
func (r *repo) GetCase(ctx context.Context, id uuid.UUID) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`
	if r.lockRows {
		query += ` FOR UPDATE`
	}
	c, err := scanCase(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "case", id.String())
	}
	return c, nil
}

func (r *repo) LatestCaseForAlert(ctx context.Context, alertID uuid.UUID) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE alert_id = $1 ORDER BY created_at DESC LIMIT 1`
	c, err := scanCase(r.q.QueryRow(ctx, query, alertID))
	if err != nil {
		return nil, notFound(err, "case for alert", alertID.String())
	}
	return c, nil
}

// UpdateCase rewrites the mutable columns. The schema rejects updates of
// submitted cases.
func (r *repo) UpdateCase(ctx context.Context, c *domain.Case) error {
	const query = `
		UPDATE cases SET
			sar_draft = $2, compliance_score = $3, status = $4,
			typology = $5, typology_confirmed = $6, updated_at = $7
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query,
		c.ID, c.SARDraft, c.ComplianceScore, c.Status, c.Typology, c.TypologyConfirmed, c.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "update case")
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("case", c.ID.String())
	}
	return nil
}

func scanCase(row pgx.Row) (*domain.Case, error) {
	var (
		c        domain.Case
		enriched []byte
	)
	err := row.Scan(
		&c.ID, &c.AlertID, &enriched, &c.SARDraft, &c.ComplianceScore,
		&c.Status, &c.Typology, &c.TypologyConfirmed, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(enriched, &c.EnrichedData); err != nil {
		return nil, fmt.Errorf("failed to decode enriched data of case %s: %w", c.ID, err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (r *repo) AddEvidenceLinks(ctx context.Context, links []domain.EvidenceLink) error {
	const query = `
		INSERT INTO reason_evidence (id, case_id, reason_code, metric, evidence_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	batch := &pgx.Batch{}
	for _, l := range links {
		ids := l.EvidenceIDs
		if ids == nil {
			ids = []string{}
		}
		batch.Queue(query, l.ID, l.CaseID, l.ReasonCode, l.Metric, ids, l.CreatedAt)
	}
	br := r.q.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()
	for range links {
		if _, err := br.Exec(); err != nil {
			return mapError(err, "insert evidence link")
		}
	}
	return nil
}

func (r *repo) ListEvidenceLinks(ctx context.Context, caseID uuid.UUID) ([]domain.EvidenceLink, error) {
	const query = `
		SELECT id, case_id, reason_code, metric, evidence_ids, created_at
		FROM reason_evidence WHERE case_id = $1 ORDER BY seq
	`
	rows, err := r.q.Query(ctx, query, caseID)
	if err != nil {
		return nil, mapError(err, "query evidence links")
	}
	defer rows.Close()

	links := []domain.EvidenceLink{}
	for rows.Next() {
		var l domain.EvidenceLink
		if err := rows.Scan(&l.ID, &l.CaseID, &l.ReasonCode, &l.Metric, &l.EvidenceIDs, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence link: %w", err)
		}
		l.CreatedAt = l.CreatedAt.UTC()
		links = append(links, l)
	}
	return links, rows.Err()
}
