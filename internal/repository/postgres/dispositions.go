package postgres

import (
	"context"
	"fmt"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (r *repo) AddFeedback(ctx context.Context, f *domain.Feedback) error {
	const query = `
		INSERT INTO analyst_feedback (
			id, case_id, alert_id, analyst, label, rationale, rationale_detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.Exec(ctx, query,
		f.ID, f.CaseID, f.AlertID, f.Analyst, f.Label, f.Rationale, f.RationaleDetail, f.CreatedAt,
	)
	if err != nil {
		return mapError(err, "insert feedback")
	}
	return nil
}

func (r *repo) ListFeedback(ctx context.Context, caseID uuid.UUID) ([]domain.Feedback, error) {
	const query = `
		SELECT id, case_id, alert_id, analyst, label, rationale, rationale_detail, created_at
		FROM analyst_feedback WHERE case_id = $1 ORDER BY seq
	`
	rows, err := r.q.Query(ctx, query, caseID)
	if err != nil {
		return nil, mapError(err, "query feedback")
	}
	defer rows.Close()

	out := []domain.Feedback{}
	for rows.Next() {
		var f domain.Feedback
		if err := rows.Scan(&f.ID, &f.CaseID, &f.AlertID, &f.Analyst, &f.Label, &f.Rationale, &f.RationaleDetail, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		f.CreatedAt = f.CreatedAt.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *repo) CountFeedback(ctx context.Context, caseID uuid.UUID) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM analyst_feedback WHERE case_id = $1`, caseID).Scan(&n); err != nil {
		return 0, mapError(err, "count feedback")
	}
	return n, nil
}

// RecentFeedbackLabels returns the newest labels recorded on alerts of the
// given type, newest first
func (r *repo) RecentFeedbackLabels(ctx context.Context, alertType string, limit int) ([]domain.FeedbackLabel, error) {
	const query = `
		SELECT f.label
		FROM analyst_feedback f
		JOIN alerts a ON a.id = f.alert_id
		WHERE a.alert_type = $1
		ORDER BY f.created_at DESC, f.seq DESC
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, alertType, limit)
	if err != nil {
		return nil, mapError(err, "query feedback labels")
	}
	return pgx.CollectRows(rows, pgx.RowTo[domain.FeedbackLabel])
}

func (r *repo) AddIntervention(ctx context.Context, i *domain.Intervention) error {
	const query = `
		INSERT INTO interventions (
			id, case_id, alert_id, action, reason, rationale, analyst, "timestamp"
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.Exec(ctx, query,
		i.ID, i.CaseID, i.AlertID, i.Action, i.Reason, i.Rationale, i.Analyst, i.Timestamp,
	)
	if err != nil {
		return mapError(err, "insert intervention")
	}
	return nil
}

func (r *repo) ListInterventions(ctx context.Context, caseID uuid.UUID) ([]domain.Intervention, error) {
	const query = `
		SELECT id, case_id, alert_id, action, reason, rationale, analyst, "timestamp"
		FROM interventions WHERE case_id = $1 ORDER BY seq
	`
	rows, err := r.q.Query(ctx, query, caseID)
	if err != nil {
		return nil, mapError(err, "query interventions")
	}
	defer rows.Close()

	out := []domain.Intervention{}
	for rows.Next() {
		var i domain.Intervention
		if err := rows.Scan(&i.ID, &i.CaseID, &i.AlertID, &i.Action, &i.Reason, &i.Rationale, &i.Analyst, &i.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan intervention: %w", err)
		}
		i.Timestamp = i.Timestamp.UTC()
		out = append(out, i)
	}
	return out, rows.Err()
}

// UpsertAdaptiveThreshold overwrites the adjustment of an alert type; the
// last writer wins
func (r *repo) UpsertAdaptiveThreshold(ctx context.Context, t *domain.AdaptiveThreshold) error {
	const query = `
		INSERT INTO adaptive_thresholds (alert_type, threshold_adjustment, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (alert_type) DO UPDATE
		SET threshold_adjustment = EXCLUDED.threshold_adjustment, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.q.Exec(ctx, query, t.AlertType, t.ThresholdAdjustment, t.UpdatedAt); err != nil {
		return mapError(err, "upsert adaptive threshold")
	}
	return nil
}

func (r *repo) GetAdaptiveThreshold(ctx context.Context, alertType string) (*domain.AdaptiveThreshold, error) {
	const query = `
		SELECT alert_type, threshold_adjustment, updated_at
		FROM adaptive_thresholds WHERE alert_type = $1
	`
	var t domain.AdaptiveThreshold
	if err := r.q.QueryRow(ctx, query, alertType).Scan(&t.AlertType, &t.ThresholdAdjustment, &t.UpdatedAt); err != nil {
		return nil, notFound(err, "adaptive threshold", alertType)
	}
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
