// Package tuner derives the per-alert-type threshold adjustment from recent
// analyst feedback.
package tuner

import (
	"context"
	"fmt"
	"time"

	"github.com/banking/sar-governance/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultWindow      = 10
	DefaultMinFeedback = 3
	Step               = 5
)

// Adjustment computes the bias from labels ordered newest first. ok is false
// when there are fewer than minFeedback labels in the window.
func Adjustment(labels []domain.FeedbackLabel, window, minFeedback int) (adjustment int, ok bool) {
	if len(labels) > window {
		labels = labels[:window]
	}
	if len(labels) < minFeedback {
		return 0, false
	}
	var fp, tp int
	for _, l := range labels {
		switch l {
		case domain.LabelFalsePositive:
			fp++
		case domain.LabelTruePositive:
			tp++
		}
	}
	switch {
	case fp > 2*tp:
		return Step, true
	case tp > 2*fp:
		return -Step, true
	}
	return 0, true
}

// Store is the persistence the tuner reads feedback from and upserts into
type Store interface {
	AlertTypes(ctx context.Context) ([]string, error)
	RecentFeedbackLabels(ctx context.Context, alertType string, limit int) ([]domain.FeedbackLabel, error)
	UpsertAdaptiveThreshold(ctx context.Context, t *domain.AdaptiveThreshold) error
}

// Tuner recomputes and stores adaptive thresholds
type Tuner struct {
	store       Store
	logger      *zap.Logger
	Window      int
	MinFeedback int
	Now         func() time.Time
}

// New creates a tuner with the default window
func New(store Store, logger *zap.Logger) *Tuner {
	return &Tuner{
		store:       store,
		logger:      logger,
		Window:      DefaultWindow,
		MinFeedback: DefaultMinFeedback,
		Now:         time.Now,
	}
}

// Recompute refreshes the threshold of one alert type. It returns nil when
// the alert type does not yet have enough feedback.
func (t *Tuner) Recompute(ctx context.Context, alertType string) (*domain.AdaptiveThreshold, error) {
	labels, err := t.store.RecentFeedbackLabels(ctx, alertType, t.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback for %q: %w", alertType, err)
	}
	adj, ok := Adjustment(labels, t.Window, t.MinFeedback)
	if !ok {
		return nil, nil
	}
	th := &domain.AdaptiveThreshold{
		AlertType:           alertType,
		ThresholdAdjustment: adj,
		UpdatedAt:           t.Now().UTC().Truncate(time.Microsecond),
	}
	if err := t.store.UpsertAdaptiveThreshold(ctx, th); err != nil {
		return nil, fmt.Errorf("failed to upsert threshold for %q: %w", alertType, err)
	}
	t.logger.Debug("Adaptive threshold recomputed",
		zap.String("alert_type", alertType),
		zap.Int("threshold_adjustment", adj),
		zap.Int("feedback_count", len(labels)),
	)
	return th, nil
}

// RecomputeAll refreshes every alert type that has enough feedback
func (t *Tuner) RecomputeAll(ctx context.Context) ([]domain.AdaptiveThreshold, error) {
	types, err := t.store.AlertTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert types: %w", err)
	}
	var out []domain.AdaptiveThreshold
	for _, at := range types {
		th, err := t.Recompute(ctx, at)
		if err != nil {
			return out, err
		}
		if th != nil {
			out = append(out, *th)
		}
	}
	return out, nil
}
