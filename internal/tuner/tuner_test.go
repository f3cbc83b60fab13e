package tuner

import (
	"context"
	"errors"
	"testing"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	tp = domain.LabelTruePositive
	fp = domain.LabelFalsePositive
	nr = domain.LabelNeedsReview
)

func TestAdjustment(t *testing.T) {
	tests := []struct {
		name   string
		labels []domain.FeedbackLabel
		want   int
		ok     bool
	}{
		{"too few", []domain.FeedbackLabel{fp, fp}, 0, false},
		{"three false positives", []domain.FeedbackLabel{fp, fp, fp}, 5, true},
		{"fp more than double tp", []domain.FeedbackLabel{fp, fp, fp, tp}, 5, true},
		{"fp exactly double tp", []domain.FeedbackLabel{fp, fp, tp}, 0, true},
		{"tp dominant", []domain.FeedbackLabel{tp, tp, tp, fp}, -5, true},
		{"needs review only", []domain.FeedbackLabel{nr, nr, nr}, 0, true},
		{"window caps at ten newest", []domain.FeedbackLabel{tp, tp, tp, tp, tp, tp, tp, tp, tp, tp, fp, fp, fp, fp, fp, fp, fp, fp, fp, fp, fp, fp}, -5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Adjustment(tt.labels, DefaultWindow, DefaultMinFeedback)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeStore struct {
	labels     map[string][]domain.FeedbackLabel
	thresholds map[string]domain.AdaptiveThreshold
	limits     []int
	upsertErr  error
}

func (f *fakeStore) AlertTypes(context.Context) ([]string, error) {
	var out []string
	for k := range f.labels {
		out = append(out, k)
	}
	return out, nil
}

func (f *fakeStore) RecentFeedbackLabels(_ context.Context, alertType string, limit int) ([]domain.FeedbackLabel, error) {
	f.limits = append(f.limits, limit)
	return f.labels[alertType], nil
}

func (f *fakeStore) UpsertAdaptiveThreshold(_ context.Context, th *domain.AdaptiveThreshold) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.thresholds[th.AlertType] = *th
	return nil
}

func TestTuner_Recompute(t *testing.T) {
	store := &fakeStore{
		labels: map[string][]domain.FeedbackLabel{
			"Rapid Movement": {fp, fp, fp},
			"Layering":       {tp},
		},
		thresholds: map[string]domain.AdaptiveThreshold{},
	}
	tn := New(store, zap.NewNop())

	th, err := tn.Recompute(context.Background(), "Rapid Movement")
	require.NoError(t, err)
	require.NotNil(t, th)
	assert.Equal(t, 5, th.ThresholdAdjustment)
	assert.Equal(t, 5, store.thresholds["Rapid Movement"].ThresholdAdjustment)
	assert.Equal(t, []int{DefaultWindow}, store.limits)

	th, err = tn.Recompute(context.Background(), "Layering")
	require.NoError(t, err)
	assert.Nil(t, th)
	_, stored := store.thresholds["Layering"]
	assert.False(t, stored)
}

func TestTuner_RecomputeAll(t *testing.T) {
	store := &fakeStore{
		labels: map[string][]domain.FeedbackLabel{
			"Rapid Movement": {fp, fp, fp},
			"Velocity Spike": {tp, tp, tp},
			"Layering":       {tp},
		},
		thresholds: map[string]domain.AdaptiveThreshold{},
	}

	out, err := New(store, zap.NewNop()).RecomputeAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, out, 2)
	assert.Equal(t, 5, store.thresholds["Rapid Movement"].ThresholdAdjustment)
	assert.Equal(t, -5, store.thresholds["Velocity Spike"].ThresholdAdjustment)
}

func TestTuner_UpsertError(t *testing.T) {
	store := &fakeStore{
		labels:     map[string][]domain.FeedbackLabel{"X": {fp, fp, fp}},
		thresholds: map[string]domain.AdaptiveThreshold{},
		upsertErr:  errors.New("db down"),
	}

	_, err := New(store, zap.NewNop()).Recompute(context.Background(), "X")
	assert.Error(t, err)
}
