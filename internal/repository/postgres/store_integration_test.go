package postgres

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/banking/sar-governance/internal/config"
	"github.com/banking/sar-governance/internal/crypto"
	"github.com/banking/sar-governance/internal/domain"
	"github.com/banking/sar-governance/internal/ledger"
	"github.com/banking/sar-governance/internal/repository"
	"github.com/banking/sar-governance/internal/submission"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// openTestStore connects to SAR_TEST_DATABASE_URL and applies migrations
func openTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("SAR_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SAR_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, config.DatabaseConfig{URL: url, MaxOpenConns: 8, MaxIdleConns: 1})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool, zap.NewNop()))
	return NewStore(pool)
}

func testKeyring(t *testing.T) *crypto.Keyring {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("k"), 32))
	keys, err := crypto.NewKeyring([]string{key}, 1, base64.StdEncoding.EncodeToString([]byte("secret")))
	require.NoError(t, err)
	return keys
}

func seedDraftCase(t *testing.T, s *Store) (*domain.Alert, *domain.Case) {
	t.Helper()
	ctx := context.Background()
	customerID := "CUST-" + uuid.NewString()[:8]
	start := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Microsecond)
	history := []domain.Transaction{
		{ID: customerID + "-1", Type: domain.TransactionDeposit, Amount: decimal.RequireFromString("10000.50"), Timestamp: start, IP: "10.0.0.1",
			DeviceFingerprint: "DEV-A8F2", Device: "iPhone 14", Location: "New York, NY"},
		{ID: customerID + "-2", Type: domain.TransactionTrade, Amount: decimal.NewFromInt(2500), Timestamp: start.Add(time.Minute)},
		{ID: customerID + "-3", Type: domain.TransactionWithdrawal, Amount: decimal.NewFromInt(9600), Timestamp: start.Add(time.Hour)},
	}
	require.NoError(t, s.UpsertCustomer(ctx, domain.CustomerProfile{
		CustomerID: customerID, Name: "Jane Roe", AccountNumber: "ACC-1-2",
	}, history))

	alert := domain.NewAlert(customerID, "Rapid Movement", 80)
	alert.CreatedAt = alert.CreatedAt.Truncate(time.Microsecond)
	require.NoError(t, s.CreateAlert(ctx, alert))

	now := time.Now().UTC().Truncate(time.Microsecond)
	c := &domain.Case{
		ID:       uuid.New(),
		AlertID:  alert.ID,
		SARDraft: "RAPID_MOVEMENT draft",
		Status:   domain.CaseStatusDraft,
		Typology: domain.TypologyRapidMovement,
		EnrichedData: domain.EnrichedData{
			SchemaVersion: domain.SchemaVersion,
			Customer:      domain.CustomerProfile{CustomerID: customerID},
			Transactions:  history,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateCase(ctx, c))
	return alert, c
}

func TestStore_CustomerRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alert, _ := seedDraftCase(t, s)

	p, err := s.GetProfile(ctx, alert.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", p.Name)

	history, err := s.GetHistory(ctx, alert.CustomerID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, decimal.RequireFromString("10000.50").Equal(history[0].Amount))
	assert.Equal(t, domain.TransactionWithdrawal, history[2].Type)
	assert.Equal(t, "DEV-A8F2", history[0].DeviceFingerprint)
	assert.Equal(t, "New York, NY", history[0].Location)
	assert.Empty(t, history[1].Device)

	corrected := history[2]
	corrected.Amount = decimal.NewFromInt(9700)
	require.NoError(t, s.UpsertCustomer(ctx, *p, []domain.Transaction{corrected}))
	history, err = s.GetHistory(ctx, alert.CustomerID)
	require.NoError(t, err)
	require.Len(t, history, 3, "transactions are upserted by id")
	assert.True(t, decimal.NewFromInt(9700).Equal(history[2].Amount))

	_, err = s.GetProfile(ctx, "CUST-missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alert, c := seedDraftCase(t, s)
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.GetCase(ctx, c.ID)
		require.NoError(t, err)
		locked.SARDraft = "edited"
		require.NoError(t, tx.UpdateCase(ctx, locked))
		require.NoError(t, tx.UpdateAlertStatus(ctx, alert.ID, domain.AlertStatusClosed))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "RAPID_MOVEMENT draft", got.SARDraft)
	a, err := s.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusOpen, a.Status)
}

func TestStore_AuditLogIsAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, c := seedDraftCase(t, s)
	l := ledger.New(testKeyring(t))

	for _, action := range []domain.AuditAction{domain.AuditCaseCreated, domain.AuditTypologyConfirmed} {
		entry, err := domain.NewAuditEntry(c.ID, "analyst", action, map[string]any{"b": 2, "a": "x"})
		require.NoError(t, err)
		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			return l.Append(ctx, tx, entry)
		}))
	}

	entries, err := s.ListAuditEntries(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NoError(t, l.Verify(entries), "chain survives the jsonb round trip")

	recent, err := s.RecentAuditEntries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, entries[1].ID, recent[0].ID)
	assert.Equal(t, entries[0].ID, recent[1].ID)

	tampered := entries[0]
	tampered.Analyst = "intruder"
	assert.ErrorIs(t, s.AmendAuditEntry(ctx, &tampered), domain.ErrImmutabilityViolation)
	assert.ErrorIs(t, s.RemoveAuditEntry(ctx, entries[1].ID), domain.ErrImmutabilityViolation)

	dup := entries[1]
	dup.ID = uuid.New()
	assert.True(t, domain.IsIntegrity(s.AppendAuditEntry(ctx, &dup)))
}

func TestStore_SubmissionsAreSealed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, c := seedDraftCase(t, s)

	sub, err := submission.NewSealer(submission.DefaultPrefix).Seal(c, 100, "analyst")
	require.NoError(t, err)
	sub.SubmittedAt = sub.SubmittedAt.Truncate(time.Microsecond)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateSubmission(ctx, sub); err != nil {
			return err
		}
		c.Status = domain.CaseStatusSubmitted
		return tx.UpdateCase(ctx, c)
	}))

	got, err := s.GetSubmission(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Checksum, got.Checksum)
	sum, err := submission.Checksum(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, sub.Checksum, sum, "checksum recomputes from the stored payload")

	assert.ErrorIs(t, s.AmendSubmission(ctx, sub), domain.ErrImmutabilityViolation)
	assert.ErrorIs(t, s.RemoveSubmission(ctx, sub.SubmissionID), domain.ErrImmutabilityViolation)

	c.SARDraft = "rewritten"
	assert.ErrorIs(t, s.UpdateCase(ctx, c), domain.ErrImmutabilityViolation)
	err = s.AddEvidenceLinks(ctx, []domain.EvidenceLink{{
		ID: uuid.New(), CaseID: c.ID, ReasonCode: domain.TypologyRapidMovement, EvidenceIDs: []string{"x"}, CreatedAt: time.Now(),
	}})
	assert.ErrorIs(t, err, domain.ErrImmutabilityViolation)

	dup := *sub
	dup.SubmissionID = submission.NewID(submission.DefaultPrefix)
	err = s.CreateSubmission(ctx, &dup)
	var ie *domain.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "checksum", ie.Constraint)
}

func TestStore_FeedbackAndThresholds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alert, c := seedDraftCase(t, s)
	alertType := "Rapid Movement " + uuid.NewString()[:8]
	_, err := s.pool.Exec(ctx, `UPDATE alerts SET alert_type = $2 WHERE id = $1`, alert.ID, alertType)
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Microsecond)
	labels := []domain.FeedbackLabel{domain.LabelTruePositive, domain.LabelFalsePositive, domain.LabelFalsePositive}
	for i, label := range labels {
		require.NoError(t, s.AddFeedback(ctx, &domain.Feedback{
			ID: uuid.New(), CaseID: c.ID, AlertID: alert.ID, Analyst: "a",
			Label: label, Rationale: "why", CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := s.RecentFeedbackLabels(ctx, alertType, 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.FeedbackLabel{domain.LabelFalsePositive, domain.LabelFalsePositive}, got)
	n, err := s.CountFeedback(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = s.GetAdaptiveThreshold(ctx, alertType)
	assert.True(t, domain.IsNotFound(err))
	require.NoError(t, s.UpsertAdaptiveThreshold(ctx, &domain.AdaptiveThreshold{AlertType: alertType, ThresholdAdjustment: 5, UpdatedAt: base}))
	require.NoError(t, s.UpsertAdaptiveThreshold(ctx, &domain.AdaptiveThreshold{AlertType: alertType, ThresholdAdjustment: -5, UpdatedAt: base}))
	th, err := s.GetAdaptiveThreshold(ctx, alertType)
	require.NoError(t, err)
	assert.Equal(t, -5, th.ThresholdAdjustment)
}
