// Package repository declares the persistence contracts of the governance
// engine. Audit entries and submissions have no update or delete methods:
// once appended they can only be read.
package repository

import (
	"context"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/google/uuid"
)

type AlertRepository interface {
	CreateAlert(ctx context.Context, alert *domain.Alert) error
	GetAlert(ctx context.Context, id uuid.UUID) (*domain.Alert, error)
	ListAlerts(ctx context.Context, status domain.AlertStatus) ([]domain.Alert, error)
	UpdateAlertStatus(ctx context.Context, id uuid.UUID, status domain.AlertStatus) error
	AlertTypes(ctx context.Context) ([]string, error)
}

// CaseRepository persists cases. UpdateCase fails with an immutability
// violation when the stored case is already submitted.
type CaseRepository interface {
	CreateCase(ctx context.Context, c *domain.Case) error
	GetCase(ctx context.Context, id uuid.UUID) (*domain.Case, error)
	LatestCaseForAlert(ctx context.Context, alertID uuid.UUID) (*domain.Case, error)
	UpdateCase(ctx context.Context, c *domain.Case) error
}

type EvidenceRepository interface {
	AddEvidenceLinks(ctx context.Context, links []domain.EvidenceLink) error
	ListEvidenceLinks(ctx context.Context, caseID uuid.UUID) ([]domain.EvidenceLink, error)
}

type DispositionRepository interface {
	AddFeedback(ctx context.Context, f *domain.Feedback) error
	ListFeedback(ctx context.Context, caseID uuid.UUID) ([]domain.Feedback, error)
	CountFeedback(ctx context.Context, caseID uuid.UUID) (int, error)
	// RecentFeedbackLabels returns labels for the alert type, newest first
	RecentFeedbackLabels(ctx context.Context, alertType string, limit int) ([]domain.FeedbackLabel, error)
	AddIntervention(ctx context.Context, i *domain.Intervention) error
	ListInterventions(ctx context.Context, caseID uuid.UUID) ([]domain.Intervention, error)
}

// AuditRepository is append-only
type AuditRepository interface {
	AppendAuditEntry(ctx context.Context, entry *domain.AuditEntry) error
	LastAuditEntry(ctx context.Context, caseID uuid.UUID) (*domain.AuditEntry, error)
	ListAuditEntries(ctx context.Context, caseID uuid.UUID) ([]domain.AuditEntry, error)
	// RecentAuditEntries returns the newest entries across all cases
	RecentAuditEntries(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

// SubmissionRepository is append-only. Duplicate submission ids or checksums
// fail with an IntegrityError.
type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, s *domain.Submission) error
	GetSubmission(ctx context.Context, caseID uuid.UUID) (*domain.Submission, error)
}

type ThresholdRepository interface {
	UpsertAdaptiveThreshold(ctx context.Context, t *domain.AdaptiveThreshold) error
	GetAdaptiveThreshold(ctx context.Context, alertType string) (*domain.AdaptiveThreshold, error)
}

// Tx is the full set of repositories bound to one unit of work
type Tx interface {
	AlertRepository
	CaseRepository
	EvidenceRepository
	DispositionRepository
	AuditRepository
	SubmissionRepository
	ThresholdRepository
}

// Store is the authoritative store. Reads outside WithinTx see committed
// state only; fn's writes commit together or not at all.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// CustomerProfileProvider returns the KYC profile of a customer
type CustomerProfileProvider interface {
	GetProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error)
}

// TransactionHistoryProvider returns a customer's history ordered by
// timestamp ascending
type TransactionHistoryProvider interface {
	GetHistory(ctx context.Context, customerID string) ([]domain.Transaction, error)
}

// CustomerLoader stores KYC profiles and transactions delivered by the
// upstream customer systems. Transactions are upserted by id.
type CustomerLoader interface {
	UpsertCustomer(ctx context.Context, profile domain.CustomerProfile, history []domain.Transaction) error
}
