package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/banking/sar-governance/internal/compliance"
	"github.com/banking/sar-governance/internal/domain"
	"github.com/banking/sar-governance/internal/governance"
	"github.com/banking/sar-governance/internal/scoring"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradingSummary aggregates the case snapshot history
type TradingSummary struct {
	TotalTransactions int             `json:"total_transactions"`
	TotalVolume       decimal.Decimal `json:"total_volume"`
	DepositCount      int             `json:"deposit_count"`
	TradeCount        int             `json:"trade_count"`
	WithdrawalCount   int             `json:"withdrawal_count"`
}

// NetworkLinks lists identifiers shared across the history
type NetworkLinks struct {
	SharedIPs          []string `json:"shared_ips"`
	DeviceFingerprints []string `json:"device_fingerprints"`
	LinkedIdentifiers  []string `json:"linked_identifiers"`
}

// DeviceLog is the session seen on one transaction
type DeviceLog struct {
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
	Device        string    `json:"device,omitempty"`
	Fingerprint   string    `json:"device_fingerprint,omitempty"`
	IP            string    `json:"ip,omitempty"`
	Location      string    `json:"location,omitempty"`
}

// EvidencePack is the investigator view of the case snapshot
type EvidencePack struct {
	Timeline       []domain.Transaction   `json:"transaction_timeline"`
	TradingSummary TradingSummary         `json:"trading_summary"`
	NetworkLinks   NetworkLinks           `json:"network_links"`
	KYCSnapshot    domain.CustomerProfile `json:"kyc_snapshot"`
	DeviceLogs     []DeviceLog            `json:"device_logs"`
}

// CaseDetail is the full read view of a case. Compliance and the governance
// checklist are recomputed on every read.
type CaseDetail struct {
	compliance.Result

	Case              *domain.Case               `json:"case"`
	Alert             *domain.Alert              `json:"alert"`
	RiskAnalysis      domain.RiskAnalysis        `json:"risk_analysis"`
	AuditLogs         []domain.AuditEntry        `json:"audit_logs"`
	Interventions     []domain.Intervention      `json:"interventions"`
	Feedback          []domain.Feedback          `json:"feedback"`
	ReasonEvidence    []domain.EvidenceLink      `json:"reason_evidence"`
	EvidencePack      EvidencePack               `json:"evidence_pack"`
	AdaptiveThreshold int                        `json:"adaptive_threshold"`
	GovernanceChecks  governance.Checklist       `json:"governance_checks"`
	CanSubmit         bool                       `json:"can_submit"`
	Submission        *domain.Submission         `json:"submission,omitempty"`
	Typologies        map[domain.Typology]string `json:"typologies"`
}

func (s *CaseService) GetCaseDetail(ctx context.Context, caseID uuid.UUID) (*CaseDetail, error) {
	defer s.metrics.ObserveOperation("get_case_detail", time.Now())
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	alert, err := s.store.GetAlert(ctx, c.AlertID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListAuditEntries(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	interventions, err := s.store.ListInterventions(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load interventions: %w", err)
	}
	feedback, err := s.store.ListFeedback(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}
	links, err := s.store.ListEvidenceLinks(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load evidence: %w", err)
	}
	adjustment, err := s.AdaptiveThreshold(ctx, alert.AlertType)
	if err != nil {
		return nil, err
	}

	risk := c.EnrichedData.Risk
	check := compliance.Check(c.SARDraft, c.EnrichedData, risk)
	checklist := governance.Evaluate(governance.Input{
		Case:            c,
		Evidence:        links,
		FeedbackCount:   len(feedback),
		ComplianceScore: check.Score,
	})

	detail := &CaseDetail{
		Case:              c,
		Alert:             alert,
		RiskAnalysis:      risk,
		AuditLogs:         newestFirst(entries),
		Interventions:     interventions,
		Feedback:          feedback,
		ReasonEvidence:    links,
		EvidencePack:      buildEvidencePack(c),
		AdaptiveThreshold: adjustment,
		Result:            check,
		GovernanceChecks:  checklist,
		CanSubmit:         checklist.Passed(),
		Typologies:        domain.Typologies,
	}
	if c.Sealed() {
		sub, err := s.store.GetSubmission(ctx, caseID)
		if err != nil && !domain.IsNotFound(err) {
			return nil, err
		}
		detail.Submission = sub
	}
	return detail, nil
}

func buildEvidencePack(c *domain.Case) EvidencePack {
	history := c.EnrichedData.Transactions
	summary := TradingSummary{TotalTransactions: len(history), TotalVolume: decimal.Zero}
	for _, t := range history {
		summary.TotalVolume = summary.TotalVolume.Add(t.Amount)
		switch t.Type {
		case domain.TransactionDeposit:
			summary.DepositCount++
		case domain.TransactionTrade:
			summary.TradeCount++
		case domain.TransactionWithdrawal:
			summary.WithdrawalCount++
		}
	}
	links := NetworkLinks{
		SharedIPs:          scoring.DistinctIPs(history),
		DeviceFingerprints: distinctFingerprints(history),
		LinkedIdentifiers:  []string{},
	}
	if ev, ok := c.EnrichedData.Risk.Evidence[domain.TypologyNetworkLink]; ok {
		links.LinkedIdentifiers = append(links.LinkedIdentifiers, ev.IDs...)
	}
	return EvidencePack{
		Timeline:       history,
		TradingSummary: summary,
		NetworkLinks:   links,
		KYCSnapshot:    c.EnrichedData.Customer,
		DeviceLogs:     deviceLogs(history),
	}
}

// deviceLogs reports the sessions that opened and closed the history
func deviceLogs(history []domain.Transaction) []DeviceLog {
	logs := []DeviceLog{}
	if len(history) == 0 {
		return logs
	}
	ends := []domain.Transaction{history[0]}
	if len(history) > 1 {
		ends = append(ends, history[len(history)-1])
	}
	for _, t := range ends {
		logs = append(logs, DeviceLog{
			TransactionID: t.ID,
			Timestamp:     t.Timestamp,
			Device:        t.Device,
			Fingerprint:   t.DeviceFingerprint,
			IP:            t.IP,
			Location:      t.Location,
		})
	}
	return logs
}

func distinctFingerprints(history []domain.Transaction) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, t := range history {
		if t.DeviceFingerprint == "" {
			continue
		}
		if _, ok := seen[t.DeviceFingerprint]; !ok {
			seen[t.DeviceFingerprint] = struct{}{}
			out = append(out, t.DeviceFingerprint)
		}
	}
	sort.Strings(out)
	return out
}

func newestFirst(entries []domain.AuditEntry) []domain.AuditEntry {
	out := make([]domain.AuditEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

// LatestCaseForAlert returns the authoritative (most recent) case of an alert
func (s *CaseService) LatestCaseForAlert(ctx context.Context, alertID uuid.UUID) (*domain.Case, error) {
	if _, err := s.store.GetAlert(ctx, alertID); err != nil {
		return nil, err
	}
	return s.store.LatestCaseForAlert(ctx, alertID)
}

// ListAlerts returns alerts with the given status, or all when status is empty
func (s *CaseService) ListAlerts(ctx context.Context, status domain.AlertStatus) ([]domain.Alert, error) {
	if status != "" && !status.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	return s.store.ListAlerts(ctx, status)
}

// CreateAlert registers an alert raised by monitoring
func (s *CaseService) CreateAlert(ctx context.Context, customerID, alertType string, riskScore int) (*domain.Alert, error) {
	customerID = strings.TrimSpace(customerID)
	alertType = strings.TrimSpace(alertType)
	switch {
	case customerID == "":
		return nil, domain.NewValidationError("customer_id", "customer id is required")
	case alertType == "":
		return nil, domain.NewValidationError("alert_type", "alert type is required")
	case riskScore < 0 || riskScore > scoring.MaxScore:
		return nil, domain.NewValidationError("risk_score", "risk score must be between 0 and 100")
	}

	alert := domain.NewAlert(customerID, alertType, riskScore)
	alert.CreatedAt = s.timestamp()
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	s.logger.Info("Alert created",
		zap.String("alert_id", alert.ID.String()),
		zap.String("alert_type", alertType),
		zap.Int("risk_score", riskScore),
	)
	return alert, nil
}

// AuditTrail is a case's ledger with its verification outcome
type AuditTrail struct {
	CaseID   uuid.UUID           `json:"case_id"`
	Entries  []domain.AuditEntry `json:"entries"`
	Verified bool                `json:"verified"`
	Problem  string              `json:"problem,omitempty"`
}

// AuditTrail returns the case's entries in sequence order and whether the
// chain verifies
func (s *CaseService) AuditTrail(ctx context.Context, caseID uuid.UUID) (*AuditTrail, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListAuditEntries(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	trail := &AuditTrail{CaseID: caseID, Entries: entries, Verified: true}
	if err := s.ledger.Verify(entries); err != nil {
		trail.Verified = false
		trail.Problem = err.Error()
		s.logger.Error("Audit ledger verification failed",
			zap.String("case_id", caseID.String()),
			zap.Error(err),
		)
	}
	return trail, nil
}

// VerifyLedger recomputes the case's chain and returns an immutability
// violation on the first broken link
func (s *CaseService) VerifyLedger(ctx context.Context, caseID uuid.UUID) error {
	trail, err := s.AuditTrail(ctx, caseID)
	if err != nil {
		return err
	}
	if !trail.Verified {
		return s.ledger.Verify(trail.Entries)
	}
	return nil
}

// AdaptiveThreshold returns the current advisory adjustment of an alert
// type, 0 when none was computed yet
func (s *CaseService) AdaptiveThreshold(ctx context.Context, alertType string) (int, error) {
	th, err := s.store.GetAdaptiveThreshold(ctx, alertType)
	if err != nil {
		if domain.IsNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load adaptive threshold: %w", err)
	}
	return th.ThresholdAdjustment, nil
}

// RecentAudit returns the newest audit entries across all cases
func (s *CaseService) RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	entries, err := s.store.RecentAuditEntries(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit feed: %w", err)
	}
	return entries, nil
}

// GetSubmission returns the sealed submission of a case
func (s *CaseService) GetSubmission(ctx context.Context, caseID uuid.UUID) (*domain.Submission, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.GetSubmission(ctx, caseID)
}

// ArchivedSubmission reads the archived copy of a case's submission back
// and checks it against the stored checksum
func (s *CaseService) ArchivedSubmission(ctx context.Context, caseID uuid.UUID) (*domain.Submission, error) {
	if s.archiver == nil {
		return nil, ErrArchiveDisabled
	}
	sub, err := s.GetSubmission(ctx, caseID)
	if err != nil {
		return nil, err
	}
	archived, err := s.archiver.FetchSubmission(ctx, sub.SubmissionID, sub.SubmittedAt)
	if err != nil {
		return nil, err
	}
	if archived.Checksum != sub.Checksum || archived.SubmissionID != sub.SubmissionID {
		s.logger.Error("Archived submission diverges from the stored record",
			zap.String("submission_id", sub.SubmissionID),
			zap.String("case_id", caseID.String()),
		)
		return nil, domain.ImmutabilityViolation("archived copy of submission %s does not match the stored record", sub.SubmissionID)
	}
	return archived, nil
}

// SearchAudit runs a free-text query over indexed audit entries
func (s *CaseService) SearchAudit(ctx context.Context, query string, limit int) ([]domain.AuditEntry, error) {
	if s.searcher == nil {
		return nil, ErrSearchDisabled
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewValidationError("q", "query is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.searcher.SearchAuditEntries(ctx, query, limit)
}
