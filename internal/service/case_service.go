package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/banking/sar-governance/internal/compliance"
	"github.com/banking/sar-governance/internal/crypto"
	"github.com/banking/sar-governance/internal/domain"
	"github.com/banking/sar-governance/internal/governance"
	"github.com/banking/sar-governance/internal/ledger"
	"github.com/banking/sar-governance/internal/metrics"
	"github.com/banking/sar-governance/internal/narrative"
	"github.com/banking/sar-governance/internal/repository"
	"github.com/banking/sar-governance/internal/scoring"
	"github.com/banking/sar-governance/internal/submission"
	"github.com/banking/sar-governance/internal/syncutil"
	"github.com/banking/sar-governance/internal/tuner"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dependencies wires a CaseService. Indexer, Archiver and Publisher are
// optional; a nil sink is skipped.
type Dependencies struct {
	Store     repository.Store
	Profiles  repository.CustomerProfileProvider
	Histories repository.TransactionHistoryProvider
	Analyzer  *scoring.Analyzer
	Narrator  *narrative.Generator
	Ledger    *ledger.Ledger
	Sealer    *submission.Sealer
	Tuner     *tuner.Tuner
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	Indexer   Indexer
	Searcher  Searcher
	Archiver  Archiver
	Publisher Publisher
}

// CaseService runs the case lifecycle: opening, analyst actions, the
// governance gate and sealing. Every mutation and its audit entry commit in
// one store transaction, serialized per case.
type CaseService struct {
	store     repository.Store
	profiles  repository.CustomerProfileProvider
	histories repository.TransactionHistoryProvider
	analyzer  *scoring.Analyzer
	narrator  *narrative.Generator
	ledger    *ledger.Ledger
	sealer    *submission.Sealer
	tuner     *tuner.Tuner
	metrics   *metrics.Metrics
	logger    *zap.Logger

	indexer   Indexer
	searcher  Searcher
	archiver  Archiver
	publisher Publisher

	locks   syncutil.ShardedMutex
	pending sync.WaitGroup
	now     func() time.Time
}

func NewCaseService(d Dependencies) *CaseService {
	return &CaseService{
		store:     d.Store,
		profiles:  d.Profiles,
		histories: d.Histories,
		analyzer:  d.Analyzer,
		narrator:  d.Narrator,
		ledger:    d.Ledger,
		sealer:    d.Sealer,
		tuner:     d.Tuner,
		metrics:   d.Metrics,
		logger:    d.Logger,
		indexer:   d.Indexer,
		searcher:  d.Searcher,
		archiver:  d.Archiver,
		publisher: d.Publisher,
		now:       time.Now,
	}
}

func (s *CaseService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *CaseService) lockCase(id uuid.UUID) func() {
	return s.locks.Lock("case:" + id.String())
}

// OpenCaseResult is returned by OpenCase
type OpenCaseResult struct {
	CaseID          uuid.UUID `json:"case_id"`
	ComplianceScore int       `json:"compliance_score"`
}

// OpenCase scores the alert subject's history, drafts the narrative and
// persists a draft case with its evidence links. The alert moves to
// investigating.
func (s *CaseService) OpenCase(ctx context.Context, alertID uuid.UUID, analyst string) (*OpenCaseResult, error) {
	defer s.metrics.ObserveOperation("open_case", time.Now())
	if err := requireAnalyst(analyst); err != nil {
		return nil, err
	}

	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	profile, err := s.profiles.GetProfile(ctx, alert.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer profile: %w", err)
	}
	history, err := s.histories.GetHistory(ctx, alert.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction history: %w", err)
	}
	if len(history) == 0 {
		return nil, domain.NewValidationError("txn_history", "customer "+alert.CustomerID+" has no transactions")
	}

	adjustment, err := s.AdaptiveThreshold(ctx, alert.AlertType)
	if err != nil {
		return nil, err
	}
	risk := s.analyzer.Analyze(alert, history, adjustment)
	draft, err := s.narrator.Generate(*profile, history, risk)
	if err != nil {
		return nil, err
	}
	enriched := domain.EnrichedData{
		SchemaVersion: domain.SchemaVersion,
		Customer:      *profile,
		Transactions:  history,
		Risk:          risk,
	}
	check := compliance.Check(draft, enriched, risk)

	now := s.timestamp()
	c := &domain.Case{
		ID:              uuid.New(),
		AlertID:         alert.ID,
		EnrichedData:    enriched,
		SARDraft:        draft,
		ComplianceScore: check.Score,
		Status:          domain.CaseStatusDraft,
		Typology:        risk.Typology,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	links := evidenceLinks(c.ID, risk, now)

	entry, err := domain.NewAuditEntry(c.ID, analyst, domain.AuditCaseCreated, map[string]any{
		"alert_id":     alert.ID,
		"risk_score":   risk.Score,
		"score_source": risk.ScoreSource,
		"typology":     risk.Typology,
	})
	if err != nil {
		return nil, err
	}

	unlockAlert := s.locks.Lock("alert:" + alert.ID.String())
	defer unlockAlert()
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateCase(ctx, c); err != nil {
			return err
		}
		if len(links) > 0 {
			if err := tx.AddEvidenceLinks(ctx, links); err != nil {
				return err
			}
		}
		if err := tx.UpdateAlertStatus(ctx, alert.ID, domain.AlertStatusInvestigating); err != nil {
			return err
		}
		return s.ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		s.logger.Error("Failed to open case",
			zap.String("alert_id", alert.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.CasesOpened.Inc()
	s.metrics.RiskScore.Observe(float64(risk.Score))
	s.logger.Info("Case opened",
		zap.String("case_id", c.ID.String()),
		zap.String("alert_id", alert.ID.String()),
		zap.String("customer", crypto.MaskPII(profile.Name, "name")),
		zap.String("account", crypto.MaskPII(profile.AccountNumber, "account")),
		zap.Int("risk_score", risk.Score),
		zap.String("typology", string(risk.Typology)),
		zap.Int("compliance_score", check.Score),
	)
	s.afterCommit(domain.NewCaseEvent(domain.EventCaseOpened, c, analyst), entry)

	return &OpenCaseResult{CaseID: c.ID, ComplianceScore: check.Score}, nil
}

// evidenceLinks persists one link per evidence map entry, reason order first
// and any remaining codes sorted
func evidenceLinks(caseID uuid.UUID, risk domain.RiskAnalysis, now time.Time) []domain.EvidenceLink {
	var codes []domain.Typology
	seen := map[domain.Typology]bool{}
	for _, r := range risk.Reasons {
		if _, ok := risk.Evidence[r.Code]; ok && !seen[r.Code] {
			seen[r.Code] = true
			codes = append(codes, r.Code)
		}
	}
	var rest []domain.Typology
	for code := range risk.Evidence {
		if !seen[code] {
			rest = append(rest, code)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	codes = append(codes, rest...)

	links := make([]domain.EvidenceLink, 0, len(codes))
	for _, code := range codes {
		ev := risk.Evidence[code]
		links = append(links, domain.EvidenceLink{
			ID:          uuid.New(),
			CaseID:      caseID,
			ReasonCode:  code,
			Metric:      ev.Metric,
			EvidenceIDs: append([]string{}, ev.IDs...),
			CreatedAt:   now,
		})
	}
	return links
}

// ConfirmTypology sets the case typology and marks it confirmed
func (s *CaseService) ConfirmTypology(ctx context.Context, caseID uuid.UUID, typology domain.Typology, analyst string) error {
	defer s.metrics.ObserveOperation("confirm_typology", time.Now())
	typology = domain.Typology(strings.TrimSpace(string(typology)))
	if typology == "" {
		return domain.NewValidationError("typology", "typology is required")
	}
	if err := requireAnalyst(analyst); err != nil {
		return err
	}

	unlock := s.lockCase(caseID)
	defer unlock()

	var entry *domain.AuditEntry
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := openForChange(ctx, tx, caseID)
		if err != nil {
			return err
		}
		before := c.Typology
		c.Typology = typology
		c.TypologyConfirmed = true
		c.UpdatedAt = s.timestamp()
		if err := tx.UpdateCase(ctx, c); err != nil {
			return err
		}
		entry, err = domain.NewAuditEntry(caseID, analyst, domain.AuditTypologyConfirmed, map[string]any{"typology": typology})
		if err != nil {
			return err
		}
		entry.WithChange(string(before), string(typology))
		return s.ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Typology confirmed",
		zap.String("case_id", caseID.String()),
		zap.String("typology", string(typology)),
	)
	s.afterCommit(domain.CaseEvent{}, entry)
	return nil
}

// SubmitFeedback records the analyst disposition and recomputes the adaptive
// threshold of the alert type. A failed recomputation is logged; the
// feedback stays committed.
func (s *CaseService) SubmitFeedback(ctx context.Context, caseID uuid.UUID, label domain.FeedbackLabel, rationale, detail, analyst string) error {
	defer s.metrics.ObserveOperation("submit_feedback", time.Now())
	if strings.TrimSpace(rationale) == "" {
		return domain.NewValidationError("rationale", "decision rationale is required")
	}
	if !label.Valid() {
		return domain.NewValidationError("label", fmt.Sprintf("unknown label %q", label))
	}
	if err := requireAnalyst(analyst); err != nil {
		return err
	}

	unlock := s.lockCase(caseID)
	defer unlock()

	var (
		entry     *domain.AuditEntry
		alertType string
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		alert, err := tx.GetAlert(ctx, c.AlertID)
		if err != nil {
			return err
		}
		alertType = alert.AlertType
		fb := &domain.Feedback{
			ID:              uuid.New(),
			CaseID:          c.ID,
			AlertID:         c.AlertID,
			Analyst:         analyst,
			Label:           label,
			Rationale:       rationale,
			RationaleDetail: detail,
			CreatedAt:       s.timestamp(),
		}
		if err := tx.AddFeedback(ctx, fb); err != nil {
			return err
		}
		entry, err = domain.NewAuditEntry(caseID, analyst, domain.AuditFeedbackSubmitted, map[string]any{
			"label":     label,
			"rationale": rationale,
			"detail":    detail,
		})
		if err != nil {
			return err
		}
		return s.ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		return err
	}

	s.metrics.FeedbackRecorded.WithLabelValues(string(label)).Inc()
	s.afterCommit(domain.CaseEvent{}, entry)

	if _, err := s.tuner.Recompute(ctx, alertType); err != nil {
		s.logger.Error("Failed to recompute adaptive threshold",
			zap.String("alert_type", alertType),
			zap.Error(err),
		)
	}
	return nil
}

// InterventionRequest carries the analyst input of ExecuteIntervention
type InterventionRequest struct {
	Action    domain.InterventionAction `json:"action"`
	Reason    string                    `json:"reason"`
	Rationale string                    `json:"rationale"`
	Analyst   string                    `json:"analyst"`
}

// ExecuteIntervention records an account action. Blocking actions move the
// case and its alert to intervened.
func (s *CaseService) ExecuteIntervention(ctx context.Context, caseID uuid.UUID, req InterventionRequest) (*domain.Intervention, error) {
	defer s.metrics.ObserveOperation("execute_intervention", time.Now())
	if strings.TrimSpace(req.Rationale) == "" {
		return nil, domain.NewValidationError("rationale", "intervention rationale is required")
	}
	if !req.Action.Valid() {
		return nil, domain.NewValidationError("action", fmt.Sprintf("unknown action %q", req.Action))
	}
	if err := requireAnalyst(req.Analyst); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = domain.DefaultInterventionReason
	}

	unlock := s.lockCase(caseID)
	defer unlock()

	var (
		entry *domain.AuditEntry
		iv    *domain.Intervention
		event domain.CaseEvent
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := openForChange(ctx, tx, caseID)
		if err != nil {
			return err
		}
		iv = &domain.Intervention{
			ID:        uuid.New(),
			CaseID:    c.ID,
			AlertID:   c.AlertID,
			Action:    req.Action,
			Reason:    req.Reason,
			Rationale: req.Rationale,
			Analyst:   req.Analyst,
			Timestamp: s.timestamp(),
		}
		if err := tx.AddIntervention(ctx, iv); err != nil {
			return err
		}
		if req.Action.Blocking() {
			c.Status = domain.CaseStatusIntervened
			c.UpdatedAt = iv.Timestamp
			if err := tx.UpdateCase(ctx, c); err != nil {
				return err
			}
			if err := tx.UpdateAlertStatus(ctx, c.AlertID, domain.AlertStatusIntervened); err != nil {
				return err
			}
			event = domain.NewCaseEvent(domain.EventCaseIntervened, c, req.Analyst)
		}
		entry, err = domain.NewAuditEntry(caseID, req.Analyst, domain.AuditInterventionExecuted, map[string]any{
			"action":    req.Action,
			"reason":    req.Reason,
			"rationale": req.Rationale,
		})
		if err != nil {
			return err
		}
		return s.ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Interventions.WithLabelValues(string(req.Action)).Inc()
	s.logger.Info("Intervention executed",
		zap.String("case_id", caseID.String()),
		zap.String("action", string(req.Action)),
		zap.Bool("blocking", req.Action.Blocking()),
	)
	s.afterCommit(event, entry)
	return iv, nil
}

// EditNarrative replaces the draft and refreshes the stored compliance score
func (s *CaseService) EditNarrative(ctx context.Context, caseID uuid.UUID, text, analyst string) error {
	defer s.metrics.ObserveOperation("edit_narrative", time.Now())
	if err := requireAnalyst(analyst); err != nil {
		return err
	}

	unlock := s.lockCase(caseID)
	defer unlock()

	var entry *domain.AuditEntry
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := openForChange(ctx, tx, caseID)
		if err != nil {
			return err
		}
		before := c.SARDraft
		c.SARDraft = text
		c.ComplianceScore = compliance.Check(text, c.EnrichedData, c.EnrichedData.Risk).Score
		c.UpdatedAt = s.timestamp()
		if err := tx.UpdateCase(ctx, c); err != nil {
			return err
		}
		entry, err = domain.NewAuditEntry(caseID, analyst, domain.AuditNarrativeEdited, map[string]any{
			"changes":          "Manual edit",
			"compliance_score": c.ComplianceScore,
		})
		if err != nil {
			return err
		}
		entry.WithChange(before, text)
		return s.ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		return err
	}
	s.afterCommit(domain.CaseEvent{}, entry)
	return nil
}

// ReopenCase returns an intervened case to draft so it can proceed to
// submission. The alert goes back to investigating.
func (s *CaseService) ReopenCase(ctx context.Context, caseID uuid.UUID, rationale, analyst string) error {
	defer s.metrics.ObserveOperation("reopen_case", time.Now())
	if strings.TrimSpace(rationale) == "" {
		return domain.NewValidationError("rationale", "reopen rationale is required")
	}
	if err := requireAnalyst(analyst); err != nil {
		return err
	}

	unlock := s.lockCase(caseID)
	defer unlock()

	var (
		entry *domain.AuditEntry
		event domain.CaseEvent
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := openForChange(ctx, tx, caseID)
		if err != nil {
			return err
		}
		if c.Status != domain.CaseStatusIntervened {
			return domain.NewValidationError("status", fmt.Sprintf("case is %s, only intervened cases can be reopened", c.Status))
		}
		c.Status = domain.CaseStatusDraft
		c.UpdatedAt = s.timestamp()
		if err := tx.UpdateCase(ctx, c); err != nil {
			return err
		}
		if err := tx.UpdateAlertStatus(ctx, c.AlertID, domain.AlertStatusInvestigating); err != nil {
			return err
		}
		entry, err = domain.NewAuditEntry(caseID, analyst, domain.AuditCaseReopened, map[string]any{"rationale": rationale})
		if err != nil {
			return err
		}
		entry.WithChange(string(domain.CaseStatusIntervened), string(domain.CaseStatusDraft))
		event = domain.NewCaseEvent(domain.EventCaseReopened, c, analyst)
		return s.ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		return err
	}
	s.afterCommit(event, entry)
	return nil
}

// SubmitCase runs the governance gate and, when it passes, seals the
// submission, closes the alert and appends the audit entry atomically.
func (s *CaseService) SubmitCase(ctx context.Context, caseID uuid.UUID, analyst string) (*domain.Submission, error) {
	defer s.metrics.ObserveOperation("submit_case", time.Now())
	if err := requireAnalyst(analyst); err != nil {
		return nil, err
	}

	unlock := s.lockCase(caseID)
	defer unlock()

	var (
		entry *domain.AuditEntry
		sub   *domain.Submission
		event domain.CaseEvent
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		links, err := tx.ListEvidenceLinks(ctx, caseID)
		if err != nil {
			return err
		}
		feedback, err := tx.CountFeedback(ctx, caseID)
		if err != nil {
			return err
		}
		check := compliance.Check(c.SARDraft, c.EnrichedData, c.EnrichedData.Risk)
		if _, err := governance.Gate(governance.Input{
			Case:            c,
			Evidence:        links,
			FeedbackCount:   feedback,
			ComplianceScore: check.Score,
		}); err != nil {
			return err
		}

		sub, err = s.sealer.Seal(c, check.Score, analyst)
		if err != nil {
			return err
		}
		if err := tx.CreateSubmission(ctx, sub); err != nil {
			return err
		}
		c.Status = domain.CaseStatusSubmitted
		c.ComplianceScore = check.Score
		c.UpdatedAt = sub.SubmittedAt
		if err := tx.UpdateCase(ctx, c); err != nil {
			return err
		}
		if err := tx.UpdateAlertStatus(ctx, c.AlertID, domain.AlertStatusClosed); err != nil {
			return err
		}
		entry, err = domain.NewAuditEntry(caseID, analyst, domain.AuditSARSubmitted, map[string]any{
			"submission_id": sub.SubmissionID,
			"checksum":      sub.Checksum,
		})
		if err != nil {
			return err
		}
		event = domain.NewCaseEvent(domain.EventSARSubmitted, c, analyst)
		event.SubmissionID = sub.SubmissionID
		event.Checksum = sub.Checksum
		return s.ledger.Append(ctx, tx, entry)
	})
	if err != nil {
		if ge, ok := domain.AsGovernance(err); ok {
			s.metrics.GovernanceRejections.WithLabelValues(string(ge.Kind)).Inc()
			s.logger.Info("Submission rejected by governance gate",
				zap.String("case_id", caseID.String()),
				zap.String("kind", string(ge.Kind)),
			)
		}
		return nil, err
	}

	s.metrics.SubmissionsSealed.Inc()
	s.logger.Info("SAR submitted",
		zap.String("case_id", caseID.String()),
		zap.String("submission_id", sub.SubmissionID),
		zap.String("checksum", sub.Checksum),
	)
	s.afterCommit(event, entry)
	s.asyncArchive(sub)
	return sub, nil
}

// openForChange loads a case that may still be mutated
func openForChange(ctx context.Context, tx repository.Tx, caseID uuid.UUID) (*domain.Case, error) {
	c, err := tx.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Sealed() {
		return nil, domain.ImmutabilityViolation("case %s is submitted", caseID)
	}
	return c, nil
}

func requireAnalyst(analyst string) error {
	if strings.TrimSpace(analyst) == "" {
		return domain.NewValidationError("analyst", "analyst is required")
	}
	return nil
}
