// Package memory is an in-process implementation of the repository contracts
// for development mode and tests. Transactions work on a copy of the state
// that replaces the committed state only when the callback succeeds.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/banking/sar-governance/internal/repository"
	"github.com/google/uuid"
)

type state struct {
	alerts        map[uuid.UUID]domain.Alert
	cases         map[uuid.UUID]domain.Case
	caseOrder     []uuid.UUID
	evidence      []domain.EvidenceLink
	feedback      []domain.Feedback
	interventions []domain.Intervention
	audit         []domain.AuditEntry
	submissions   []domain.Submission
	thresholds    map[string]domain.AdaptiveThreshold
}

func newState() *state {
	return &state{
		alerts:     make(map[uuid.UUID]domain.Alert),
		cases:      make(map[uuid.UUID]domain.Case),
		thresholds: make(map[string]domain.AdaptiveThreshold),
	}
}

// clone copies containers. Stored values are never mutated in place, so the
// records themselves can be shared.
func (s *state) clone() *state {
	c := &state{
		alerts:        make(map[uuid.UUID]domain.Alert, len(s.alerts)),
		cases:         make(map[uuid.UUID]domain.Case, len(s.cases)),
		caseOrder:     append([]uuid.UUID(nil), s.caseOrder...),
		evidence:      append([]domain.EvidenceLink(nil), s.evidence...),
		feedback:      append([]domain.Feedback(nil), s.feedback...),
		interventions: append([]domain.Intervention(nil), s.interventions...),
		audit:         append([]domain.AuditEntry(nil), s.audit...),
		submissions:   append([]domain.Submission(nil), s.submissions...),
		thresholds:    make(map[string]domain.AdaptiveThreshold, len(s.thresholds)),
	}
	for k, v := range s.alerts {
		c.alerts[k] = v
	}
	for k, v := range s.cases {
		c.cases[k] = v
	}
	for k, v := range s.thresholds {
		c.thresholds[k] = v
	}
	return c
}

// Store is the in-memory authoritative store. Customer data sits outside
// the transactional state: it is loaded by UpsertCustomer, never by a case
// operation.
type Store struct {
	*view
	mu        sync.RWMutex
	txMu      sync.Mutex
	committed *state

	customerMu sync.RWMutex
	customers  map[string]domain.CustomerProfile
	histories  map[string][]domain.Transaction
}

var (
	_ repository.Store                      = (*Store)(nil)
	_ repository.CustomerProfileProvider    = (*Store)(nil)
	_ repository.TransactionHistoryProvider = (*Store)(nil)
	_ repository.CustomerLoader             = (*Store)(nil)
)

// NewStore creates an empty store
func NewStore() *Store {
	s := &Store{
		committed: newState(),
		customers: make(map[string]domain.CustomerProfile),
		histories: make(map[string][]domain.Transaction),
	}
	s.view = &view{st: s.committed, mu: &s.mu, txMu: &s.txMu}
	return s
}

// WithinTx runs fn against a private copy of the state and commits it when
// fn returns nil. Transactions are serialized.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &view{st: work}); err != nil {
		return err
	}

	s.mu.Lock()
	*s.committed = *work
	s.mu.Unlock()
	return nil
}

// UpsertCustomer loads a KYC profile and its transactions. Transactions
// replace stored ones with the same id; the history stays in timestamp order.
func (s *Store) UpsertCustomer(_ context.Context, profile domain.CustomerProfile, history []domain.Transaction) error {
	s.customerMu.Lock()
	defer s.customerMu.Unlock()

	byID := make(map[string]int)
	h := append([]domain.Transaction(nil), s.histories[profile.CustomerID]...)
	for i, t := range h {
		byID[t.ID] = i
	}
	for _, t := range history {
		if i, ok := byID[t.ID]; ok {
			h[i] = t
			continue
		}
		byID[t.ID] = len(h)
		h = append(h, t)
	}
	sort.SliceStable(h, func(i, j int) bool { return h[i].Timestamp.Before(h[j].Timestamp) })

	s.customers[profile.CustomerID] = profile
	s.histories[profile.CustomerID] = h
	return nil
}

func (s *Store) GetProfile(_ context.Context, customerID string) (*domain.CustomerProfile, error) {
	s.customerMu.RLock()
	defer s.customerMu.RUnlock()
	p, ok := s.customers[customerID]
	if !ok {
		return nil, domain.NewNotFoundError("customer", customerID)
	}
	return &p, nil
}

func (s *Store) GetHistory(_ context.Context, customerID string) ([]domain.Transaction, error) {
	s.customerMu.RLock()
	defer s.customerMu.RUnlock()
	return append([]domain.Transaction(nil), s.histories[customerID]...), nil
}

// AmendAuditEntry always fails: audit entries are immutable
func (s *Store) AmendAuditEntry(_ context.Context, entry *domain.AuditEntry) error {
	return domain.ImmutabilityViolation("audit entry %s cannot be updated", entry.ID)
}

// RemoveAuditEntry always fails: audit entries are immutable
func (s *Store) RemoveAuditEntry(_ context.Context, id uuid.UUID) error {
	return domain.ImmutabilityViolation("audit entry %s cannot be deleted", id)
}

// AmendSubmission always fails: submissions are immutable
func (s *Store) AmendSubmission(_ context.Context, sub *domain.Submission) error {
	return domain.ImmutabilityViolation("submission %s cannot be updated", sub.SubmissionID)
}

// RemoveSubmission always fails: submissions are immutable
func (s *Store) RemoveSubmission(_ context.Context, submissionID string) error {
	return domain.ImmutabilityViolation("submission %s cannot be deleted", submissionID)
}

// view implements repository.Tx over one state. The committed view locks;
// a transaction view is private to its goroutine and does not.
type view struct {
	st   *state
	mu   *sync.RWMutex
	txMu *sync.Mutex
}

func (v *view) rlock() func() {
	if v.mu == nil {
		return func() {}
	}
	v.mu.RLock()
	return v.mu.RUnlock
}

func (v *view) lock() func() {
	if v.mu == nil {
		return func() {}
	}
	v.txMu.Lock()
	v.mu.Lock()
	return func() {
		v.mu.Unlock()
		v.txMu.Unlock()
	}
}

func (v *view) CreateAlert(_ context.Context, a *domain.Alert) error {
	defer v.lock()()
	if _, ok := v.st.alerts[a.ID]; ok {
		return &domain.IntegrityError{Constraint: "alert_id", Value: a.ID.String()}
	}
	v.st.alerts[a.ID] = copyAlert(*a)
	return nil
}

func (v *view) GetAlert(_ context.Context, id uuid.UUID) (*domain.Alert, error) {
	defer v.rlock()()
	a, ok := v.st.alerts[id]
	if !ok {
		return nil, domain.NewNotFoundError("alert", id.String())
	}
	out := copyAlert(a)
	return &out, nil
}

func (v *view) ListAlerts(_ context.Context, status domain.AlertStatus) ([]domain.Alert, error) {
	defer v.rlock()()
	out := make([]domain.Alert, 0, len(v.st.alerts))
	for _, a := range v.st.alerts {
		if status == "" || a.Status == status {
			out = append(out, copyAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (v *view) UpdateAlertStatus(_ context.Context, id uuid.UUID, status domain.AlertStatus) error {
	defer v.lock()()
	a, ok := v.st.alerts[id]
	if !ok {
		return domain.NewNotFoundError("alert", id.String())
	}
	a.Status = status
	v.st.alerts[id] = a
	return nil
}

func (v *view) AlertTypes(_ context.Context) ([]string, error) {
	defer v.rlock()()
	seen := map[string]bool{}
	var out []string
	for _, a := range v.st.alerts {
		if !seen[a.AlertType] {
			seen[a.AlertType] = true
			out = append(out, a.AlertType)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (v *view) CreateCase(_ context.Context, c *domain.Case) error {
	defer v.lock()()
	if _, ok := v.st.cases[c.ID]; ok {
		return &domain.IntegrityError{Constraint: "case_id", Value: c.ID.String()}
	}
	v.st.cases[c.ID] = copyCase(*c)
	v.st.caseOrder = append(v.st.caseOrder, c.ID)
	return nil
}

func (v *view) GetCase(_ context.Context, id uuid.UUID) (*domain.Case, error) {
	defer v.rlock()()
	c, ok := v.st.cases[id]
	if !ok {
		return nil, domain.NewNotFoundError("case", id.String())
	}
	out := copyCase(c)
	return &out, nil
}

func (v *view) LatestCaseForAlert(_ context.Context, alertID uuid.UUID) (*domain.Case, error) {
	defer v.rlock()()
	for i := len(v.st.caseOrder) - 1; i >= 0; i-- {
		c := v.st.cases[v.st.caseOrder[i]]
		if c.AlertID == alertID {
			out := copyCase(c)
			return &out, nil
		}
	}
	return nil, domain.NewNotFoundError("case for alert", alertID.String())
}

func (v *view) UpdateCase(_ context.Context, c *domain.Case) error {
	defer v.lock()()
	stored, ok := v.st.cases[c.ID]
	if !ok {
		return domain.NewNotFoundError("case", c.ID.String())
	}
	if stored.Sealed() {
		return domain.ImmutabilityViolation("case %s is submitted", c.ID)
	}
	v.st.cases[c.ID] = copyCase(*c)
	return nil
}

func (v *view) AddEvidenceLinks(_ context.Context, links []domain.EvidenceLink) error {
	defer v.lock()()
	for _, l := range links {
		if c, ok := v.st.cases[l.CaseID]; ok && c.Sealed() {
			return domain.ImmutabilityViolation("evidence of case %s is frozen", l.CaseID)
		}
	}
	for _, l := range links {
		l.EvidenceIDs = append([]string(nil), l.EvidenceIDs...)
		v.st.evidence = append(v.st.evidence, l)
	}
	return nil
}

func (v *view) ListEvidenceLinks(_ context.Context, caseID uuid.UUID) ([]domain.EvidenceLink, error) {
	defer v.rlock()()
	var out []domain.EvidenceLink
	for _, l := range v.st.evidence {
		if l.CaseID == caseID {
			l.EvidenceIDs = append([]string(nil), l.EvidenceIDs...)
			out = append(out, l)
		}
	}
	return out, nil
}

func (v *view) AddFeedback(_ context.Context, f *domain.Feedback) error {
	defer v.lock()()
	v.st.feedback = append(v.st.feedback, *f)
	return nil
}

func (v *view) ListFeedback(_ context.Context, caseID uuid.UUID) ([]domain.Feedback, error) {
	defer v.rlock()()
	var out []domain.Feedback
	for _, f := range v.st.feedback {
		if f.CaseID == caseID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (v *view) CountFeedback(ctx context.Context, caseID uuid.UUID) (int, error) {
	list, err := v.ListFeedback(ctx, caseID)
	return len(list), err
}

func (v *view) RecentFeedbackLabels(_ context.Context, alertType string, limit int) ([]domain.FeedbackLabel, error) {
	defer v.rlock()()
	// reverse insertion order first so the stable sort ranks the latest row
	// first among equal timestamps
	var matched []domain.Feedback
	for i := len(v.st.feedback) - 1; i >= 0; i-- {
		f := v.st.feedback[i]
		if a, ok := v.st.alerts[f.AlertID]; ok && a.AlertType == alertType {
			matched = append(matched, f)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]domain.FeedbackLabel, 0, len(matched))
	for _, f := range matched {
		out = append(out, f.Label)
	}
	return out, nil
}

func (v *view) AddIntervention(_ context.Context, i *domain.Intervention) error {
	defer v.lock()()
	v.st.interventions = append(v.st.interventions, *i)
	return nil
}

func (v *view) ListInterventions(_ context.Context, caseID uuid.UUID) ([]domain.Intervention, error) {
	defer v.rlock()()
	var out []domain.Intervention
	for _, i := range v.st.interventions {
		if i.CaseID == caseID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (v *view) AppendAuditEntry(_ context.Context, e *domain.AuditEntry) error {
	defer v.lock()()
	for _, existing := range v.st.audit {
		if existing.ID == e.ID {
			return domain.ImmutabilityViolation("audit entry %s already exists", e.ID)
		}
		if existing.CaseID == e.CaseID && existing.Sequence == e.Sequence {
			return &domain.IntegrityError{Constraint: "audit_sequence", Value: e.CaseID.String()}
		}
	}
	v.st.audit = append(v.st.audit, *e)
	return nil
}

func (v *view) LastAuditEntry(_ context.Context, caseID uuid.UUID) (*domain.AuditEntry, error) {
	defer v.rlock()()
	for i := len(v.st.audit) - 1; i >= 0; i-- {
		if v.st.audit[i].CaseID == caseID {
			e := v.st.audit[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (v *view) ListAuditEntries(_ context.Context, caseID uuid.UUID) ([]domain.AuditEntry, error) {
	defer v.rlock()()
	var out []domain.AuditEntry
	for _, e := range v.st.audit {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// RecentAuditEntries returns the newest entries across all cases
func (v *view) RecentAuditEntries(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	defer v.rlock()()
	out := make([]domain.AuditEntry, 0, len(v.st.audit))
	for i := len(v.st.audit) - 1; i >= 0; i-- {
		out = append(out, v.st.audit[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *view) CreateSubmission(_ context.Context, sub *domain.Submission) error {
	defer v.lock()()
	for _, s := range v.st.submissions {
		if s.SubmissionID == sub.SubmissionID {
			return &domain.IntegrityError{Constraint: "submission_id", Value: sub.SubmissionID}
		}
		if s.Checksum == sub.Checksum {
			return &domain.IntegrityError{Constraint: "checksum", Value: sub.Checksum}
		}
	}
	v.st.submissions = append(v.st.submissions, *sub)
	return nil
}

func (v *view) GetSubmission(_ context.Context, caseID uuid.UUID) (*domain.Submission, error) {
	defer v.rlock()()
	for _, s := range v.st.submissions {
		if s.CaseID == caseID {
			out := s
			return &out, nil
		}
	}
	return nil, domain.NewNotFoundError("submission for case", caseID.String())
}

func (v *view) UpsertAdaptiveThreshold(_ context.Context, t *domain.AdaptiveThreshold) error {
	defer v.lock()()
	v.st.thresholds[t.AlertType] = *t
	return nil
}

func (v *view) GetAdaptiveThreshold(_ context.Context, alertType string) (*domain.AdaptiveThreshold, error) {
	defer v.rlock()()
	t, ok := v.st.thresholds[alertType]
	if !ok {
		return nil, domain.NewNotFoundError("adaptive threshold", alertType)
	}
	return &t, nil
}

func copyAlert(a domain.Alert) domain.Alert {
	if a.AssignedTo != nil {
		s := *a.AssignedTo
		a.AssignedTo = &s
	}
	return a
}

func copyCase(c domain.Case) domain.Case {
	c.EnrichedData.Transactions = append([]domain.Transaction(nil), c.EnrichedData.Transactions...)
	risk := &c.EnrichedData.Risk
	risk.Reasons = append([]domain.Reason(nil), risk.Reasons...)
	if risk.Evidence != nil {
		ev := make(map[domain.Typology]domain.Evidence, len(risk.Evidence))
		for k, e := range risk.Evidence {
			e.IDs = append([]string(nil), e.IDs...)
			ev[k] = e
		}
		risk.Evidence = ev
	}
	return c
}
