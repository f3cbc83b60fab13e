package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction names the case mutation an audit entry documents
type AuditAction string

const (
	AuditCaseCreated          AuditAction = "case_created"
	AuditTypologyConfirmed    AuditAction = "typology_confirmed"
	AuditFeedbackSubmitted    AuditAction = "feedback_submitted"
	AuditInterventionExecuted AuditAction = "intervention_executed"
	AuditNarrativeEdited      AuditAction = "sar_edited"
	AuditCaseReopened         AuditAction = "case_reopened"
	AuditSARSubmitted         AuditAction = "sar_submitted"
)

// AuditEntry is an immutable ledger record of a case mutation.
// Entries are never modified or deleted once appended; each one is chained to
// the previous entry of the same case and carries an HMAC signature.
type AuditEntry struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	CaseID      uuid.UUID       `json:"case_id" db:"case_id"`
	Sequence    int64           `json:"sequence" db:"sequence"` // 1-based position within the case
	Analyst     string          `json:"analyst" db:"analyst"`
	Action      AuditAction     `json:"action" db:"action"`
	Details     json.RawMessage `json:"details" db:"details"`
	BeforeValue *string         `json:"before_value,omitempty" db:"before_value"`
	AfterValue  *string         `json:"after_value,omitempty" db:"after_value"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	PrevHash    string          `json:"prev_hash" db:"prev_hash"`
	Hash        string          `json:"hash" db:"hash"`
	Signature   string          `json:"signature" db:"signature"`
	KeyVersion  int             `json:"-" db:"key_version"`
}

// NewAuditEntry builds an unsealed entry. Details must be JSON-serializable.
func NewAuditEntry(caseID uuid.UUID, analyst string, action AuditAction, details any) (*AuditEntry, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	return &AuditEntry{
		ID:        uuid.New(),
		CaseID:    caseID,
		Analyst:   analyst,
		Action:    action,
		Details:   raw,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}, nil
}

// WithChange records the before/after pair of the mutated value
func (e *AuditEntry) WithChange(before, after string) *AuditEntry {
	e.BeforeValue = &before
	e.AfterValue = &after
	return e
}

// SubmissionPayload is the canonical content sealed into a submission.
// Field order of the serialized form is fixed by canonical JSON, not by this struct.
type SubmissionPayload struct {
	SubmissionID    string       `json:"submission_id"`
	CaseID          uuid.UUID    `json:"case_id"`
	Typology        Typology     `json:"typology"`
	Narrative       string       `json:"sar_narrative"`
	EnrichedData    EnrichedData `json:"enriched_data"`
	ComplianceScore int          `json:"compliance_score"`
	Analyst         string       `json:"analyst"`
}

// Submission is the immutable, checksummed final report record
type Submission struct {
	CaseID       uuid.UUID         `json:"case_id" db:"case_id"`
	SubmissionID string            `json:"submission_id" db:"submission_id"`
	Checksum     string            `json:"checksum" db:"checksum"`
	Payload      SubmissionPayload `json:"sar_payload" db:"sar_payload"`
	SubmittedAt  time.Time         `json:"submitted_at" db:"submitted_at"`
}
