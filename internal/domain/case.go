package domain

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion tags the layout of the enriched snapshot stored with each case
const SchemaVersion = 1

// CaseStatus is the governance state of a case. Draft is initial; intervened
// and submitted are terminal for the submission flow.
type CaseStatus string

const (
	CaseStatusDraft      CaseStatus = "draft"
	CaseStatusIntervened CaseStatus = "intervened"
	CaseStatusSubmitted  CaseStatus = "submitted"
)

// ScoreSource names which value became the authoritative risk score
type ScoreSource string

const (
	ScoreSourceComputed ScoreSource = "computed"
	ScoreSourceAlert    ScoreSource = "alert"
)

// Reason is one explainable cause for the risk score
type Reason struct {
	Code Typology `json:"code"`
	Text string   `json:"text"`
}

// Evidence is the metric and supporting identifiers cited for a reason code
type Evidence struct {
	Metric string   `json:"metric"`
	IDs    []string `json:"evidence_ids"`
}

// RiskAnalysis is the output of the scoring engine as stored with a case
type RiskAnalysis struct {
	SchemaVersion       int                   `json:"schema_version"`
	Score               int                   `json:"score"`
	ComputedScore       int                   `json:"computed_score"`
	ScoreSource         ScoreSource           `json:"score_source"`
	Reasons             []Reason              `json:"reasons"`
	Evidence            map[Typology]Evidence `json:"evidence_map"`
	Typology            Typology              `json:"typology"`
	NewTypology         bool                  `json:"new_typology"`
	VelocityMultiplier  float64               `json:"velocity_multiplier"`
	ThresholdAdjustment int                   `json:"threshold_adjustment"` // advisory only
}

// ReasonTexts returns the reason texts in order
func (r RiskAnalysis) ReasonTexts() []string {
	out := make([]string, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		out = append(out, reason.Text)
	}
	return out
}

// EnrichedData is the snapshot a case was opened with
type EnrichedData struct {
	SchemaVersion int             `json:"schema_version"`
	Customer      CustomerProfile `json:"customer_data"`
	Transactions  []Transaction   `json:"txn_history"`
	Risk          RiskAnalysis    `json:"risk_analysis"`
}

// Case is the investigation record opened against an alert
type Case struct {
	ID                uuid.UUID    `json:"id" db:"id"`
	AlertID           uuid.UUID    `json:"alert_id" db:"alert_id"`
	EnrichedData      EnrichedData `json:"enriched_data" db:"enriched_data"`
	SARDraft          string       `json:"sar_draft" db:"sar_draft"`
	ComplianceScore   int          `json:"compliance_score" db:"compliance_score"`
	Status            CaseStatus   `json:"status" db:"status"`
	Typology          Typology     `json:"typology" db:"typology"`
	TypologyConfirmed bool         `json:"typology_confirmed" db:"typology_confirmed"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at" db:"updated_at"`
}

// Sealed reports whether the case has been submitted and is frozen
func (c *Case) Sealed() bool {
	return c.Status == CaseStatusSubmitted
}

// EvidenceLink associates a cited reason with the identifiers supporting it
type EvidenceLink struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CaseID      uuid.UUID `json:"case_id" db:"case_id"`
	ReasonCode  Typology  `json:"reason_code" db:"reason_code"`
	Metric      string    `json:"metric" db:"metric"`
	EvidenceIDs []string  `json:"evidence_ids" db:"evidence_ids"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// HasEvidence reports whether the link cites at least one identifier
func (l EvidenceLink) HasEvidence() bool {
	return len(l.EvidenceIDs) > 0
}
