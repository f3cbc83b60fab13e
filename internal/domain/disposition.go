package domain

import (
	"time"

	"github.com/google/uuid"
)

// FeedbackLabel is the analyst disposition of a case
type FeedbackLabel string

const (
	LabelTruePositive  FeedbackLabel = "true_positive"
	LabelFalsePositive FeedbackLabel = "false_positive"
	LabelNeedsReview   FeedbackLabel = "needs_review"
)

// Valid reports whether l is a known label
func (l FeedbackLabel) Valid() bool {
	switch l {
	case LabelTruePositive, LabelFalsePositive, LabelNeedsReview:
		return true
	}
	return false
}

// Feedback records an analyst disposition. Rationale is mandatory.
type Feedback struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	CaseID          uuid.UUID     `json:"case_id" db:"case_id"`
	AlertID         uuid.UUID     `json:"alert_id" db:"alert_id"`
	Analyst         string        `json:"analyst" db:"analyst"`
	Label           FeedbackLabel `json:"label" db:"label"`
	Rationale       string        `json:"rationale" db:"rationale"`
	RationaleDetail string        `json:"rationale_detail,omitempty" db:"rationale_detail"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
}

// InterventionAction is an action taken on the customer's account during investigation
type InterventionAction string

const (
	ActionHoldWithdrawal InterventionAction = "hold_withdrawal"
	ActionFreezeAccount  InterventionAction = "freeze_account"
	ActionRequestInfo    InterventionAction = "request_info"
	ActionEscalate       InterventionAction = "escalate"
)

// Valid reports whether a is a known intervention action
func (a InterventionAction) Valid() bool {
	switch a {
	case ActionHoldWithdrawal, ActionFreezeAccount, ActionRequestInfo, ActionEscalate:
		return true
	}
	return false
}

// Blocking reports whether the action moves the case off the submission path
func (a InterventionAction) Blocking() bool {
	return a == ActionHoldWithdrawal || a == ActionFreezeAccount
}

// DefaultInterventionReason is recorded when the analyst gives no reason
const DefaultInterventionReason = "High risk activity detected"

// Intervention records an account action taken by an analyst. Rationale is mandatory.
type Intervention struct {
	ID        uuid.UUID          `json:"id" db:"id"`
	CaseID    uuid.UUID          `json:"case_id" db:"case_id"`
	AlertID   uuid.UUID          `json:"alert_id" db:"alert_id"`
	Action    InterventionAction `json:"action" db:"action"`
	Reason    string             `json:"reason" db:"reason"`
	Rationale string             `json:"rationale" db:"rationale"`
	Analyst   string             `json:"analyst" db:"analyst"`
	Timestamp time.Time          `json:"timestamp" db:"timestamp"`
}

// AdaptiveThreshold is the current scoring bias for an alert type
type AdaptiveThreshold struct {
	AlertType           string    `json:"alert_type" db:"alert_type"`
	ThresholdAdjustment int       `json:"threshold_adjustment" db:"threshold_adjustment"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}
