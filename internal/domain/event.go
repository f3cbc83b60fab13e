package domain

import (
	"time"

	"github.com/google/uuid"
)

// CaseEventType names a lifecycle event published after a case mutation commits
type CaseEventType string

const (
	EventCaseOpened     CaseEventType = "case_opened"
	EventCaseIntervened CaseEventType = "case_intervened"
	EventCaseReopened   CaseEventType = "case_reopened"
	EventSARSubmitted   CaseEventType = "sar_submitted"
)

// CaseEvent is the message published to downstream consumers
type CaseEvent struct {
	EventID      uuid.UUID     `json:"event_id"`
	Type         CaseEventType `json:"event_type"`
	CaseID       uuid.UUID     `json:"case_id"`
	AlertID      uuid.UUID     `json:"alert_id"`
	CustomerID   string        `json:"customer_id"`
	Typology     Typology      `json:"typology"`
	Status       CaseStatus    `json:"status"`
	Analyst      string        `json:"analyst,omitempty"`
	SubmissionID string        `json:"submission_id,omitempty"`
	Checksum     string        `json:"checksum,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

// NewCaseEvent builds an event describing the current state of c
func NewCaseEvent(t CaseEventType, c *Case, analyst string) CaseEvent {
	return CaseEvent{
		EventID:    uuid.New(),
		Type:       t,
		CaseID:     c.ID,
		AlertID:    c.AlertID,
		CustomerID: c.EnrichedData.Customer.CustomerID,
		Typology:   c.Typology,
		Status:     c.Status,
		Analyst:    analyst,
		OccurredAt: time.Now().UTC(),
	}
}
