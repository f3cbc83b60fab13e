package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertStatus is a projection of the lifecycle of the alert's latest case
type AlertStatus string

const (
	AlertStatusOpen          AlertStatus = "open"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusIntervened    AlertStatus = "intervened"
	AlertStatusClosed        AlertStatus = "closed"
)

// Valid reports whether s is a known alert status
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusOpen, AlertStatusInvestigating, AlertStatusIntervened, AlertStatusClosed:
		return true
	}
	return false
}

// Alert is an automatically raised flag on a customer requiring investigation.
// Alerts are never deleted; their status only changes as a side effect of case actions.
type Alert struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	CustomerID string      `json:"customer_id" db:"customer_id"`
	AlertType  string      `json:"alert_type" db:"alert_type"`
	RiskScore  int         `json:"risk_score" db:"risk_score"` // 0-100, as raised by monitoring
	Status     AlertStatus `json:"status" db:"status"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	AssignedTo *string     `json:"assigned_to,omitempty" db:"assigned_to"`
}

// NewAlert creates an open alert with a generated ID
func NewAlert(customerID, alertType string, riskScore int) *Alert {
	return &Alert{
		ID:         uuid.New(),
		CustomerID: customerID,
		AlertType:  alertType,
		RiskScore:  riskScore,
		Status:     AlertStatusOpen,
		CreatedAt:  time.Now().UTC(),
	}
}

// TransactionType is the kind of account movement
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionTrade      TransactionType = "trade"
	TransactionWithdrawal TransactionType = "withdrawal"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionDeposit, TransactionTrade, TransactionWithdrawal:
		return true
	}
	return false
}

// Transaction is a read-only entry of a customer's transaction history
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	Type        TransactionType `json:"type" db:"type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	IP          string          `json:"ip,omitempty" db:"ip"`
	Description string          `json:"description" db:"description"`

	// Session metadata reported by the channel that originated the transaction
	DeviceFingerprint string `json:"device_fingerprint,omitempty" db:"device_fingerprint"`
	Device            string `json:"device,omitempty" db:"device"`
	Location          string `json:"location,omitempty" db:"location"`
}

// CustomerProfile is the KYC snapshot of the alert subject
type CustomerProfile struct {
	CustomerID    string `json:"customer_id" db:"customer_id"`
	Name          string `json:"name" db:"name"`
	AccountNumber string `json:"account_number" db:"account_number"`
	Email         string `json:"email" db:"email"`
	Phone         string `json:"phone" db:"phone"`
	Address       string `json:"address" db:"address"`
	Occupation    string `json:"occupation" db:"occupation"`
	OnboardedDate string `json:"onboarded_date" db:"onboarded_date"` // YYYY-MM-DD
	RiskRating    string `json:"risk_rating" db:"risk_rating"`
}
