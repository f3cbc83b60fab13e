// Package compliance measures how complete a SAR draft and its supporting
// data are against the fixed required-field checklist.
package compliance

import (
	"math"
	"strings"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/shopspring/decimal"
)

// Required field names, in checklist order
const (
	FieldCustomerID       = "customer_id"
	FieldAccountNumber    = "account_number"
	FieldCustomerName     = "customer_name"
	FieldTransactionCount = "transaction_count"
	FieldTotalAmount      = "total_amount"
	FieldTimePeriod       = "time_period"
	FieldReasons          = "suspicious_pattern_reasons"
	FieldNarrative        = "narrative_text"
)

// RequiredFields is the fixed checklist
var RequiredFields = []string{
	FieldCustomerID,
	FieldAccountNumber,
	FieldCustomerName,
	FieldTransactionCount,
	FieldTotalAmount,
	FieldTimePeriod,
	FieldReasons,
	FieldNarrative,
}

// Field is one checklist entry with the value it was evaluated on
type Field struct {
	Name    string `json:"name"`
	Value   any    `json:"value"`
	Present bool   `json:"present"`
}

// Result is the outcome of a compliance check
type Result struct {
	Score   int      `json:"compliance_score"`
	Missing []string `json:"missing_fields"`
	Fields  []Field  `json:"sar_required_fields"`
}

// Complete reports whether no required field is missing
func (r Result) Complete() bool {
	return len(r.Missing) == 0
}

// Check evaluates the checklist. It is pure and deterministic.
func Check(draft string, data domain.EnrichedData, risk domain.RiskAnalysis) Result {
	history := data.Transactions
	total := decimal.Zero
	for _, t := range history {
		total = total.Add(t.Amount)
	}
	period := ""
	if len(history) > 0 {
		period = history[0].Timestamp.Format("2006-01-02") + " to " + history[len(history)-1].Timestamp.Format("2006-01-02")
	}
	reasons := risk.ReasonTexts()

	fields := []Field{
		{Name: FieldCustomerID, Value: data.Customer.CustomerID, Present: notBlank(data.Customer.CustomerID)},
		{Name: FieldAccountNumber, Value: data.Customer.AccountNumber, Present: notBlank(data.Customer.AccountNumber)},
		{Name: FieldCustomerName, Value: data.Customer.Name, Present: notBlank(data.Customer.Name)},
		{Name: FieldTransactionCount, Value: len(history), Present: len(history) > 0},
		{Name: FieldTotalAmount, Value: total.String(), Present: total.IsPositive()},
		{Name: FieldTimePeriod, Value: period, Present: period != ""},
		{Name: FieldReasons, Value: reasons, Present: len(reasons) > 0},
		{Name: FieldNarrative, Value: draft, Present: notBlank(draft)},
	}

	res := Result{Fields: fields, Missing: []string{}}
	for _, f := range fields {
		if !f.Present {
			res.Missing = append(res.Missing, f.Name)
		}
	}
	present := len(fields) - len(res.Missing)
	res.Score = int(math.Round(100 * float64(present) / float64(len(fields))))
	return res
}

func notBlank(s string) bool {
	return strings.TrimSpace(s) != ""
}
