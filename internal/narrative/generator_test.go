package narrative

import (
	"testing"
	"time"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCustomer() domain.CustomerProfile {
	return domain.CustomerProfile{
		CustomerID:    "CUST-8821",
		Name:          "John Doe 8821",
		AccountNumber: "ACC-8821-9821",
		Occupation:    "Software Engineer",
		OnboardedDate: "2024-03-15",
	}
}

func testHistory() []domain.Transaction {
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	return []domain.Transaction{
		{ID: "TXN-1", Type: domain.TransactionDeposit, Amount: decimal.NewFromInt(10000), Timestamp: start},
		{ID: "TXN-2", Type: domain.TransactionTrade, Amount: decimal.NewFromInt(2500), Timestamp: start.Add(10 * time.Minute)},
		{ID: "TXN-3", Type: domain.TransactionWithdrawal, Amount: decimal.NewFromInt(9600), Timestamp: start.Add(72 * time.Hour)},
	}
}

func TestGenerate_StandardCitesEvidenceByCode(t *testing.T) {
	risk := domain.RiskAnalysis{
		Typology: domain.TypologyRapidMovement,
		Reasons: []domain.Reason{
			{Code: domain.TypologyRapidMovement, Text: "Rapid deposit-trade-withdrawal sequence"},
			{Code: domain.TypologyVelocitySpike, Text: "Velocity spike: 16 txns in 7 days"},
		},
		Evidence: map[domain.Typology]domain.Evidence{
			domain.TypologyVelocitySpike: {Metric: "m", IDs: []string{"V1", "V2", "V3", "V4", "V5"}},
			domain.TypologyRapidMovement: {Metric: "m", IDs: []string{"TXN-1", "TXN-2", "TXN-3"}},
		},
		VelocityMultiplier: 3.2,
	}

	text, err := NewGenerator().Generate(testCustomer(), testHistory(), risk)
	require.NoError(t, err)

	assert.Contains(t, text, "Subject: John Doe 8821 (ID: CUST-8821)")
	assert.Contains(t, text, "Period: 2026-01-05 to 2026-01-08")
	assert.Contains(t, text, "Over a 4-day period, the subject conducted 3 transactions totaling $22,100.00.")
	assert.Contains(t, text, "- Rapid deposit-trade-withdrawal sequence [Evidence: TXN-1, TXN-2, TXN-3]")
	assert.Contains(t, text, "- Velocity spike: 16 txns in 7 days [Evidence: V1, V2, V3]")
	assert.NotContains(t, text, "V4")
	assert.Contains(t, text, "3.2x")
	assert.Contains(t, text, "RAPID_MOVEMENT")
	assert.NotContains(t, text, "NEW TYPOLOGY DETECTED")
}

func TestGenerate_ReasonWithoutEvidenceHasNoCitation(t *testing.T) {
	risk := domain.RiskAnalysis{
		Typology: domain.TypologyUnknownPattern,
		Reasons:  []domain.Reason{{Code: "CUSTOM", Text: "Analyst-observed pattern"}},
	}

	text, err := NewGenerator().Generate(testCustomer(), testHistory(), risk)
	require.NoError(t, err)

	assert.Contains(t, text, "- Analyst-observed pattern\n")
	assert.NotContains(t, text, "[Evidence:")
}

func TestGenerate_DiscoveryTemplate(t *testing.T) {
	risk := domain.RiskAnalysis{
		Typology:    domain.TypologyMicroFragmentation,
		NewTypology: true,
		Reasons: []domain.Reason{
			{Code: domain.TypologyMicroFragmentation, Text: "Micro-transaction fragmentation pattern (NEW)"},
			{Code: "BEHAVIOR_ANOMALY", Text: "Anomalous: 3 micro-txns"},
			{Code: domain.TypologyNetworkLink, Text: "Network: 8 linked accounts sharing device fingerprint + timing correlation"},
		},
		Evidence: map[domain.Typology]domain.Evidence{
			domain.TypologyMicroFragmentation: {IDs: []string{"TXN-1", "TXN-2"}},
			domain.TypologyNetworkLink:        {IDs: []string{"DEV-A8F2", "IP-10.5.5.1"}},
		},
	}

	text, err := NewGenerator().Generate(testCustomer(), testHistory(), risk)
	require.NoError(t, err)

	assert.Contains(t, text, "NEW TYPOLOGY DETECTED")
	assert.Contains(t, text, "averaging $7,366.67 each, totaling $22,100.00. [Evidence: TXN-1, TXN-2]")
	assert.Contains(t, text, "synchronized transaction timing. [Evidence: DEV-A8F2, IP-10.5.5.1]")
	assert.Contains(t, text, "MICRO_FRAGMENTATION")
}

func TestGenerate_EmptyHistory(t *testing.T) {
	_, err := NewGenerator().Generate(testCustomer(), nil, domain.RiskAnalysis{})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestCite(t *testing.T) {
	ev := map[domain.Typology]domain.Evidence{
		domain.TypologyLayering:    {IDs: []string{"A", "B", "C", "D"}},
		domain.TypologyNetworkLink: {IDs: nil},
	}
	assert.Equal(t, " [Evidence: A, B, C]", Cite(ev, domain.TypologyLayering))
	assert.Equal(t, "", Cite(ev, domain.TypologyNetworkLink))
	assert.Equal(t, "", Cite(ev, domain.TypologyRapidMovement))
}

func TestMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "$0.00"},
		{"999.5", "$999.50"},
		{"1000", "$1,000.00"},
		{"7366.666", "$7,366.67"},
		{"123456789.005", "$123,456,789.01"},
		{"-4500.1", "-$4,500.10"},
		// beyond float64 precision
		{"12345678901234567.89", "$12,345,678,901,234,567.89"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, money(decimal.RequireFromString(tt.in)))
		})
	}
}
