package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func txn(id string, typ domain.TransactionType, amount int64, ts time.Time, ip string) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		Type:        typ,
		Amount:      decimal.NewFromInt(amount),
		Timestamp:   ts,
		IP:          ip,
		Description: string(typ) + " transaction",
	}
}

func newTestEngine(opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewEngine(opts...)
}

func TestScore_RapidMovementTriple(t *testing.T) {
	start := testNow.Add(-30 * 24 * time.Hour)
	history := []domain.Transaction{
		txn("TXN-1", domain.TransactionDeposit, 10000, start, "10.0.0.1"),
		txn("TXN-2", domain.TransactionTrade, 0, start.Add(10*time.Minute), "10.0.0.2"),
		txn("TXN-3", domain.TransactionWithdrawal, 9600, start.Add(20*time.Minute), "10.0.0.3"),
	}

	res := newTestEngine().Score("CUST-8821", history)

	assert.Equal(t, 35, res.Score)
	assert.Equal(t, domain.TypologyRapidMovement, res.Typology)
	assert.Equal(t, 35, res.LaneScores[LaneRule])
	require.Len(t, res.Reasons, 1)
	assert.Equal(t, domain.TypologyRapidMovement, res.Reasons[0].Code)

	ev, ok := res.Evidence[domain.TypologyRapidMovement]
	require.True(t, ok)
	assert.Equal(t, []string{"TXN-1", "TXN-2", "TXN-3"}, ev.IDs)
	assert.Contains(t, ev.Metric, "20 min")
	assert.False(t, res.Exclusive())
}

func TestScore_OnlyFirstTripleCounts(t *testing.T) {
	start := testNow.Add(-30 * 24 * time.Hour)
	var history []domain.Transaction
	for i := 0; i < 2; i++ {
		base := start.Add(time.Duration(i) * time.Hour)
		history = append(history,
			txn(fmt.Sprintf("D%d", i), domain.TransactionDeposit, 100, base, "1.1.1.1"),
			txn(fmt.Sprintf("T%d", i), domain.TransactionTrade, 100, base.Add(time.Minute), "1.1.1.2"),
			txn(fmt.Sprintf("W%d", i), domain.TransactionWithdrawal, 100, base.Add(2*time.Minute), "1.1.1.3"),
		)
	}

	res := newTestEngine().Score("CUST-1", history)

	assert.Equal(t, 35, res.Score)
	assert.Equal(t, []string{"D0", "T0", "W0"}, res.Evidence[domain.TypologyRapidMovement].IDs)
}

func TestScore_LayeringDoesNotOverrideRapidMovement(t *testing.T) {
	start := testNow.Add(-60 * 24 * time.Hour)
	history := []domain.Transaction{
		txn("TXN-1", domain.TransactionDeposit, 60000, start, "10.0.0.1"),
		txn("TXN-2", domain.TransactionTrade, 60000, start.Add(time.Hour), "10.0.0.2"),
		txn("TXN-3", domain.TransactionWithdrawal, 59500, start.Add(2*time.Hour), "10.0.0.3"),
	}

	res := newTestEngine().Score("CUST-1", history)

	assert.Equal(t, 60, res.Score)
	assert.Equal(t, domain.TypologyRapidMovement, res.Typology)
	require.Len(t, res.Reasons, 2)
	assert.Equal(t, domain.TypologyLayering, res.Reasons[1].Code)
	assert.Equal(t, "$60,000 in, $59,500 out (profit margin <5%)", res.Evidence[domain.TypologyLayering].Metric)
	assert.Equal(t, []string{"TXN-1", "TXN-3"}, res.Evidence[domain.TypologyLayering].IDs)
}

func TestScore_LayeringAlone(t *testing.T) {
	start := testNow.Add(-60 * 24 * time.Hour)
	history := []domain.Transaction{
		txn("TXN-1", domain.TransactionDeposit, 30000, start, "10.0.0.1"),
		txn("TXN-2", domain.TransactionDeposit, 30000, start.Add(time.Hour), "10.0.0.2"),
		txn("TXN-3", domain.TransactionWithdrawal, 61000, start.Add(2*time.Hour), "10.0.0.3"),
	}

	res := newTestEngine().Score("CUST-1", history)

	assert.Equal(t, 25, res.Score)
	assert.Equal(t, domain.TypologyLayering, res.Typology)
}

func TestScore_LayeringRequiresTightMargin(t *testing.T) {
	start := testNow.Add(-60 * 24 * time.Hour)
	history := []domain.Transaction{
		txn("TXN-1", domain.TransactionDeposit, 60000, start, "10.0.0.1"),
		txn("TXN-2", domain.TransactionWithdrawal, 40000, start.Add(time.Hour), "10.0.0.2"),
	}

	res := newTestEngine().Score("CUST-1", history)

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, domain.TypologyUnknownPattern, res.Typology)
}

func TestScore_VelocitySpike(t *testing.T) {
	var history []domain.Transaction
	for i := 0; i < 16; i++ {
		ts := testNow.Add(-time.Duration(16-i) * 6 * time.Hour)
		history = append(history, txn(fmt.Sprintf("TXN-%d", i), domain.TransactionTrade, 1000, ts, fmt.Sprintf("10.0.0.%d", i)))
	}

	res := newTestEngine().Score("CUST-7734", history)

	assert.Equal(t, 30, res.Score)
	assert.Equal(t, domain.TypologyVelocitySpike, res.Typology)
	assert.Equal(t, 30, res.LaneScores[LaneBehavior])
	assert.Len(t, res.Evidence[domain.TypologyVelocitySpike].IDs, 5)
	assert.Equal(t, "Velocity spike: 16 txns in 7 days", res.Reasons[0].Text)
}

func TestScore_VelocityIgnoresOldTransactions(t *testing.T) {
	var history []domain.Transaction
	for i := 0; i < 16; i++ {
		ts := testNow.Add(-8*24*time.Hour - time.Duration(i)*time.Hour)
		history = append(history, txn(fmt.Sprintf("TXN-%d", i), domain.TransactionTrade, 1000, ts, fmt.Sprintf("10.0.0.%d", i)))
	}

	res := newTestEngine().Score("CUST-1", history)

	assert.Zero(t, res.LaneScores[LaneBehavior])
}

func TestRecentTransactions_WindowBoundary(t *testing.T) {
	history := []domain.Transaction{
		txn("OUTSIDE", domain.TransactionTrade, 100, testNow.Add(-VelocityWindow-time.Hour), ""),
		txn("EDGE", domain.TransactionTrade, 100, testNow.Add(-VelocityWindow), ""),
		txn("INSIDE", domain.TransactionTrade, 100, testNow.Add(-VelocityWindow+time.Nanosecond), ""),
	}

	recent := RecentTransactions(history, testNow, VelocityWindow)

	require.Len(t, recent, 2, "the window is exactly 7x24h, a transaction 7 days and 1 hour old is outside it")
	assert.Equal(t, "EDGE", recent[0].ID)
	assert.Equal(t, "INSIDE", recent[1].ID)
}

func TestScore_VelocityWindowExcludesSevenDaysAndOneHour(t *testing.T) {
	var history []domain.Transaction
	for i := 0; i < 16; i++ {
		ts := testNow.Add(-VelocityWindow - time.Hour + time.Duration(i)*time.Minute)
		history = append(history, txn(fmt.Sprintf("TXN-%d", i), domain.TransactionTrade, 1000, ts, "10.0.0.1"))
	}
	assert.Zero(t, newTestEngine().Score("CUST-1", history).LaneScores[LaneBehavior])

	// One hour later the oldest transaction sits exactly on the boundary
	for i := range history {
		history[i].Timestamp = history[i].Timestamp.Add(time.Hour)
	}
	assert.Equal(t, 30, newTestEngine().Score("CUST-1", history).LaneScores[LaneBehavior])
}

func TestScore_NetworkLink(t *testing.T) {
	start := testNow.Add(-60 * 24 * time.Hour)
	var history []domain.Transaction
	for i := 0; i < 12; i++ {
		ip := "192.168.1.2"
		if i%2 == 0 {
			ip = "192.168.1.1"
		}
		history = append(history, txn(fmt.Sprintf("TXN-%d", i), domain.TransactionTrade, 500, start.Add(time.Duration(i)*time.Hour), ip))
	}

	res := newTestEngine().Score("CUST-3309", history)

	assert.Equal(t, 20, res.Score)
	assert.Equal(t, domain.TypologyNetworkLink, res.Typology)
	assert.Equal(t, []string{"192.168.1.1", "192.168.1.2", "TXN-0"}, res.Evidence[domain.TypologyNetworkLink].IDs)
	assert.Equal(t, "2 unique IPs across 12 txns", res.Evidence[domain.TypologyNetworkLink].Metric)
}

func TestScore_AllLanesCappedAt100(t *testing.T) {
	var history []domain.Transaction
	base := testNow.Add(-2 * 24 * time.Hour)
	history = append(history,
		txn("TXN-D", domain.TransactionDeposit, 60000, base, "10.5.5.1"),
		txn("TXN-T", domain.TransactionTrade, 60000, base.Add(time.Minute), "10.5.5.1"),
		txn("TXN-W", domain.TransactionWithdrawal, 59500, base.Add(2*time.Minute), "10.5.5.1"),
	)
	for i := 0; i < 13; i++ {
		history = append(history, txn(fmt.Sprintf("TXN-%d", i), domain.TransactionTrade, 100, base.Add(time.Duration(i+3)*time.Minute), "10.5.5.1"))
	}

	res := newTestEngine().Score("CUST-1", history)

	assert.Equal(t, 100, res.Score)
	assert.Equal(t, 60, res.LaneScores[LaneRule])
	assert.Equal(t, 30, res.LaneScores[LaneBehavior])
	assert.Equal(t, 20, res.LaneScores[LaneNetwork])
	assert.Equal(t, domain.TypologyRapidMovement, res.Typology)
	assert.Len(t, res.Reasons, 4)
}

func TestScore_EmptyHistory(t *testing.T) {
	res := newTestEngine().Score("CUST-1", nil)

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, domain.TypologyUnknownPattern, res.Typology)
	require.Len(t, res.Reasons, 1)
	assert.Equal(t, domain.TypologyUnknownPattern, res.Reasons[0].Code)
	assert.Empty(t, res.Evidence[domain.TypologyUnknownPattern].IDs)
}

func TestScore_FallbackCitesFirstThree(t *testing.T) {
	start := testNow.Add(-60 * 24 * time.Hour)
	history := []domain.Transaction{
		txn("A", domain.TransactionTrade, 10, start, ""),
		txn("B", domain.TransactionTrade, 10, start.Add(time.Hour), ""),
		txn("C", domain.TransactionTrade, 10, start.Add(2*time.Hour), ""),
		txn("D", domain.TransactionTrade, 10, start.Add(3*time.Hour), ""),
	}

	res := newTestEngine().Score("CUST-1", history)

	assert.Equal(t, []string{"A", "B", "C"}, res.Evidence[domain.TypologyUnknownPattern].IDs)
}

func TestScore_MicroFragmentationShortCircuits(t *testing.T) {
	var history []domain.Transaction
	base := testNow.Add(-2 * 24 * time.Hour)
	for i := 0; i < 20; i++ {
		history = append(history, txn(fmt.Sprintf("TXN-%d", 2000+i), domain.TransactionDeposit, 450, base.Add(time.Duration(i)*time.Hour), "10.5.5.1"))
	}
	engine := newTestEngine(WithExclusive(NewMicroFragmentation("CUST-4455")))

	res := engine.Score("CUST-4455", history)

	assert.True(t, res.Exclusive())
	assert.Equal(t, "micro_fragmentation", res.Detector)
	assert.Equal(t, 89, res.Score)
	assert.Equal(t, 25, res.LaneScores[LaneRule])
	assert.Equal(t, 35, res.LaneScores[LaneBehavior])
	assert.Equal(t, 29, res.LaneScores[LaneNetwork])
	assert.Equal(t, domain.TypologyMicroFragmentation, res.Typology)
	assert.Len(t, res.Reasons, 3)
	assert.Equal(t, []string{"DEV-A8F2", "IP-10.5.5.1"}, res.Evidence[domain.TypologyNetworkLink].IDs)
	assert.Len(t, res.Evidence[domain.TypologyMicroFragmentation].IDs, 5)

	other := engine.Score("CUST-0001", history)
	assert.False(t, other.Exclusive())
	assert.Equal(t, domain.TypologyVelocitySpike, other.Typology)
}

func TestScore_Deterministic(t *testing.T) {
	start := testNow.Add(-3 * 24 * time.Hour)
	var history []domain.Transaction
	for i := 0; i < 20; i++ {
		history = append(history, txn(fmt.Sprintf("TXN-%d", i), domain.TransactionTrade, 100, start.Add(time.Duration(i)*time.Hour), fmt.Sprintf("10.0.0.%d", i%2)))
	}
	engine := newTestEngine()

	first := engine.Score("CUST-1", history)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, engine.Score("CUST-1", history))
	}
}

func TestScorePolicy_Resolve(t *testing.T) {
	score, src := ScorePolicyComputed.Resolve(20, 94, 50)
	assert.Equal(t, 20, score)
	assert.Equal(t, domain.ScoreSourceComputed, src)

	score, src = ScorePolicyAlertFloor.Resolve(20, 94, 50)
	assert.Equal(t, 94, score)
	assert.Equal(t, domain.ScoreSourceAlert, src)

	score, src = ScorePolicyAlertFloor.Resolve(65, 94, 50)
	assert.Equal(t, 65, score)
	assert.Equal(t, domain.ScoreSourceComputed, src)
}

func TestAnalyzer_AlertTypePrecedence(t *testing.T) {
	analyzer := &Analyzer{
		Engine:     newTestEngine(),
		Policy:     ScorePolicyComputed,
		ScoreFloor: 50,
		Now:        func() time.Time { return testNow },
	}
	quiet := []domain.Transaction{txn("A", domain.TransactionTrade, 10, testNow.Add(-40*24*time.Hour), "")}

	structuring := analyzer.Analyze(&domain.Alert{CustomerID: "CUST-5512", AlertType: "Structuring", RiskScore: 87}, quiet, 5)
	assert.Equal(t, domain.TypologyStructuring, structuring.Typology)
	assert.Equal(t, 5, structuring.ThresholdAdjustment)
	assert.Equal(t, domain.SchemaVersion, structuring.SchemaVersion)

	unusual := analyzer.Analyze(&domain.Alert{CustomerID: "CUST-2201", AlertType: "Unusual Pattern", RiskScore: 52}, quiet, 0)
	assert.Equal(t, domain.TypologyUnknownPattern, unusual.Typology)

	newType := analyzer.Analyze(&domain.Alert{CustomerID: "CUST-9", AlertType: "NEW TYPOLOGY", RiskScore: 89}, quiet, 0)
	assert.Equal(t, domain.TypologyMicroFragmentation, newType.Typology)
}

func TestVelocityMultiplier(t *testing.T) {
	var history []domain.Transaction
	// 4 transactions spread over the 4 weeks before the window
	for i := 0; i < 4; i++ {
		history = append(history, txn(fmt.Sprintf("OLD-%d", i), domain.TransactionTrade, 10, testNow.Add(-VelocityWindow-time.Duration(28-7*i)*24*time.Hour), ""))
	}
	for i := 0; i < 8; i++ {
		history = append(history, txn(fmt.Sprintf("NEW-%d", i), domain.TransactionTrade, 10, testNow.Add(-time.Duration(i+1)*time.Hour), ""))
	}

	assert.Equal(t, 8.0, VelocityMultiplier(history, testNow))
	assert.Equal(t, 1.0, VelocityMultiplier(history[4:], testNow))
}
