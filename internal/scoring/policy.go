package scoring

import (
	"math"
	"time"

	"github.com/banking/sar-governance/internal/domain"
)

// ScorePolicy decides which score is authoritative when the computed score and
// the score the alert was raised with disagree.
type ScorePolicy string

const (
	// ScorePolicyComputed always trusts the engine's score
	ScorePolicyComputed ScorePolicy = "computed"
	// ScorePolicyAlertFloor trusts the alert's stored score when the computed
	// score falls below the configured floor
	ScorePolicyAlertFloor ScorePolicy = "alert_floor"
)

// Resolve returns the authoritative score and where it came from
func (p ScorePolicy) Resolve(computed, alertScore, floor int) (int, domain.ScoreSource) {
	if p == ScorePolicyAlertFloor && computed < floor {
		return alertScore, domain.ScoreSourceAlert
	}
	return computed, domain.ScoreSourceComputed
}

// Analyzer turns an engine result into the risk analysis stored with a case
type Analyzer struct {
	Engine     *Engine
	Policy     ScorePolicy
	ScoreFloor int
	Now        func() time.Time
}

// Analyze scores the history of the alert subject. The alert type takes
// precedence over the computed typology only when it names MICRO_FRAGMENTATION
// or when no detector fired.
func (a *Analyzer) Analyze(alert *domain.Alert, history []domain.Transaction, adjustment int) domain.RiskAnalysis {
	res := a.Engine.Score(alert.CustomerID, history)
	score, source := a.Policy.Resolve(res.Score, alert.RiskScore, a.ScoreFloor)

	typology := res.Typology
	if fromAlert := domain.TypologyFromAlertType(alert.AlertType); fromAlert == domain.TypologyMicroFragmentation ||
		(typology == domain.TypologyUnknownPattern && fromAlert != domain.TypologyUnknownPattern) {
		typology = fromAlert
	}

	now := time.Now().UTC()
	if a.Now != nil {
		now = a.Now()
	}
	return domain.RiskAnalysis{
		SchemaVersion:       domain.SchemaVersion,
		Score:               score,
		ComputedScore:       res.Score,
		ScoreSource:         source,
		Reasons:             res.Reasons,
		Evidence:            res.Evidence,
		Typology:            typology,
		NewTypology:         res.Exclusive(),
		VelocityMultiplier:  VelocityMultiplier(history, now),
		ThresholdAdjustment: adjustment,
	}
}

// VelocityMultiplier compares the last 7 days of activity with the average
// weekly count of the older history. It is 1.0 when there is no older history.
func VelocityMultiplier(history []domain.Transaction, now time.Time) float64 {
	recent := len(RecentTransactions(history, now, VelocityWindow))
	baseline := weeklyBaseline(history, now)
	if baseline == 0 {
		return 1.0
	}
	return math.Round(float64(recent)/baseline*10) / 10
}

// weeklyBaseline is the average number of transactions per week before the
// velocity window, 0 when the whole history is recent
func weeklyBaseline(history []domain.Transaction, now time.Time) float64 {
	cutoff := now.Add(-VelocityWindow)
	older := 0
	var first time.Time
	for _, t := range history {
		if t.Timestamp.Before(cutoff) {
			if older == 0 {
				first = t.Timestamp
			}
			older++
		}
	}
	if older == 0 {
		return 0
	}
	weeks := cutoff.Sub(first).Hours() / (24 * 7)
	if weeks < 1 {
		weeks = 1
	}
	return float64(older) / weeks
}
