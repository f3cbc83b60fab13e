// Package scoring classifies a customer's transaction history into a risk
// score, a typology, and the evidence behind each cited reason.
//
// Detection is an ordered list of detectors. Exclusive detectors run first; the
// first one that fires short-circuits every lane detector. Otherwise all lane
// detectors run in rule, behavior, network order and their points are summed
// and capped at MaxScore. The typology is the code of the first finding.
package scoring

import (
	"time"

	"github.com/banking/sar-governance/internal/domain"
)

// MaxScore caps the summed lane points
const MaxScore = 100

// Lane groups detectors whose points form one sub-score
type Lane string

const (
	LaneRule     Lane = "rule"
	LaneBehavior Lane = "behavior"
	LaneNetwork  Lane = "network"
)

// Subject is the input every detector evaluates
type Subject struct {
	CustomerID string
	History    []domain.Transaction // ascending by timestamp
	Now        time.Time
}

// Finding is one scoring contribution with its explanation
type Finding struct {
	Lane     Lane
	Points   int
	Code     domain.Typology
	Reason   string
	Evidence *domain.Evidence
}

// Detector evaluates a subject and returns zero or more findings
type Detector interface {
	Name() string
	Detect(s Subject) []Finding
}

// Result is the classification of a history
type Result struct {
	Score      int
	LaneScores map[Lane]int
	Reasons    []domain.Reason
	Evidence   map[domain.Typology]domain.Evidence
	Typology   domain.Typology
	Detector   string // exclusive detector that fired, if any
}

// Exclusive reports whether an exclusive detector produced the result
func (r Result) Exclusive() bool {
	return r.Detector != ""
}

// Engine runs detectors over a history. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	exclusive []Detector
	lanes     []Detector
	now       func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source used for recency windows
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithExclusive appends exclusive detectors, evaluated in order before any lane
func WithExclusive(detectors ...Detector) Option {
	return func(e *Engine) { e.exclusive = append(e.exclusive, detectors...) }
}

// WithLanes replaces the lane detectors
func WithLanes(detectors ...Detector) Option {
	return func(e *Engine) { e.lanes = detectors }
}

// NewEngine creates an engine with the default lane detectors
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		lanes: DefaultLanes(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score classifies the history. It never fails; an empty history scores 0 with
// typology UNKNOWN_PATTERN.
func (e *Engine) Score(customerID string, history []domain.Transaction) Result {
	subject := Subject{CustomerID: customerID, History: history, Now: e.now()}

	for _, d := range e.exclusive {
		if findings := d.Detect(subject); len(findings) > 0 {
			res := aggregate(findings)
			res.Detector = d.Name()
			return res
		}
	}

	var findings []Finding
	for _, d := range e.lanes {
		findings = append(findings, d.Detect(subject)...)
	}
	if len(findings) == 0 {
		findings = []Finding{fallbackFinding(history)}
	}
	return aggregate(findings)
}

func aggregate(findings []Finding) Result {
	res := Result{
		LaneScores: make(map[Lane]int),
		Evidence:   make(map[domain.Typology]domain.Evidence),
		Typology:   domain.TypologyUnknownPattern,
	}
	typologySet := false
	total := 0
	for _, f := range findings {
		total += f.Points
		res.LaneScores[f.Lane] += f.Points
		res.Reasons = append(res.Reasons, domain.Reason{Code: f.Code, Text: f.Reason})
		if f.Evidence != nil {
			res.Evidence[f.Code] = *f.Evidence
		}
		if !typologySet && f.Points > 0 && f.Code.IsKnown() {
			res.Typology = f.Code
			typologySet = true
		}
	}
	res.Score = min(MaxScore, total)
	return res
}

// fallbackFinding guarantees at least one explainable reason
func fallbackFinding(history []domain.Transaction) Finding {
	return Finding{
		Lane:   LaneRule,
		Points: 0,
		Code:   domain.TypologyUnknownPattern,
		Reason: "Unusual transaction pattern detected by monitoring system",
		Evidence: &domain.Evidence{
			Metric: "Pattern flagged by automated monitoring",
			IDs:    transactionIDs(history, 3),
		},
	}
}

func transactionIDs(history []domain.Transaction, limit int) []string {
	ids := make([]string, 0, min(limit, len(history)))
	for _, t := range history {
		if len(ids) == limit {
			break
		}
		ids = append(ids, t.ID)
	}
	return ids
}
