// Package governance evaluates the submission preconditions of a case.
package governance

import (
	"strings"

	"github.com/banking/sar-governance/internal/domain"
)

// Order is the fixed evaluation order of the gate. The first unmet kind is
// the one reported by the returned error.
var Order = []domain.GovernanceKind{
	domain.GovernanceCaseNotDraft,
	domain.GovernanceTypologyNotConfirmed,
	domain.GovernanceNoEvidence,
	domain.GovernanceNoValidEvidence,
	domain.GovernanceNoDisposition,
	domain.GovernanceNarrativeMissingTypology,
	domain.GovernanceComplianceBelow100,
}

// Input is everything the gate needs to decide on a case
type Input struct {
	Case            *domain.Case
	Evidence        []domain.EvidenceLink
	FeedbackCount   int
	ComplianceScore int // recomputed, never the stored value
}

// Check is one entry of the checklist
type Check struct {
	Kind    domain.GovernanceKind `json:"kind"`
	Passed  bool                  `json:"passed"`
	Message string                `json:"message"`
}

// Checklist is the gate evaluation in Order
type Checklist []Check

// Passed reports whether every check holds
func (c Checklist) Passed() bool {
	for _, chk := range c {
		if !chk.Passed {
			return false
		}
	}
	return true
}

// Unmet returns the failing kinds in order
func (c Checklist) Unmet() []domain.GovernanceKind {
	var out []domain.GovernanceKind
	for _, chk := range c {
		if !chk.Passed {
			out = append(out, chk.Kind)
		}
	}
	return out
}

// Err returns a GovernanceError naming the first unmet kind, or nil
func (c Checklist) Err() error {
	unmet := c.Unmet()
	if len(unmet) == 0 {
		return nil
	}
	return &domain.GovernanceError{Kind: unmet[0], Unmet: unmet}
}

// Evaluate runs every predicate. It never short-circuits so the checklist is
// complete for display.
func Evaluate(in Input) Checklist {
	results := map[domain.GovernanceKind]bool{
		domain.GovernanceCaseNotDraft:             in.Case.Status == domain.CaseStatusDraft,
		domain.GovernanceTypologyNotConfirmed:     in.Case.TypologyConfirmed,
		domain.GovernanceNoEvidence:               len(in.Evidence) > 0,
		domain.GovernanceNoValidEvidence:          hasValidEvidence(in.Evidence),
		domain.GovernanceNoDisposition:            in.FeedbackCount > 0,
		domain.GovernanceNarrativeMissingTypology: ReferencesTypology(in.Case.SARDraft, in.Case.Typology),
		domain.GovernanceComplianceBelow100:       in.ComplianceScore == 100,
	}
	list := make(Checklist, 0, len(Order))
	for _, kind := range Order {
		list = append(list, Check{Kind: kind, Passed: results[kind], Message: kind.Message()})
	}
	return list
}

// Gate evaluates the case and returns the first unmet precondition as a
// GovernanceError
func Gate(in Input) (Checklist, error) {
	list := Evaluate(in)
	return list, list.Err()
}

// ReferencesTypology reports whether the narrative names the typology by code
// or by its description. Free-form codes without a description must appear
// verbatim.
func ReferencesTypology(narrative string, typology domain.Typology) bool {
	if typology == "" {
		return false
	}
	if strings.Contains(narrative, string(typology)) {
		return true
	}
	desc := typology.Description()
	return desc != "" && strings.Contains(narrative, desc)
}

func hasValidEvidence(links []domain.EvidenceLink) bool {
	for _, l := range links {
		if l.HasEvidence() {
			return true
		}
	}
	return false
}
