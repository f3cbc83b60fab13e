package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrImmutabilityViolation is returned for any attempt to mutate a sealed
// audit entry, submission, or submitted case.
var ErrImmutabilityViolation = errors.New("immutability violation")

// ImmutabilityViolation wraps ErrImmutabilityViolation with what was targeted
func ImmutabilityViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrImmutabilityViolation, fmt.Sprintf(format, args...))
}

// ValidationError reports missing or malformed caller input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports a referenced alert or case that does not exist
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NewNotFoundError creates a NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// GovernanceKind names one unmet submission precondition
type GovernanceKind string

const (
	GovernanceCaseNotDraft             GovernanceKind = "case_not_draft"
	GovernanceTypologyNotConfirmed     GovernanceKind = "typology_not_confirmed"
	GovernanceNoEvidence               GovernanceKind = "no_evidence"
	GovernanceNoValidEvidence          GovernanceKind = "no_valid_evidence"
	GovernanceNoDisposition            GovernanceKind = "no_disposition"
	GovernanceNarrativeMissingTypology GovernanceKind = "narrative_missing_typology_reference"
	GovernanceComplianceBelow100       GovernanceKind = "compliance_below_100"
)

var governanceMessages = map[GovernanceKind]string{
	GovernanceCaseNotDraft:             "Case is not in draft state",
	GovernanceTypologyNotConfirmed:     "Typology must be confirmed before submission",
	GovernanceNoEvidence:               "At least one explainability reason with evidence must be attached",
	GovernanceNoValidEvidence:          "At least one reason must have non-empty evidence ids",
	GovernanceNoDisposition:            "Analyst disposition must be recorded before submission",
	GovernanceNarrativeMissingTypology: "SAR narrative must include the typology code or description",
	GovernanceComplianceBelow100:       "Compliance score must be 100 before submission",
}

// Message returns the user-facing text for the kind
func (k GovernanceKind) Message() string {
	if msg, ok := governanceMessages[k]; ok {
		return msg
	}
	return string(k)
}

// GovernanceError names the first unmet submission precondition and lists all of them
type GovernanceError struct {
	Kind  GovernanceKind
	Unmet []GovernanceKind
}

func (e *GovernanceError) Error() string {
	if len(e.Unmet) <= 1 {
		return fmt.Sprintf("governance gate: %s", e.Kind)
	}
	kinds := make([]string, 0, len(e.Unmet))
	for _, k := range e.Unmet {
		kinds = append(kinds, string(k))
	}
	return fmt.Sprintf("governance gate: %s (unmet: %s)", e.Kind, strings.Join(kinds, ", "))
}

// Has reports whether kind is among the unmet preconditions
func (e *GovernanceError) Has(kind GovernanceKind) bool {
	for _, k := range e.Unmet {
		if k == kind {
			return true
		}
	}
	return false
}

// IntegrityError reports a uniqueness violation on a sealed record
type IntegrityError struct {
	Constraint string
	Value      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation: duplicate %s %q", e.Constraint, e.Value)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsGovernance extracts a GovernanceError from err
func AsGovernance(err error) (*GovernanceError, bool) {
	var ge *GovernanceError
	ok := errors.As(err, &ge)
	return ge, ok
}

// IsIntegrity reports whether err is an IntegrityError
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
