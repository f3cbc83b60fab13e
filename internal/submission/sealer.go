// Package submission builds the sealed, checksummed SAR submission record.
package submission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/banking/sar-governance/internal/domain"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// DefaultPrefix is the namespace of submission identifiers
const DefaultPrefix = "SAR-"

const tokenLength = 8

// NewID returns prefix followed by 8 uppercase hex characters
func NewID(prefix string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:tokenLength]
	return prefix + strings.ToUpper(token)
}

// Checksum is the hex SHA-256 of the RFC 8785 canonical form of the payload
func Checksum(p domain.SubmissionPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal submission payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize submission payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Sealer assembles submissions for cases that passed the governance gate
type Sealer struct {
	Prefix string
	Now    func() time.Time
}

// NewSealer creates a sealer using prefix for submission ids
func NewSealer(prefix string) *Sealer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Sealer{Prefix: prefix, Now: time.Now}
}

// Seal builds the payload snapshot of c and its checksum
func (s *Sealer) Seal(c *domain.Case, complianceScore int, analyst string) (*domain.Submission, error) {
	payload := domain.SubmissionPayload{
		SubmissionID:    NewID(s.Prefix),
		CaseID:          c.ID,
		Typology:        c.Typology,
		Narrative:       c.SARDraft,
		EnrichedData:    c.EnrichedData,
		ComplianceScore: complianceScore,
		Analyst:         analyst,
	}
	sum, err := Checksum(payload)
	if err != nil {
		return nil, err
	}
	return &domain.Submission{
		CaseID:       c.ID,
		SubmissionID: payload.SubmissionID,
		Checksum:     sum,
		Payload:      payload,
		SubmittedAt:  s.Now().UTC().Truncate(time.Microsecond),
	}, nil
}
