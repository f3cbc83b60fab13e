// Package ledger appends and verifies the per-case audit trail. Entries are
// chained by hash to their predecessor and signed with the keyring's secret;
// there is no operation that modifies or removes an entry.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/banking/sar-governance/internal/crypto"
	"github.com/banking/sar-governance/internal/domain"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Store is the append-only persistence the ledger writes through. It is
// normally a transaction-scoped handle so the entry commits with the change
// it documents.
type Store interface {
	LastAuditEntry(ctx context.Context, caseID uuid.UUID) (*domain.AuditEntry, error)
	AppendAuditEntry(ctx context.Context, entry *domain.AuditEntry) error
}

// Ledger seals and verifies audit entries
type Ledger struct {
	keys *crypto.Keyring
}

// New creates a ledger signing with keys
func New(keys *crypto.Keyring) *Ledger {
	return &Ledger{keys: keys}
}

// Append seals entry against the case's current head and persists it
func (l *Ledger) Append(ctx context.Context, store Store, entry *domain.AuditEntry) error {
	head, err := store.LastAuditEntry(ctx, entry.CaseID)
	if err != nil {
		return fmt.Errorf("failed to read ledger head: %w", err)
	}
	if err := l.Seal(head, entry); err != nil {
		return err
	}
	if err := store.AppendAuditEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Seal fills the sequence, chain hash and signature of entry. head is the
// latest entry of the same case, or nil for the first one.
func (l *Ledger) Seal(head, entry *domain.AuditEntry) error {
	entry.Sequence = 1
	entry.PrevHash = ""
	if head != nil {
		entry.Sequence = head.Sequence + 1
		entry.PrevHash = head.Hash
	}
	entry.Timestamp = entry.Timestamp.UTC()

	body, err := canonical(entry)
	if err != nil {
		return err
	}
	entry.Hash = crypto.ChainHash(entry.PrevHash, body)
	entry.KeyVersion = l.keys.KeyVersion()
	entry.Signature = l.keys.Sign(signedFields(entry)...)
	return nil
}

// Verify walks a case's entries in sequence order and recomputes every link.
// Any gap, reordering, content change or bad signature is reported as an
// immutability violation.
func (l *Ledger) Verify(entries []domain.AuditEntry) error {
	prevHash := ""
	for i := range entries {
		e := entries[i]
		if e.Sequence != int64(i+1) {
			return domain.ImmutabilityViolation("audit entry %s: sequence %d, expected %d", e.ID, e.Sequence, i+1)
		}
		if e.PrevHash != prevHash {
			return domain.ImmutabilityViolation("audit entry %s: chain broken at sequence %d", e.ID, e.Sequence)
		}
		body, err := canonical(&e)
		if err != nil {
			return err
		}
		if crypto.ChainHash(prevHash, body) != e.Hash {
			return domain.ImmutabilityViolation("audit entry %s: content hash mismatch", e.ID)
		}
		if !l.keys.VerifySignature(e.Signature, signedFields(&e)...) {
			return domain.ImmutabilityViolation("audit entry %s: signature invalid", e.ID)
		}
		prevHash = e.Hash
	}
	return nil
}

type canonicalEntry struct {
	ID          string          `json:"id"`
	CaseID      string          `json:"case_id"`
	Sequence    int64           `json:"sequence"`
	Analyst     string          `json:"analyst"`
	Action      string          `json:"action"`
	Details     json.RawMessage `json:"details"`
	BeforeValue *string         `json:"before_value"`
	AfterValue  *string         `json:"after_value"`
	Timestamp   string          `json:"timestamp"`
	PrevHash    string          `json:"prev_hash"`
}

// canonical serializes the hashed part of an entry with RFC 8785 so the hash
// survives storage round trips that reorder or reformat the details JSON.
func canonical(e *domain.AuditEntry) ([]byte, error) {
	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage("null")
	}
	raw, err := json.Marshal(canonicalEntry{
		ID:          e.ID.String(),
		CaseID:      e.CaseID.String(),
		Sequence:    e.Sequence,
		Analyst:     e.Analyst,
		Action:      string(e.Action),
		Details:     details,
		BeforeValue: e.BeforeValue,
		AfterValue:  e.AfterValue,
		Timestamp:   e.Timestamp.UTC().Format(time.RFC3339Nano),
		PrevHash:    e.PrevHash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize audit entry: %w", err)
	}
	return out, nil
}

func signedFields(e *domain.AuditEntry) []string {
	return []string{
		e.ID.String(),
		e.CaseID.String(),
		strconv.FormatInt(e.Sequence, 10),
		e.Analyst,
		string(e.Action),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Hash,
	}
}
