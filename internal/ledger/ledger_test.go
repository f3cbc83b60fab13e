package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/banking/sar-governance/internal/crypto"
	"github.com/banking/sar-governance/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceStore struct {
	entries []domain.AuditEntry
	failOn  bool
}

func (s *sliceStore) LastAuditEntry(_ context.Context, caseID uuid.UUID) (*domain.AuditEntry, error) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].CaseID == caseID {
			e := s.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *sliceStore) AppendAuditEntry(_ context.Context, e *domain.AuditEntry) error {
	if s.failOn {
		return errors.New("store down")
	}
	s.entries = append(s.entries, *e)
	return nil
}

func (s *sliceStore) forCase(id uuid.UUID) []domain.AuditEntry {
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.CaseID == id {
			out = append(out, e)
		}
	}
	return out
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	keys, err := crypto.NewKeyring([]string{key}, 1, base64.StdEncoding.EncodeToString([]byte("secret")))
	require.NoError(t, err)
	return New(keys)
}

func appendN(t *testing.T, l *Ledger, store *sliceStore, caseID uuid.UUID, actions ...domain.AuditAction) {
	t.Helper()
	for _, a := range actions {
		e, err := domain.NewAuditEntry(caseID, "analyst@bank", a, map[string]string{"action": string(a)})
		require.NoError(t, err)
		require.NoError(t, l.Append(context.Background(), store, e))
	}
}

func TestAppend_ChainsPerCase(t *testing.T) {
	l := newTestLedger(t)
	store := &sliceStore{}
	caseA, caseB := uuid.New(), uuid.New()

	appendN(t, l, store, caseA, domain.AuditCaseCreated, domain.AuditTypologyConfirmed)
	appendN(t, l, store, caseB, domain.AuditCaseCreated)
	appendN(t, l, store, caseA, domain.AuditFeedbackSubmitted)

	a := store.forCase(caseA)
	require.Len(t, a, 3)
	assert.Equal(t, int64(1), a[0].Sequence)
	assert.Empty(t, a[0].PrevHash)
	assert.Equal(t, a[0].Hash, a[1].PrevHash)
	assert.Equal(t, a[1].Hash, a[2].PrevHash)
	assert.Equal(t, int64(3), a[2].Sequence)
	assert.NotEmpty(t, a[2].Signature)

	b := store.forCase(caseB)
	require.Len(t, b, 1)
	assert.Equal(t, int64(1), b[0].Sequence)

	assert.NoError(t, l.Verify(a))
	assert.NoError(t, l.Verify(b))
}

func TestAppend_StoreFailure(t *testing.T) {
	l := newTestLedger(t)
	store := &sliceStore{failOn: true}
	e, err := domain.NewAuditEntry(uuid.New(), "a", domain.AuditCaseCreated, nil)
	require.NoError(t, err)

	assert.Error(t, l.Append(context.Background(), store, e))
}

func TestVerify_DetectsTampering(t *testing.T) {
	l := newTestLedger(t)
	caseID := uuid.New()

	tests := []struct {
		name   string
		tamper func([]domain.AuditEntry) []domain.AuditEntry
	}{
		{"edited details", func(es []domain.AuditEntry) []domain.AuditEntry {
			es[1].Details = []byte(`{"action":"forged"}`)
			return es
		}},
		{"edited analyst", func(es []domain.AuditEntry) []domain.AuditEntry {
			es[0].Analyst = "someone@else"
			return es
		}},
		{"deleted entry", func(es []domain.AuditEntry) []domain.AuditEntry {
			return append(es[:1], es[2:]...)
		}},
		{"reordered", func(es []domain.AuditEntry) []domain.AuditEntry {
			es[1], es[2] = es[2], es[1]
			return es
		}},
		{"forged signature", func(es []domain.AuditEntry) []domain.AuditEntry {
			es[2].Signature = strings.Repeat("0", 64)
			return es
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &sliceStore{}
			appendN(t, l, store, caseID, domain.AuditCaseCreated, domain.AuditNarrativeEdited, domain.AuditSARSubmitted)

			err := l.Verify(tt.tamper(store.forCase(caseID)))

			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrImmutabilityViolation))
		})
	}
}

func TestVerify_ReformattedDetailsStillVerify(t *testing.T) {
	l := newTestLedger(t)
	store := &sliceStore{}
	caseID := uuid.New()
	e, err := domain.NewAuditEntry(caseID, "a", domain.AuditTypologyConfirmed, map[string]any{"b": 1, "a": "x"})
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), store, e))

	entries := store.forCase(caseID)
	entries[0].Details = []byte(`{ "a" : "x", "b" : 1 }`)

	assert.NoError(t, l.Verify(entries))
}
