package service

import (
	"context"
	"errors"
	"time"

	"github.com/banking/sar-governance/internal/domain"
	"go.uber.org/zap"
)

var (
	// ErrSearchDisabled is returned by SearchAudit when no search backend is configured
	ErrSearchDisabled = errors.New("audit search is not configured")
	// ErrArchiveDisabled is returned by ArchivedSubmission when no archive is configured
	ErrArchiveDisabled = errors.New("submission archive is not configured")
)

const asyncTimeout = 5 * time.Second

// Indexer makes committed records searchable
type Indexer interface {
	IndexAuditEntry(ctx context.Context, entry *domain.AuditEntry) error
	IndexSubmission(ctx context.Context, sub *domain.Submission) error
}

// Searcher runs free-text queries over indexed audit entries
type Searcher interface {
	SearchAuditEntries(ctx context.Context, query string, limit int) ([]domain.AuditEntry, error)
}

// Archiver keeps an off-site copy of sealed submissions
type Archiver interface {
	ArchiveSubmission(ctx context.Context, sub *domain.Submission) error
	FetchSubmission(ctx context.Context, submissionID string, submittedAt time.Time) (*domain.Submission, error)
}

// Publisher emits case lifecycle events
type Publisher interface {
	PublishCaseEvent(ctx context.Context, event domain.CaseEvent) error
}

// afterCommit schedules the best-effort side effects of a committed
// mutation. They never roll back the operation.
func (s *CaseService) afterCommit(event domain.CaseEvent, entries ...*domain.AuditEntry) {
	for _, e := range entries {
		if e != nil {
			s.asyncIndexEntry(e)
		}
	}
	if event.Type != "" {
		s.asyncPublish(event)
	}
}

func (s *CaseService) asyncIndexEntry(entry *domain.AuditEntry) {
	if s.indexer == nil {
		return
	}
	s.goAsync("elasticsearch", func(ctx context.Context) error {
		return s.indexer.IndexAuditEntry(ctx, entry)
	}, zap.String("audit_entry_id", entry.ID.String()))
}

func (s *CaseService) asyncArchive(sub *domain.Submission) {
	if s.indexer != nil {
		s.goAsync("elasticsearch", func(ctx context.Context) error {
			return s.indexer.IndexSubmission(ctx, sub)
		}, zap.String("submission_id", sub.SubmissionID))
	}
	if s.archiver != nil {
		s.goAsync("s3", func(ctx context.Context) error {
			return s.archiver.ArchiveSubmission(ctx, sub)
		}, zap.String("submission_id", sub.SubmissionID))
	}
}

func (s *CaseService) asyncPublish(event domain.CaseEvent) {
	if s.publisher == nil {
		return
	}
	s.goAsync("kafka", func(ctx context.Context) error {
		return s.publisher.PublishCaseEvent(ctx, event)
	}, zap.String("event_type", string(event.Type)), zap.String("case_id", event.CaseID.String()))
}

// goAsync runs fn in the background with panic protection and a detached
// timeout context
func (s *CaseService) goAsync(sink string, fn func(ctx context.Context) error, fields ...zap.Field) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Panic in async sink", zap.String("sink", sink), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.metrics.AsyncSinkFailures.WithLabelValues(sink).Inc()
			s.logger.Error("Async sink failed",
				append(fields, zap.String("sink", sink), zap.Error(err))...,
			)
		}
	}()
}

// Wait blocks until scheduled side effects have finished
func (s *CaseService) Wait() {
	s.pending.Wait()
}
