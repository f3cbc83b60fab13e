// Package postgres is the authoritative store backed by PostgreSQL. The audit
// log and submissions are append-only at the schema level: triggers reject
// UPDATE and DELETE with SQLSTATE SR001.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/banking/sar-governance/internal/config"
	"github.com/banking/sar-governance/internal/domain"
	"github.com/banking/sar-governance/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	sqlStateImmutable = "SR001"
	sqlStateUnique    = "23505"
)

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store implements repository.Store over a connection pool
type Store struct {
	*repo
	pool *pgxpool.Pool
}

var (
	_ repository.Store                      = (*Store)(nil)
	_ repository.CustomerProfileProvider    = (*Store)(nil)
	_ repository.TransactionHistoryProvider = (*Store)(nil)
	_ repository.CustomerLoader             = (*Store)(nil)
)

// repo runs the queries of repository.Tx. Inside a transaction, case reads
// take a row lock so concurrent writers of one case serialize.
type repo struct {
	q        querier
	lockRows bool
}

// NewPool creates a connection pool from the database configuration
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// NewStore wraps an open pool
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{repo: &repo{q: pool}, pool: pool}
}

// Pool exposes the underlying pool for health checks
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases all connections
func (s *Store) Close() {
	s.pool.Close()
}

// WithinTx runs fn in a read-committed transaction and commits when fn
// returns nil
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &repo{q: tx, lockRows: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err, "commit transaction")
	}
	return nil
}

// mapError translates driver errors into domain errors. Trigger rejections
// become immutability violations and unique violations integrity errors.
func mapError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateImmutable:
			return domain.ImmutabilityViolation("%s", pgErr.Message)
		case sqlStateUnique:
			if pgErr.ConstraintName == "audit_log_pkey" {
				return domain.ImmutabilityViolation("audit entry already exists")
			}
			return &domain.IntegrityError{Constraint: constraintField(pgErr.ConstraintName), Value: pgErr.Detail}
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func constraintField(name string) string {
	switch name {
	case "uq_submissions_submission_id":
		return "submission_id"
	case "uq_submissions_checksum":
		return "checksum"
	case "uq_audit_log_case_sequence":
		return "audit_sequence"
	case "alerts_pkey":
		return "alert_id"
	case "cases_pkey":
		return "case_id"
	}
	return name
}

func notFound(err error, resource, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewNotFoundError(resource, id)
	}
	return mapError(err, "load "+resource)
}
