package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobsync/internal/models"
)

// ErrNotFound is returned when a lookup or delete targets a missing row.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// MemoryDSN selects the in-memory backend instead of Postgres.
const MemoryDSN = "memory"

// Backend is the persistence surface shared by Store and Memory.
type Backend interface {
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context) error
	Close()

	UpsertPosting(ctx context.Context, p models.JobPosting) (models.JobPosting, bool, error)
	GetPosting(ctx context.Context, id string) (models.JobPosting, error)
	DeletePosting(ctx context.Context, id string) error
	ListPostings(ctx context.Context, params ListParams) ([]models.JobPosting, int64, error)
	PostingsSince(ctx context.Context, since *time.Time, source string) ([]models.JobPosting, error)
	CountSince(ctx context.Context, since *time.Time, source string) (int64, error)
	Stats(ctx context.Context) (models.Stats, error)

	GetCursor(ctx context.Context, key string) (models.SyncCursor, error)
	AdvanceCursor(ctx context.Context, key string, at time.Time, forwarded int64) (models.SyncCursor, error)
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*Memory)(nil)
)

// Open returns Postgres for a regular DSN or Memory for MemoryDSN, with migrations applied.
func Open(ctx context.Context, dsn string) (Backend, error) {
	if dsn == MemoryDSN {
		return NewMemory(), nil
	}
	st, err := New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := st.RunMigrations(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return st, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies the pool can reach Postgres.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func boolPtr(b pgtype.Bool) *bool {
	if b.Valid {
		return &b.Bool
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
