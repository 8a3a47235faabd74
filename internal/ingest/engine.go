// Package ingest resolves normalized postings against the store and processes
// candidate batches with per-item failure isolation.
package ingest

import (
	"context"
	"fmt"
	"time"

	"jobsync/internal/models"
)

// Resolution tells whether an upsert inserted a new posting or overwrote one.
type Resolution string

const (
	Created Resolution = "created"
	Updated Resolution = "updated"
)

// Repository is the persistence boundary the engine relies on. UpsertPosting must be
// atomic per job_url.
type Repository interface {
	UpsertPosting(ctx context.Context, p models.JobPosting) (models.JobPosting, bool, error)
}

// StorageError wraps a persistence failure for one posting.
type StorageError struct {
	Op     string
	JobURL string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.JobURL, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Result is the outcome of one upsert.
type Result struct {
	Posting    models.JobPosting
	Resolution Resolution
}

// Engine upserts normalized postings keyed by job_url.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine constructs an engine stamping postings with the wall clock.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// Upsert stores p, overwriting every field of an existing posting with the same job_url.
// scraped_at is always the ingestion instant, whatever the input carried.
func (e *Engine) Upsert(ctx context.Context, p models.JobPosting) (Result, error) {
	p.ScrapedAt = e.now().UTC()
	stored, created, err := e.repo.UpsertPosting(ctx, p)
	if err != nil {
		return Result{}, &StorageError{Op: "upsert", JobURL: p.JobURL, Err: err}
	}
	res := Result{Posting: stored, Resolution: Updated}
	if created {
		res.Resolution = Created
	}
	return res, nil
}
