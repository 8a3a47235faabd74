package ingest

import (
	"context"
	"errors"
	"fmt"

	"jobsync/internal/forward"
	"jobsync/internal/logging"
	"jobsync/internal/normalize"
	"jobsync/internal/telemetry"
)

// DefaultMaxBatch is the largest batch accepted when no explicit bound is configured.
const DefaultMaxBatch = 100

// ErrBatchSize is returned when a batch is empty or larger than the configured bound.
var ErrBatchSize = errors.New("batch size out of bounds")

// ItemError identifies one failed batch element.
type ItemError struct {
	Index  int    `json:"index"`
	JobURL string `json:"job_url"`
	Error  string `json:"error"`
}

// BatchSummary accounts for every element of a batch: Created+Updated+Failed equals
// the input length.
type BatchSummary struct {
	Created int         `json:"created"`
	Updated int         `json:"updated"`
	Failed  int         `json:"failed"`
	Errors  []ItemError `json:"errors"`
}

// SingleResult is the outcome of ingesting one record outside a batch.
type SingleResult struct {
	Result
	Forward forward.Outcome
}

// BatchProcessor runs the normalizer and the engine over candidate records and hands
// newly created postings to the notifier.
type BatchProcessor struct {
	engine   *Engine
	notifier forward.Notifier
	maxBatch int
	log      *logging.Logger
}

// NewBatchProcessor wires a processor; maxBatch <= 0 selects DefaultMaxBatch.
func NewBatchProcessor(engine *Engine, notifier forward.Notifier, maxBatch int, log *logging.Logger) *BatchProcessor {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if log == nil {
		log = logging.Nop()
	}
	return &BatchProcessor{
		engine:   engine,
		notifier: notifier,
		maxBatch: maxBatch,
		log:      log.With("component", "ingest"),
	}
}

// Ingest normalizes and stores a single record. Validation and storage failures are
// returned; the forward outcome never is. As in batches, only created postings are
// forwarded.
func (b *BatchProcessor) Ingest(ctx context.Context, raw map[string]any) (SingleResult, error) {
	res, err := b.one(ctx, raw)
	if err != nil {
		telemetry.PostingsIngested.WithLabelValues("failed").Inc()
		return SingleResult{}, err
	}
	telemetry.PostingsIngested.WithLabelValues(string(res.Resolution)).Inc()
	out := SingleResult{Result: res, Forward: forward.NotApplicable}
	if res.Resolution == Created && b.notifier != nil {
		out.Forward = b.notifier.Forward(ctx, res.Posting)
	}
	return out, nil
}

// Process handles items in input order. A failing item is recorded in the summary and
// never stops its siblings; only created postings are forwarded.
func (b *BatchProcessor) Process(ctx context.Context, items []map[string]any) (BatchSummary, error) {
	if len(items) == 0 || len(items) > b.maxBatch {
		return BatchSummary{}, fmt.Errorf("%w: got %d, want 1..%d", ErrBatchSize, len(items), b.maxBatch)
	}
	if err := ctx.Err(); err != nil {
		return BatchSummary{}, err
	}

	summary := BatchSummary{Errors: []ItemError{}}
	for i, raw := range items {
		res, err := b.one(ctx, raw)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, ItemError{Index: i, JobURL: normalize.Key(raw), Error: err.Error()})
			telemetry.PostingsIngested.WithLabelValues("failed").Inc()
			continue
		}
		telemetry.PostingsIngested.WithLabelValues(string(res.Resolution)).Inc()
		if res.Resolution == Updated {
			summary.Updated++
			continue
		}
		summary.Created++
		if b.notifier != nil {
			b.notifier.Forward(ctx, res.Posting)
		}
	}

	b.log.Info("batch processed", "size", len(items), "created", summary.Created, "updated", summary.Updated, "failed", summary.Failed)
	return summary, nil
}

func (b *BatchProcessor) one(ctx context.Context, raw map[string]any) (Result, error) {
	p, err := normalize.Posting(raw)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, &StorageError{Op: "upsert", JobURL: p.JobURL, Err: err}
	}
	return b.engine.Upsert(ctx, p)
}

