// Package syncer owns the persisted sync cursor and drives incremental passes that
// forward postings newer than the cursor to the webhook consumer.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"jobsync/internal/archive"
	"jobsync/internal/forward"
	"jobsync/internal/logging"
	"jobsync/internal/models"
	"jobsync/internal/telemetry"
)

var (
	// ErrPassInProgress is returned when another instance holds the pass lock.
	ErrPassInProgress = errors.New("sync pass already in progress")
	// ErrNoWebhook is returned when a pass is requested without a forward target.
	ErrNoWebhook = errors.New("webhook not configured")
)

// Repository is the slice of the store a Manager needs.
type Repository interface {
	GetCursor(ctx context.Context, key string) (models.SyncCursor, error)
	AdvanceCursor(ctx context.Context, key string, at time.Time, forwarded int64) (models.SyncCursor, error)
	PostingsSince(ctx context.Context, since *time.Time, source string) ([]models.JobPosting, error)
	CountSince(ctx context.Context, since *time.Time, source string) (int64, error)
}

// PassOptions narrows a pass. Since replaces the cursor as the lower bound.
type PassOptions struct {
	Source string
	Since  *time.Time
}

// PassResult reports one pass. NoOp passes leave the cursor untouched.
type PassResult struct {
	NoOp               bool       `json:"-"`
	Synced             int        `json:"synced"`
	Failed             int        `json:"failed"`
	Total              int        `json:"total"`
	LastSyncAt         *time.Time `json:"lastSyncAt"`
	TotalSyncedAllTime int64      `json:"totalSyncedAllTime"`
	NextSyncFrom       *time.Time `json:"nextSyncFrom,omitempty"`
	Report             string     `json:"report,omitempty"`
}

// Status is the cursor plus the current backlog.
type Status struct {
	LastSyncAt    *time.Time `json:"lastSyncAt"`
	LastSyncCount int64      `json:"lastSyncCount"`
	TotalSynced   int64      `json:"totalSynced"`
	PendingJobs   int64      `json:"pendingJobs"`
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLocker serializes passes across instances.
func WithLocker(l Locker) Option { return func(m *Manager) { m.locker = l } }

// WithArchiver stores a report for every pass that advances the cursor.
func WithArchiver(a archive.Archiver) Option { return func(m *Manager) { m.archiver = a } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(m *Manager) { m.log = l } }

// Manager drives passes for one cursor key.
type Manager struct {
	repo     Repository
	notifier forward.Notifier
	key      string
	locker   Locker
	archiver archive.Archiver
	log      *logging.Logger
	now      func() time.Time
	group    singleflight.Group

	mu      sync.Mutex
	running map[string]*sync.Mutex
}

// NewManager builds a manager for key; an empty key selects models.DefaultSyncKey.
func NewManager(repo Repository, notifier forward.Notifier, key string, opts ...Option) *Manager {
	if key == "" {
		key = models.DefaultSyncKey
	}
	m := &Manager{
		repo:     repo,
		notifier: notifier,
		key:      key,
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "syncer", "key", key)
	return m
}

// Key returns the cursor key unfiltered passes advance.
func (m *Manager) Key() string { return m.key }

// CursorKey returns the cursor a pass filtered to source reads and advances. Each source
// filter keeps its own cursor, so a filtered pass never moves another filter's lower bound.
func (m *Manager) CursorKey(source string) string {
	if source = normalizeSource(source); source != "" {
		return m.key + ":" + source
	}
	return m.key
}

// Backlog counts postings scraped after the cursor of the given source filter.
func (m *Manager) Backlog(ctx context.Context, source string) (int64, error) {
	source = normalizeSource(source)
	cur, err := m.repo.GetCursor(ctx, m.CursorKey(source))
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	n, err := m.repo.CountSince(ctx, cur.LastSyncAt, source)
	if err != nil {
		return 0, fmt.Errorf("count backlog: %w", err)
	}
	if source == "" {
		telemetry.BacklogGauge.Set(float64(n))
	}
	return n, nil
}

// Status reports the unfiltered cursor with its backlog.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	return m.StatusFor(ctx, "")
}

// StatusFor materializes the cursor of one source filter if needed and reports it with
// its backlog.
func (m *Manager) StatusFor(ctx context.Context, source string) (Status, error) {
	source = normalizeSource(source)
	cur, err := m.repo.GetCursor(ctx, m.CursorKey(source))
	if err != nil {
		return Status{}, fmt.Errorf("get cursor: %w", err)
	}
	pending, err := m.repo.CountSince(ctx, cur.LastSyncAt, source)
	if err != nil {
		return Status{}, fmt.Errorf("count backlog: %w", err)
	}
	if source == "" {
		telemetry.BacklogGauge.Set(float64(pending))
	}
	return Status{
		LastSyncAt:    cur.LastSyncAt,
		LastSyncCount: cur.LastSyncCount,
		TotalSynced:   cur.TotalSynced,
		PendingJobs:   pending,
	}, nil
}

// RunPass forwards every posting newer than the lower bound, oldest first, then advances
// the cursor once to the pass start instant. Failed forwards are counted, not retried.
//
// A started pass runs to completion even if ctx is cancelled; the forward timeout is
// its only time bound. Overlapping calls with the same options share one pass. Calls
// with different options on the same cursor run one after the other.
func (m *Manager) RunPass(ctx context.Context, opts PassOptions) (PassResult, error) {
	if e, ok := m.notifier.(interface{ Enabled() bool }); m.notifier == nil || (ok && !e.Enabled()) {
		return PassResult{}, ErrNoWebhook
	}
	source := normalizeSource(opts.Source)
	key := m.CursorKey(source)
	flight := key
	if opts.Since != nil {
		flight += "@" + opts.Since.UTC().Format(time.RFC3339Nano)
	}

	detached := context.WithoutCancel(ctx)
	v, err, _ := m.group.Do(flight, func() (any, error) {
		return m.lockedPass(detached, key, source, opts.Since)
	})
	if err != nil {
		result := "error"
		if errors.Is(err, ErrPassInProgress) {
			result = "busy"
		}
		telemetry.SyncPasses.WithLabelValues(result).Inc()
		return PassResult{}, err
	}
	return v.(PassResult), nil
}

func (m *Manager) lockedPass(ctx context.Context, key, source string, since *time.Time) (PassResult, error) {
	mu := m.cursorMutex(key)
	mu.Lock()
	defer mu.Unlock()

	if m.locker != nil {
		release, ok, err := m.locker.Acquire(ctx, key)
		if err != nil {
			return PassResult{}, err
		}
		if !ok {
			return PassResult{}, ErrPassInProgress
		}
		defer release()
	}
	return m.pass(ctx, key, source, since)
}

func (m *Manager) cursorMutex(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running == nil {
		m.running = map[string]*sync.Mutex{}
	}
	mu, ok := m.running[key]
	if !ok {
		mu = &sync.Mutex{}
		m.running[key] = mu
	}
	return mu
}

func (m *Manager) pass(ctx context.Context, key, source string, override *time.Time) (PassResult, error) {
	started := m.now().UTC()

	cur, err := m.repo.GetCursor(ctx, key)
	if err != nil {
		return PassResult{}, fmt.Errorf("get cursor: %w", err)
	}
	since := cur.LastSyncAt
	if override != nil {
		since = override
	}

	postings, err := m.repo.PostingsSince(ctx, since, source)
	if err != nil {
		return PassResult{}, fmt.Errorf("load postings: %w", err)
	}
	if len(postings) == 0 {
		telemetry.SyncPasses.WithLabelValues("noop").Inc()
		return PassResult{
			NoOp:               true,
			LastSyncAt:         cur.LastSyncAt,
			TotalSyncedAllTime: cur.TotalSynced,
			NextSyncFrom:       since,
		}, nil
	}

	report := archive.Report{Key: m.key, Source: source, Since: since, StartedAt: started, Total: len(postings)}
	for _, p := range postings {
		if m.notifier.Forward(ctx, p) == forward.Delivered {
			report.Synced++
			report.Delivered = append(report.Delivered, p.JobURL)
			continue
		}
		report.Failed++
		report.Dropped = append(report.Dropped, p.JobURL)
	}

	advanced, err := m.repo.AdvanceCursor(ctx, key, started, int64(report.Synced))
	if err != nil {
		return PassResult{}, fmt.Errorf("advance cursor: %w", err)
	}
	telemetry.SyncPasses.WithLabelValues("advanced").Inc()
	report.FinishedAt = m.now().UTC()

	res := PassResult{
		Synced:             report.Synced,
		Failed:             report.Failed,
		Total:              report.Total,
		LastSyncAt:         advanced.LastSyncAt,
		TotalSyncedAllTime: advanced.TotalSynced,
	}
	if m.archiver != nil {
		loc, err := m.archiver.Save(ctx, report)
		if err != nil {
			m.log.Warn("pass report not archived", "err", err)
		} else {
			res.Report = loc
		}
	}
	m.log.Info("sync pass complete", "source", source, "synced", res.Synced, "failed", res.Failed, "total", res.Total)
	return res, nil
}

func normalizeSource(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
