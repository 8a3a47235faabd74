package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"jobsync/internal/config"
	"jobsync/internal/forward"
	"jobsync/internal/models"
	"jobsync/internal/store"
	"jobsync/internal/syncer"
)

type fakeRunner struct {
	mu       sync.Mutex
	sources  []string
	errs     []error // returned in order, then nil
	backlogs int
	called   chan struct{}
}

func (f *fakeRunner) RunPass(_ context.Context, opts syncer.PassOptions) (syncer.PassResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, opts.Source)
	if f.called != nil {
		select {
		case f.called <- struct{}{}:
		default:
		}
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return syncer.PassResult{}, err
	}
	return syncer.PassResult{Synced: 1, Total: 1}, nil
}

func (f *fakeRunner) Backlog(context.Context, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backlogs++
	return 0, nil
}

func newTestScheduler(r PassRunner, cfg config.Config) (*Scheduler, *[]time.Duration) {
	s := New(r, cfg, nil)
	var waits []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return s, &waits
}

func TestRunOnceOnePassPerSource(t *testing.T) {
	r := &fakeRunner{}
	s, _ := newTestScheduler(r, config.Config{SyncSources: []string{"linkedin", "monster"}})

	s.RunOnce(context.Background())
	if len(r.sources) != 2 || r.sources[0] != "linkedin" || r.sources[1] != "monster" {
		t.Fatalf("passes for %v", r.sources)
	}
	if r.backlogs != 2 {
		t.Fatalf("backlog refreshed %d times, want once per source", r.backlogs)
	}
}

type countingNotifier struct {
	mu    sync.Mutex
	calls map[models.Source]int
}

func (n *countingNotifier) Forward(_ context.Context, p models.JobPosting) forward.Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[p.Source]++
	return forward.Delivered
}

func TestRunOncePerSourceCursors(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	put := func(src models.Source, i int, at time.Time) {
		t.Helper()
		_, _, err := mem.UpsertPosting(ctx, models.JobPosting{
			Company:   "Acme",
			Title:     "Engineer",
			Location:  models.DefaultLocation,
			Source:    src,
			JobURL:    fmt.Sprintf("https://%s/%d", src, i),
			ScrapedAt: at,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	earlier := time.Now().Add(-time.Hour)
	for i := 0; i < 2; i++ {
		put(models.SourceLinkedIn, i, earlier.Add(time.Duration(i)*time.Minute))
		put(models.SourceMonster, i, earlier.Add(time.Duration(i)*time.Minute))
	}

	notifier := &countingNotifier{calls: map[models.Source]int{}}
	mgr := syncer.NewManager(mem, notifier, "")
	s, _ := newTestScheduler(mgr, config.Config{SyncSources: []string{"linkedin", "monster"}})

	s.RunOnce(ctx)
	if notifier.calls[models.SourceLinkedIn] != 2 || notifier.calls[models.SourceMonster] != 2 {
		t.Fatalf("forwards = %v, want 2 per source", notifier.calls)
	}
	for _, src := range []string{"linkedin", "monster"} {
		if n, err := mgr.Backlog(ctx, src); err != nil || n != 0 {
			t.Fatalf("backlog(%s) = %d err=%v, want 0", src, n, err)
		}
	}

	put(models.SourceMonster, 9, time.Now().Add(time.Minute))
	s.RunOnce(ctx)
	if notifier.calls[models.SourceLinkedIn] != 2 || notifier.calls[models.SourceMonster] != 3 {
		t.Fatalf("forwards after second run = %v, want only the new monster posting", notifier.calls)
	}
}

func TestRunOnceUnfilteredWithoutSources(t *testing.T) {
	r := &fakeRunner{}
	s, _ := newTestScheduler(r, config.Config{})

	s.RunOnce(context.Background())
	if len(r.sources) != 1 || r.sources[0] != "" {
		t.Fatalf("passes for %v, want one unfiltered", r.sources)
	}
}

func TestRunPassRetriesTransientErrors(t *testing.T) {
	r := &fakeRunner{errs: []error{errors.New("db down"), errors.New("db down")}}
	s, waits := newTestScheduler(r, config.Config{SyncRetryAttempts: 3, SyncBackoffInitial: time.Second, SyncBackoffMax: 8 * time.Second})

	if err := s.runPass(context.Background(), ""); err != nil {
		t.Fatalf("runPass: %v", err)
	}
	if len(r.sources) != 3 {
		t.Fatalf("attempts = %d, want 3", len(r.sources))
	}
	if len(*waits) != 2 {
		t.Fatalf("waits = %v, want 2 backoffs", *waits)
	}
}

func TestRunPassGivesUp(t *testing.T) {
	boom := errors.New("db down")
	r := &fakeRunner{errs: []error{boom, boom}}
	s, _ := newTestScheduler(r, config.Config{SyncRetryAttempts: 2})

	if err := s.runPass(context.Background(), ""); !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
}

func TestRunPassDoesNotRetryBusyOrUnconfigured(t *testing.T) {
	r := &fakeRunner{errs: []error{syncer.ErrPassInProgress}}
	s, waits := newTestScheduler(r, config.Config{SyncRetryAttempts: 3})
	if err := s.runPass(context.Background(), ""); err != nil {
		t.Fatalf("busy pass should be skipped quietly, got %v", err)
	}

	r.errs = []error{syncer.ErrNoWebhook}
	if err := s.runPass(context.Background(), ""); !errors.Is(err, syncer.ErrNoWebhook) {
		t.Fatalf("expected ErrNoWebhook, got %v", err)
	}
	if len(r.sources) != 2 || len(*waits) != 0 {
		t.Fatalf("unexpected retries: passes=%d waits=%v", len(r.sources), *waits)
	}
}

func TestStartRunsImmediately(t *testing.T) {
	r := &fakeRunner{called: make(chan struct{}, 1)}
	s := New(r, config.Config{SyncSchedule: "@every 1h", SyncOnStart: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-r.called:
	case <-time.After(2 * time.Second):
		t.Fatalf("no pass on start")
	}
	<-s.Stop().Done()
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(&fakeRunner{}, config.Config{SyncSchedule: "every now and then"}, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
}

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < 2*base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}

	if b := backoffWithJitter(base, max, 10); b > max {
		t.Fatalf("backoff exceeds max: %s", b)
	}
}
