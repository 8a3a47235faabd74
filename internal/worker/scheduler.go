// Package worker runs sync passes on a cron schedule.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"

	"jobsync/internal/config"
	"jobsync/internal/logging"
	"jobsync/internal/syncer"
	"jobsync/internal/telemetry"
)

// PassRunner is the part of syncer.Manager the scheduler drives.
type PassRunner interface {
	RunPass(ctx context.Context, opts syncer.PassOptions) (syncer.PassResult, error)
	Backlog(ctx context.Context, source string) (int64, error)
}

// Scheduler wraps robfig/cron and triggers one pass per configured source on each tick.
type Scheduler struct {
	cron     *cron.Cron
	runner   PassRunner
	spec     string
	sources  []string
	onStart  bool
	attempts int
	base     time.Duration
	max      time.Duration
	log      *logging.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a scheduler from the SYNC_* settings.
func New(runner PassRunner, cfg config.Config, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Nop()
	}
	log = log.With("component", "scheduler")
	attempts := cfg.SyncRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	spec := cfg.SyncSchedule
	if spec == "" {
		spec = "@every 15m"
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		runner:   runner,
		spec:     spec,
		sources:  cfg.SyncSources,
		onStart:  cfg.SyncOnStart,
		attempts: attempts,
		base:     cfg.SyncBackoffInitial,
		max:      cfg.SyncBackoffMax,
		log:      log,
		sleep:    sleepCtx,
	}
}

// Start registers the pass job and starts the cron loop. With SyncOnStart a pass also
// runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.log.Info("cron started", "spec", s.spec, "sources", s.sources)
	if s.onStart {
		go s.RunOnce(ctx)
	}
	return nil
}

// Stop stops scheduling and returns a context done once running passes finish.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("cron stopping")
	return s.cron.Stop()
}

// RunOnce performs one pass per configured source, each on that source's cursor, or a
// single unfiltered pass.
func (s *Scheduler) RunOnce(ctx context.Context) {
	sources := s.sources
	if len(sources) == 0 {
		sources = []string{""}
	}
	for _, src := range sources {
		if ctx.Err() != nil {
			return
		}
		if err := s.runPass(ctx, src); err != nil {
			s.log.Error("sync pass gave up", "source", src, "err", err)
		}
	}

	var pending int64
	for _, src := range sources {
		n, err := s.runner.Backlog(ctx, src)
		if err != nil {
			s.log.Warn("backlog refresh failed", "source", src, "err", err)
			return
		}
		pending += n
	}
	telemetry.BacklogGauge.Set(float64(pending))
}

func (s *Scheduler) runPass(ctx context.Context, source string) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		var res syncer.PassResult
		res, err = s.runner.RunPass(ctx, syncer.PassOptions{Source: source})
		switch {
		case err == nil:
			if res.NoOp {
				s.log.Debug("nothing to sync", "source", source)
			} else {
				s.log.Info("sync pass done", "source", source, "synced", res.Synced, "failed", res.Failed)
			}
			return nil
		case errors.Is(err, syncer.ErrPassInProgress):
			s.log.Info("sync pass skipped, another instance is running", "source", source)
			return nil
		case errors.Is(err, syncer.ErrNoWebhook):
			return err
		}
		if attempt == s.attempts {
			break
		}
		wait := backoffWithJitter(s.base, s.max, attempt)
		s.log.Warn("sync pass failed, retrying", "source", source, "attempt", attempt, "wait", wait, "err", err)
		if serr := s.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	return err
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if max > 0 && wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	log *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
