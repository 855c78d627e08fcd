package core

// scheduler.go defines how the next tick of a record gets arranged.
//
// Pending ticks are keyed by (record, initiator); scheduling a pair that is
// already pending does nothing. A poller claims due ticks and hands them to
// the batch runner. Ticks run in parallel up to the worker limit, and a
// tick that hangs only occupies its own worker.

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Scheduler arranges future ticks.
type Scheduler interface {
	// Schedule arranges one tick for the pair. It is a no-op when a tick
	// for the same pair is already pending.
	Schedule(ctx context.Context, id uuid.UUID, initiator string) error

	// Unschedule drops a pending tick for the pair, if any.
	Unschedule(ctx context.Context, id uuid.UUID, initiator string) error
}

// TickFunc runs one tick. Runner.Tick satisfies it.
type TickFunc func(ctx context.Context, id uuid.UUID, initiator string) error

// DueTick is a claimed tick ready to run.
type DueTick struct {
	RecordID  uuid.UUID
	Initiator string

	claimToken uuid.UUID
}

// Default scheduler settings.
const (
	DefaultTickDelay    = 5 * time.Second
	DefaultPollInterval = time.Second
	DefaultTickWorkers  = 4
)

type scheduleKey struct {
	id        uuid.UUID
	initiator string
}

// MemoryScheduler keeps pending ticks in process memory.
type MemoryScheduler struct {
	delay    time.Duration
	interval time.Duration
	workers  int
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	mu      sync.Mutex
	pending map[scheduleKey]time.Time
}

// SchedulerOptions configures the schedulers. Zero values use defaults,
// except Delay: zero runs the next tick on the following poll.
type SchedulerOptions struct {
	Delay        time.Duration
	PollInterval time.Duration
	Workers      int
	ClaimLimit   int
	Visibility   time.Duration
	Logger       *slog.Logger
	Metrics      *Metrics
}

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.Delay < 0 {
		o.Delay = DefaultTickDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Workers <= 0 {
		o.Workers = DefaultTickWorkers
	}
	if o.ClaimLimit <= 0 {
		o.ClaimLimit = 10
	}
	if o.Visibility <= 0 {
		o.Visibility = 15 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// NewMemoryScheduler returns an empty MemoryScheduler.
func NewMemoryScheduler(opts SchedulerOptions) *MemoryScheduler {
	opts = opts.withDefaults()
	return &MemoryScheduler{
		delay:    opts.Delay,
		interval: opts.PollInterval,
		workers:  opts.Workers,
		logger:   opts.Logger.With("component", "scheduler"),
		metrics:  opts.Metrics,
		now:      time.Now,
		pending:  make(map[scheduleKey]time.Time),
	}
}

func (s *MemoryScheduler) Schedule(_ context.Context, id uuid.UUID, initiator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scheduleKey{id: id, initiator: initiator}
	if _, ok := s.pending[key]; ok {
		s.metrics.schedule("dedup")
		return nil
	}
	s.pending[key] = s.now().Add(s.delay)
	s.metrics.schedule("schedule")
	return nil
}

func (s *MemoryScheduler) Unschedule(_ context.Context, id uuid.UUID, initiator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scheduleKey{id: id, initiator: initiator}
	if _, ok := s.pending[key]; ok {
		delete(s.pending, key)
		s.metrics.schedule("unschedule")
	}
	return nil
}

// Pending reports whether a tick for the pair is waiting.
func (s *MemoryScheduler) Pending(id uuid.UUID, initiator string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[scheduleKey{id: id, initiator: initiator}]
	return ok
}

// PendingCount returns the number of waiting ticks.
func (s *MemoryScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Claim removes and returns every tick due at or before now.
func (s *MemoryScheduler) Claim(ctx context.Context) ([]DueTick, error) {
	return s.claimUpTo(ctx, 0)
}

// claimUpTo removes and returns at most limit due ticks, the earliest
// first. A limit of zero or less claims all of them.
func (s *MemoryScheduler) claimUpTo(_ context.Context, limit int) ([]DueTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	type dueKey struct {
		key   scheduleKey
		runAt time.Time
	}
	var ready []dueKey
	for key, runAt := range s.pending {
		if !runAt.After(now) {
			ready = append(ready, dueKey{key: key, runAt: runAt})
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].runAt.Before(ready[j].runAt) })
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	due := make([]DueTick, 0, len(ready))
	for _, r := range ready {
		due = append(due, DueTick{RecordID: r.key.id, Initiator: r.key.initiator})
		delete(s.pending, r.key)
	}
	return due, nil
}

// Run dispatches due ticks to tick until ctx is cancelled, then waits for
// ticks already running.
func (s *MemoryScheduler) Run(ctx context.Context, tick TickFunc) {
	poll(ctx, pollConfig{
		interval: s.interval,
		workers:  s.workers,
		logger:   s.logger,
		claim:    s.claimUpTo,
		tick:     tick,
	})
}

// RunDue claims every due tick and runs it once, returning when all
// have finished.
func (s *MemoryScheduler) RunDue(ctx context.Context, tick TickFunc) {
	due, err := s.Claim(ctx)
	if err != nil || len(due) == 0 {
		return
	}
	cfg := pollConfig{workers: s.workers, logger: s.logger, tick: tick}

	var g errgroup.Group
	g.SetLimit(cfg.workers)
	for _, t := range due {
		t := t
		g.Go(func() error {
			cfg.run(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
}

type pollConfig struct {
	interval time.Duration
	workers  int
	logger   *slog.Logger
	claim    func(ctx context.Context, limit int) ([]DueTick, error)
	tick     TickFunc
	done     func(ctx context.Context, t DueTick)
}

// run executes one claimed tick. Failures are logged; retrying is up to
// whoever schedules the next tick.
func (cfg pollConfig) run(ctx context.Context, t DueTick) {
	if err := cfg.tick(ctx, t.RecordID, t.Initiator); err != nil {
		cfg.logger.Warn("tick failed",
			"record_id", t.RecordID,
			"initiator", t.Initiator,
			"error", err,
		)
	}
	if cfg.done != nil {
		cfg.done(ctx, t)
	}
}

// poll is the loop shared by the schedulers. Workers are held for the
// life of the loop: each poll claims only as many ticks as there are idle
// workers and never waits for ticks started by earlier polls, so a slow
// tick only holds up its own record.
func poll(ctx context.Context, cfg pollConfig) {
	cfg.logger.Info("tick scheduler started", "interval", cfg.interval, "workers", cfg.workers)

	workers := semaphore.NewWeighted(int64(cfg.workers))
	var running sync.WaitGroup

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			running.Wait()
			cfg.logger.Info("tick scheduler stopped")
			return
		case <-ticker.C:
			dispatchDue(ctx, cfg, workers, &running)
		}
	}
}

// dispatchDue reserves every idle worker, claims at most that many due
// ticks and starts them. Reservations without a tick are handed back.
func dispatchDue(ctx context.Context, cfg pollConfig, workers *semaphore.Weighted, running *sync.WaitGroup) {
	idle := 0
	for idle < cfg.workers && workers.TryAcquire(1) {
		idle++
	}
	if idle == 0 {
		return
	}

	due, err := cfg.claim(ctx, idle)
	if err != nil {
		workers.Release(int64(idle))
		if ctx.Err() == nil {
			cfg.logger.Error("claim due ticks failed", "error", err)
		}
		return
	}
	if unused := idle - len(due); unused > 0 {
		workers.Release(int64(unused))
	}

	for _, t := range due {
		running.Add(1)
		go func(t DueTick) {
			defer running.Done()
			defer workers.Release(1)
			cfg.run(ctx, t)
		}(t)
	}
}
