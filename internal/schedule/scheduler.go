package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// DefaultTick is the control loop period.
const DefaultTick = 100 * time.Millisecond

// Result is what a check reports back to the scheduler.
type Result struct {
	FetchedAt time.Time
	OK        bool
}

// Checker runs one check of a resource.
type Checker interface {
	Check(ctx context.Context, res watch.Resource) Result
}

// Ticker supplies the loop's tick channel and the current time.
type Ticker interface {
	watch.Clock
	Tick(d time.Duration) (<-chan time.Time, func())
}

// Config tunes the scheduler.
type Config struct {
	Tick      time.Duration
	JitterMax time.Duration
}

// Scheduler dispatches due resources to the Checker on every tick.
type Scheduler struct {
	registry watch.Registry
	checker  Checker
	clock    Ticker
	states   *StateTable
	planner  Planner
	tick     time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// New constructs a Scheduler. states may be shared with callers that want to
// inspect runtime state; nil allocates a fresh table.
func New(registry watch.Registry, checker Checker, clock Ticker, states *StateTable, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if states == nil {
		states = NewStateTable()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		registry: registry,
		checker:  checker,
		clock:    clock,
		states:   states,
		planner:  Planner{JitterMax: cfg.JitterMax},
		tick:     cfg.Tick,
		logger:   logger,
	}
}

// States exposes the runtime state table.
func (s *Scheduler) States() *StateTable {
	return s.states
}

// Run ticks until ctx is cancelled, then waits for dispatched checks.
func (s *Scheduler) Run(ctx context.Context) error {
	ticks, stop := s.clock.Tick(s.tick)
	defer stop()
	s.logger.Info("scheduler started", zap.Duration("tick", s.tick))
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticks:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Warn("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single tick: list, prune vanished state, dispatch due.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	resources, err := s.registry.ListResources(ctx)
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}
	now := s.clock.Now()
	live := make(map[int64]struct{}, len(resources))
	for _, res := range resources {
		live[res.ID] = struct{}{}
	}
	if removed := s.states.Retain(live); removed > 0 {
		s.logger.Debug("dropped state for removed resources", zap.Int("count", removed))
	}
	for _, res := range resources {
		if !s.states.Due(res.ID, now) {
			continue
		}
		if !s.states.TryAcquire(res.ID) {
			continue
		}
		s.dispatch(ctx, res)
	}
	return nil
}

// Wait blocks until every dispatched check has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) dispatch(ctx context.Context, res watch.Resource) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.states.Release(res.ID)
		result := s.safeCheck(ctx, res)
		next := s.states.Update(res.ID, func(prev watch.RuntimeState) watch.RuntimeState {
			return s.planner.Next(res.Policy, res.Interval.Duration(), prev, result.FetchedAt, result.OK)
		})
		s.logger.Debug("check complete",
			zap.Int64("resource_id", res.ID),
			zap.Bool("ok", result.OK),
			zap.Time("next_due_at", next.NextDueAt),
			zap.Int("backoff_count", next.BackoffCount),
		)
	}()
}

// safeCheck converts a panicking check into a failed result so one resource
// cannot take down the loop.
func (s *Scheduler) safeCheck(ctx context.Context, res watch.Resource) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("check panicked",
				zap.Int64("resource_id", res.ID),
				zap.String("url", res.URL),
				zap.Any("panic", r),
			)
			result = Result{FetchedAt: s.clock.Now(), OK: false}
		}
	}()
	result = s.checker.Check(ctx, res)
	if result.FetchedAt.IsZero() {
		result.FetchedAt = s.clock.Now()
	}
	return result
}
