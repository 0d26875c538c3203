// Package cron watches for quarter boundaries and publishes a rollover
// event when the calendar quarter containing "now" moves past the active
// planning period. The session itself never auto-switches; surfaces decide
// how to prompt the user.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/quarterdeck/internal/bus"
	"github.com/basket/quarterdeck/internal/period"
)

// quarterBoundaryExpr fires at midnight on the first day of each quarter.
const quarterBoundaryExpr = "0 0 1 1,4,7,10 *"

// cronParser parses standard 5-field cron expressions.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// PeriodSource reports the active planning period.
type PeriodSource interface {
	Period() period.Key
}

// Config holds the dependencies for the rollover scheduler.
type Config struct {
	Session  PeriodSource
	Bus      *bus.Bus
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
	Now      func() time.Time
}

// Scheduler periodically compares the calendar quarter against the active
// period and publishes at most one rollover event per lapsed quarter.
type Scheduler struct {
	session  PeriodSource
	bus      *bus.Bus
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	notified map[period.Key]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		session:  cfg.Session,
		bus:      cfg.Bus,
		logger:   logger,
		interval: interval,
		now:      now,
		notified: make(map[period.Key]bool),
	}
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("rollover scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("rollover scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one rollover check. Exported so tests and surfaces can force a
// check without waiting for the interval.
func (s *Scheduler) Tick() {
	active := s.session.Period()
	current := period.Current(s.now())
	if current == active || !current.After(active) {
		return
	}

	s.mu.Lock()
	already := s.notified[current]
	if !already {
		s.notified[current] = true
	}
	s.mu.Unlock()
	if already {
		return
	}

	s.logger.Info("quarter rollover detected",
		"active_period", active.String(),
		"current_period", current.String(),
	)
	if s.bus != nil {
		s.bus.Publish(bus.TopicPeriodRollover, bus.PeriodRolloverEvent{
			ActivePeriod:  active.String(),
			CurrentPeriod: current.String(),
		})
	}
}

// NextBoundary returns the next quarter-boundary instant after the given
// time, from the fixed quarter-boundary cron expression.
func NextBoundary(after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(quarterBoundaryExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
