// Package cron provides a periodic scheduler that fires a job whenever a
// cron expression comes due.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the schedule and the job to run.
type Config struct {
	Expr     string // 5-field cron expression
	Name     string // job name for log lines
	Job      func(ctx context.Context, now time.Time)
	Logger   *slog.Logger
	Interval time.Duration // tick granularity; defaults to 1 minute if zero
}

// Scheduler ticks at a coarse interval and fires the job each time the
// expression's next run time has passed. Missed ticks collapse into a single
// fire; the job is never run concurrently with itself.
type Scheduler struct {
	schedule cronlib.Schedule
	name     string
	job      func(ctx context.Context, now time.Time)
	logger   *slog.Logger
	interval time.Duration
	next     time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler parses the expression and prepares a scheduler. The first run
// is the next due time after now.
func NewScheduler(cfg Config) (*Scheduler, error) {
	schedule, err := cronParser.Parse(cfg.Expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", cfg.Expr, err)
	}
	if cfg.Job == nil {
		return nil, fmt.Errorf("scheduler %q has no job", cfg.Name)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		schedule: schedule,
		name:     cfg.Name,
		job:      cfg.Job,
		logger:   logger,
		interval: interval,
		next:     schedule.Next(time.Now()),
	}, nil
}

// Next returns the upcoming run time.
func (s *Scheduler) Next() time.Time {
	return s.next
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "job", s.name, "next_run_at", s.next)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped", "job", s.name)
}

// loop is the main scheduler loop. It ticks at the configured interval and
// fires when the next run time has passed.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Check immediately on startup, then on each tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires the job if the schedule is due and advances the next run time.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	if now.Before(s.next) {
		return
	}
	s.job(ctx, now)
	s.next = s.schedule.Next(now)
	s.logger.Info("schedule fired",
		"job", s.name,
		"next_run_at", s.next,
	)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
