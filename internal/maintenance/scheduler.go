// Package maintenance runs Ember's background housekeeping: scheduled online
// backups with retention, WAL checkpoints, and integrity verification.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/emberworks/ember/internal/bus"
	"github.com/emberworks/ember/internal/cron"
	"github.com/emberworks/ember/internal/otel"
	"github.com/emberworks/ember/internal/store"
)

const (
	backupPrefix = "ember-"
	backupSuffix = ".db"
)

// Config wires the runner. An empty Schedule disables the cron job; manual
// backups keep working either way.
type Config struct {
	Dir      string // snapshot directory
	Schedule string // 5-field cron expression, empty disables
	Keep     int    // snapshots retained, default 5
	Bus      *bus.Bus
	Metrics  *otel.Metrics
}

// Runner owns backup, checkpoint, and integrity housekeeping for one store.
type Runner struct {
	store   *store.Store
	logger  *slog.Logger
	bus     *bus.Bus
	metrics *otel.Metrics
	dir     string
	keep    int
	sched   *cron.Scheduler
}

func New(st *store.Store, logger *slog.Logger, cfg Config) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 5
	}
	r := &Runner{
		store:   st,
		logger:  logger,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		dir:     cfg.Dir,
		keep:    cfg.Keep,
	}
	if cfg.Schedule != "" {
		sched, err := cron.NewScheduler(cron.Config{
			Expr:   cfg.Schedule,
			Name:   "backup",
			Job:    r.scheduledRun,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("configure backup schedule: %w", err)
		}
		r.sched = sched
	}
	return r, nil
}

// Start arms the schedule, if any. Safe to call with backups disabled.
func (r *Runner) Start(ctx context.Context) {
	if r.sched == nil {
		return
	}
	r.sched.Start(ctx)
	r.logger.Info("maintenance schedule armed", "next_backup", r.sched.Next())
}

func (r *Runner) Stop() {
	if r.sched != nil {
		r.sched.Stop()
	}
}

// Next reports the upcoming scheduled backup, zero when disabled.
func (r *Runner) Next() time.Time {
	if r.sched == nil {
		return time.Time{}
	}
	return r.sched.Next()
}

func (r *Runner) scheduledRun(ctx context.Context, now time.Time) {
	if _, err := r.backupAt(ctx, now); err != nil {
		// backupAt already logged and published the failure.
		return
	}
	_ = r.VerifyIntegrity(ctx)
}

// RunBackup takes an online snapshot now and applies retention. Returns the
// snapshot path.
func (r *Runner) RunBackup(ctx context.Context) (string, error) {
	return r.backupAt(ctx, time.Now())
}

func (r *Runner) backupAt(ctx context.Context, now time.Time) (string, error) {
	dest := filepath.Join(r.dir, backupPrefix+now.UTC().Format("20060102-150405")+backupSuffix)
	start := time.Now()

	// Fold the WAL into the main file first so the snapshot is compact.
	if err := r.store.Checkpoint(ctx); err != nil {
		r.logger.Warn("wal checkpoint before backup failed", "error", err)
	}

	if err := r.store.BackupTo(ctx, dest); err != nil {
		r.logger.Error("backup failed", "dest", dest, "error", err)
		r.publish(bus.TopicBackupFailed, bus.BackupEvent{Path: dest, Err: err.Error()})
		return "", err
	}

	took := time.Since(start)
	pruned, err := r.prune()
	if err != nil {
		r.logger.Warn("backup retention sweep failed", "dir", r.dir, "error", err)
	}

	var size int64
	if info, statErr := os.Stat(dest); statErr == nil {
		size = info.Size()
	}
	if r.metrics != nil {
		r.metrics.BackupDuration.Record(ctx, took.Seconds())
	}
	r.publish(bus.TopicBackupCompleted, bus.BackupEvent{
		Path:      dest,
		SizeBytes: size,
		TookMS:    took.Milliseconds(),
		Pruned:    pruned,
	})
	r.logger.Info("backup completed",
		"dest", dest, "size_bytes", size, "took_ms", took.Milliseconds(), "pruned", pruned)
	return dest, nil
}

// prune removes the oldest snapshots beyond the retention count. Timestamped
// names sort lexicographically, so name order is age order.
func (r *Runner) prune() (int, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, backupPrefix+"*"+backupSuffix))
	if err != nil {
		return 0, err
	}
	if len(matches) <= r.keep {
		return 0, nil
	}
	sort.Strings(matches)
	removed := 0
	for _, path := range matches[:len(matches)-r.keep] {
		if err := os.Remove(path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// VerifyIntegrity runs the store's integrity check and reports the verdict.
func (r *Runner) VerifyIntegrity(ctx context.Context) error {
	err := r.store.CheckIntegrity(ctx)
	evt := bus.IntegrityEvent{Healthy: err == nil}
	if err != nil {
		evt.Detail = err.Error()
		r.logger.Error("integrity check failed", "error", err)
	} else {
		r.logger.Debug("integrity check passed")
	}
	r.publish(bus.TopicIntegrityChecked, evt)
	return err
}

func (r *Runner) publish(topic string, payload any) {
	if r.bus != nil {
		r.bus.Publish(topic, payload)
	}
}
