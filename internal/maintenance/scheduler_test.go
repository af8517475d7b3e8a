package maintenance

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emberworks/ember/internal/bus"
	"github.com/emberworks/ember/internal/store"
)

func newTestRunner(t *testing.T, cfg Config) (*Runner, *store.Store, *bus.Bus) {
	t.Helper()
	home := t.TempDir()
	st, err := store.Open(store.Options{Path: filepath.Join(home, "ember.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	b := bus.New()
	cfg.Bus = b
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(home, "backups")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := New(st, logger, cfg)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r, st, b
}

func TestRunBackup_ProducesOpenableSnapshot(t *testing.T) {
	r, st, _ := newTestRunner(t, Config{})
	ctx := context.Background()

	p, err := st.CreateProject(ctx, "archived", nil)
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}

	path, err := r.RunBackup(ctx)
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), backupPrefix) {
		t.Errorf("snapshot name = %q, want %q prefix", filepath.Base(path), backupPrefix)
	}

	restored, err := store.Open(store.Options{Path: path})
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer restored.Close()

	got, err := restored.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get project from snapshot: %v", err)
	}
	if got.Name != "archived" {
		t.Errorf("snapshot project name = %q, want archived", got.Name)
	}
}

func TestBackupAt_AppliesRetention(t *testing.T) {
	r, _, b := newTestRunner(t, Config{Keep: 2})
	ctx := context.Background()
	completed := b.Subscribe(bus.TopicBackupCompleted)
	defer b.Unsubscribe(completed)

	base := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := r.backupAt(ctx, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("backup %d: %v", i, err)
		}
	}

	matches, err := filepath.Glob(filepath.Join(r.dir, backupPrefix+"*"+backupSuffix))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("snapshots on disk = %v, want 2", matches)
	}
	for _, path := range matches {
		if strings.Contains(path, "030000") {
			t.Errorf("oldest snapshot %q should have been pruned", path)
		}
	}

	var lastPruned int
	for i := 0; i < 3; i++ {
		ev := <-completed.Ch()
		lastPruned = ev.Payload.(bus.BackupEvent).Pruned
	}
	if lastPruned != 1 {
		t.Errorf("third backup pruned = %d, want 1", lastPruned)
	}
}

func TestBackupAt_DuplicateStampPublishesFailure(t *testing.T) {
	r, _, b := newTestRunner(t, Config{})
	ctx := context.Background()
	failed := b.Subscribe(bus.TopicBackupFailed)
	defer b.Unsubscribe(failed)

	stamp := time.Date(2026, 8, 25, 4, 30, 0, 0, time.UTC)
	if _, err := r.backupAt(ctx, stamp); err != nil {
		t.Fatalf("first backup: %v", err)
	}
	_, err := r.backupAt(ctx, stamp)
	if err == nil {
		t.Fatal("expected the second backup to refuse the existing destination")
	}
	if !store.IsConflict(err) {
		t.Errorf("error = %v, want a conflict", err)
	}

	select {
	case ev := <-failed.Ch():
		evt := ev.Payload.(bus.BackupEvent)
		if evt.Err == "" {
			t.Error("failure event must carry the error message")
		}
	default:
		t.Error("expected a backup failed event")
	}
}

func TestVerifyIntegrity_ReportsHealthy(t *testing.T) {
	r, _, b := newTestRunner(t, Config{})
	checked := b.Subscribe(bus.TopicIntegrityChecked)
	defer b.Unsubscribe(checked)

	if err := r.VerifyIntegrity(context.Background()); err != nil {
		t.Fatalf("integrity: %v", err)
	}

	select {
	case ev := <-checked.Ch():
		evt := ev.Payload.(bus.IntegrityEvent)
		if !evt.Healthy || evt.Detail != "" {
			t.Errorf("integrity event = %#v, want healthy", evt)
		}
	default:
		t.Error("expected an integrity event")
	}
}

func TestScheduledRun_BacksUpThenVerifies(t *testing.T) {
	r, _, b := newTestRunner(t, Config{Schedule: "0 3 * * *"})
	completed := b.Subscribe(bus.TopicBackupCompleted)
	defer b.Unsubscribe(completed)
	checked := b.Subscribe(bus.TopicIntegrityChecked)
	defer b.Unsubscribe(checked)

	r.scheduledRun(context.Background(), time.Now())

	select {
	case <-completed.Ch():
	default:
		t.Error("expected a backup completed event")
	}
	select {
	case <-checked.Ch():
	default:
		t.Error("expected an integrity event")
	}
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	home := t.TempDir()
	st, err := store.Open(store.Options{Path: filepath.Join(home, "ember.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	_, err = New(st, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Schedule: "once in a while"})
	if err == nil {
		t.Fatal("expected an error for a malformed schedule")
	}
	if !strings.Contains(err.Error(), "backup schedule") {
		t.Errorf("error = %v, want it to name the backup schedule", err)
	}
}

func TestRunner_DisabledScheduleIsInert(t *testing.T) {
	r, _, _ := newTestRunner(t, Config{})

	if !r.Next().IsZero() {
		t.Errorf("next = %v, want zero with no schedule", r.Next())
	}
	// Start and Stop must be safe no-ops without a schedule.
	r.Start(context.Background())
	r.Stop()
}

func TestRunner_ScheduleArmsNextRun(t *testing.T) {
	r, _, _ := newTestRunner(t, Config{Schedule: "0 3 * * *"})

	next := r.Next()
	if next.IsZero() {
		t.Fatal("expected a seeded next run")
	}
	if !next.After(time.Now()) {
		t.Errorf("next = %v, want a future time", next)
	}
}
