package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emberworks/ember/internal/config"
)

func writeConfig(t *testing.T, home, contents string) {
	t.Helper()
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(config.ConfigPath(home), []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoad_FromEmberHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "ember-home")
	writeConfig(t, home, "worker_count: 3\nlog_level: debug\ntheme: dark\n")
	t.Setenv("EMBER_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HomeDir != home {
		t.Fatalf("expected home %q, got %q", home, cfg.HomeDir)
	}
	if cfg.WorkerCount != 3 {
		t.Fatalf("expected worker_count=3, got %d", cfg.WorkerCount)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level=debug, got %q", cfg.LogLevel)
	}
	if cfg.Theme != "dark" {
		t.Fatalf("expected theme=dark, got %q", cfg.Theme)
	}
	if cfg.NeedsGenesis {
		t.Fatal("config file exists, NeedsGenesis must be false")
	}
}

func TestLoad_HomeFallback(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("EMBER_HOME", "")
	t.Setenv("HOME", tmp)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := filepath.Join(tmp, ".ember")
	if cfg.HomeDir != want {
		t.Fatalf("expected home %q, got %q", want, cfg.HomeDir)
	}
}

func TestLoad_NeedsGenesisWhenNoConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "fresh")
	t.Setenv("EMBER_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatal("expected NeedsGenesis=true when config.yaml missing")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	home := filepath.Join(t.TempDir(), "ember-home")
	writeConfig(t, home, "{}\n")
	t.Setenv("EMBER_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.WorkerCount != 1 {
		t.Fatalf("expected default worker_count=1, got %d", cfg.WorkerCount)
	}
	if cfg.MaxQueueDepth != 32 {
		t.Fatalf("expected default max_queue_depth=32, got %d", cfg.MaxQueueDepth)
	}
	if cfg.DrainTimeoutSeconds != 5 {
		t.Fatalf("expected default drain_timeout_seconds=5, got %d", cfg.DrainTimeoutSeconds)
	}
	if cfg.Theme != "auto" {
		t.Fatalf("expected default theme=auto, got %q", cfg.Theme)
	}
	if !cfg.Maintenance.BackupEnabled || cfg.Maintenance.BackupSchedule != "0 3 * * *" || cfg.Maintenance.BackupKeep != 5 {
		t.Fatalf("unexpected maintenance defaults: %+v", cfg.Maintenance)
	}
	if cfg.DatabasePath() != filepath.Join(home, "ember.db") {
		t.Fatalf("unexpected db path: %q", cfg.DatabasePath())
	}
	if cfg.BackupDir() != filepath.Join(home, "backups") {
		t.Fatalf("unexpected backup dir: %q", cfg.BackupDir())
	}
	if cfg.Telemetry.ServiceName != "ember" {
		t.Fatalf("expected telemetry service ember, got %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "ember-home")
	writeConfig(t, home, "worker_count: 2\nlog_level: info\n")
	t.Setenv("EMBER_HOME", home)
	t.Setenv("EMBER_WORKERS", "4")
	t.Setenv("EMBER_LOG_LEVEL", "error")
	t.Setenv("EMBER_DB_PATH", "/tmp/elsewhere.db")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.WorkerCount != 4 {
		t.Fatalf("env override lost: worker_count=%d", cfg.WorkerCount)
	}
	if cfg.LogLevel != "error" {
		t.Fatalf("env override lost: log_level=%q", cfg.LogLevel)
	}
	if cfg.DatabasePath() != "/tmp/elsewhere.db" {
		t.Fatalf("env override lost: db=%q", cfg.DatabasePath())
	}
}

func TestLoad_NormalizeClampsWorkers(t *testing.T) {
	home := filepath.Join(t.TempDir(), "ember-home")
	writeConfig(t, home, "worker_count: 64\ntheme: neon\n")
	t.Setenv("EMBER_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.WorkerCount != 8 {
		t.Fatalf("expected worker_count clamped to 8, got %d", cfg.WorkerCount)
	}
	if cfg.Theme != "auto" {
		t.Fatalf("expected unknown theme to fall back to auto, got %q", cfg.Theme)
	}
}

func TestLoad_RejectsBadBackupSchedule(t *testing.T) {
	home := filepath.Join(t.TempDir(), "ember-home")
	writeConfig(t, home, "maintenance:\n  backup_enabled: true\n  backup_schedule: \"whenever\"\n")
	t.Setenv("EMBER_HOME", home)

	_, err := config.Load()
	if err == nil {
		t.Fatal("expected error for unparseable schedule")
	}
	if !strings.Contains(err.Error(), "backup_schedule") {
		t.Fatalf("expected backup_schedule error, got %v", err)
	}
}

func TestLoad_IgnoresScheduleWhenBackupsDisabled(t *testing.T) {
	home := filepath.Join(t.TempDir(), "ember-home")
	writeConfig(t, home, "maintenance:\n  backup_enabled: false\n  backup_schedule: \"whenever\"\n")
	t.Setenv("EMBER_HOME", home)

	if _, err := config.Load(); err != nil {
		t.Fatalf("disabled backups must not validate the schedule: %v", err)
	}
}

func TestWriteDefault_CreatesEditableFile(t *testing.T) {
	home := filepath.Join(t.TempDir(), "ember-home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := config.WriteDefault(home); err != nil {
		t.Fatalf("write default: %v", err)
	}
	data, err := os.ReadFile(config.ConfigPath(home))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "worker_count:") {
		t.Fatalf("expected yaml keys in default config, got %q", string(data))
	}

	// A second call must not clobber user edits.
	if err := os.WriteFile(config.ConfigPath(home), []byte("worker_count: 7\n"), 0o644); err != nil {
		t.Fatalf("edit config: %v", err)
	}
	if err := config.WriteDefault(home); err != nil {
		t.Fatalf("write default again: %v", err)
	}
	data, _ = os.ReadFile(config.ConfigPath(home))
	if !strings.Contains(string(data), "worker_count: 7") {
		t.Fatalf("second WriteDefault clobbered user edits: %q", string(data))
	}
}

func TestSetTheme_PreservesUnknownKeys(t *testing.T) {
	home := filepath.Join(t.TempDir(), "ember-home")
	writeConfig(t, home, "worker_count: 3\ncustom_note: keep me\n")

	if err := config.SetTheme(home, "light"); err != nil {
		t.Fatalf("set theme: %v", err)
	}

	data, err := os.ReadFile(config.ConfigPath(home))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "theme: light") {
		t.Fatalf("theme not written: %q", out)
	}
	if !strings.Contains(out, "custom_note: keep me") {
		t.Fatalf("unknown key lost: %q", out)
	}
	if !strings.Contains(out, "worker_count: 3") {
		t.Fatalf("existing key lost: %q", out)
	}
}

func TestSetTheme_RejectsUnknown(t *testing.T) {
	home := t.TempDir()
	if err := config.SetTheme(home, "sparkle"); err == nil {
		t.Fatal("expected error for unknown theme")
	}
}

func TestFingerprint_TracksEffectiveSettings(t *testing.T) {
	home := filepath.Join(t.TempDir(), "ember-home")
	writeConfig(t, home, "worker_count: 2\n")
	t.Setenv("EMBER_HOME", home)

	a, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	b, err := config.Load()
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical settings must fingerprint identically")
	}

	writeConfig(t, home, "worker_count: 5\n")
	c, err := config.Load()
	if err != nil {
		t.Fatalf("load changed config: %v", err)
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("changed settings must change the fingerprint")
	}
}
