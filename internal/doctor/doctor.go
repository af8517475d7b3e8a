package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/emberworks/ember/internal/config"
	"github.com/emberworks/ember/internal/store"
)

// CheckResult is one diagnostic verdict.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Diagnosis is the full doctor report.
type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Healthy reports whether no check failed. WARN and SKIP do not count as
// failures.
func (d Diagnosis) Healthy() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return false
		}
	}
	return true
}

// Run executes all diagnostic checks. Checks are independent: a failing
// database never hides a permissions problem.
func Run(ctx context.Context, cfg config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, config.Config) CheckResult{
		checkConfig,
		checkDatabase,
		checkMigrations,
		checkIntegrity,
		checkData,
		checkPermissions,
		checkBackups,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg config.Config) CheckResult {
	if cfg.NeedsGenesis {
		return CheckResult{
			Name:    "Config",
			Status:  "WARN",
			Message: "No config file yet (defaults in force)",
			Detail:  fmt.Sprintf("Expected at %s", config.ConfigPath(cfg.HomeDir)),
		}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", config.ConfigPath(cfg.HomeDir))}
}

// openExisting opens the database only if the file already exists. Doctor
// must not create a database as a side effect on a fresh home.
func openExisting(cfg config.Config) (*store.Store, *CheckResult) {
	path := cfg.DatabasePath()
	if _, err := os.Stat(path); err != nil {
		return nil, &CheckResult{Status: "SKIP", Message: "Database not created yet (first run pending)"}
	}
	st, err := store.Open(store.Options{Path: path})
	if err != nil {
		return nil, &CheckResult{Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	return st, nil
}

func checkDatabase(_ context.Context, cfg config.Config) CheckResult {
	st, skip := openExisting(cfg)
	if skip != nil {
		skip.Name = "Database"
		return *skip
	}
	defer st.Close()
	return CheckResult{Name: "Database", Status: "PASS", Message: fmt.Sprintf("Opened %s", cfg.DatabasePath())}
}

func checkMigrations(ctx context.Context, cfg config.Config) CheckResult {
	st, skip := openExisting(cfg)
	if skip != nil {
		skip.Name = "Migrations"
		return *skip
	}
	defer st.Close()

	recs, err := st.Migrations(ctx)
	if err != nil {
		return CheckResult{Name: "Migrations", Status: "FAIL", Message: fmt.Sprintf("Ledger unreadable: %v", err)}
	}
	var current string
	for _, rec := range recs {
		if !rec.Success {
			return CheckResult{
				Name:    "Migrations",
				Status:  "FAIL",
				Message: fmt.Sprintf("Migration %s recorded as failed", rec.Version),
				Detail:  "Restore from backup or remove the failed ledger row after manual repair",
			}
		}
		current = rec.Version
	}
	if current != store.LatestVersion() {
		return CheckResult{
			Name:    "Migrations",
			Status:  "FAIL",
			Message: fmt.Sprintf("Schema at %s, binary expects %s", current, store.LatestVersion()),
		}
	}
	return CheckResult{Name: "Migrations", Status: "PASS", Message: fmt.Sprintf("%d applied, current %s", len(recs), current)}
}

func checkIntegrity(ctx context.Context, cfg config.Config) CheckResult {
	st, skip := openExisting(cfg)
	if skip != nil {
		skip.Name = "Integrity"
		return *skip
	}
	defer st.Close()

	if err := st.CheckIntegrity(ctx); err != nil {
		return CheckResult{Name: "Integrity", Status: "FAIL", Message: fmt.Sprintf("integrity_check reported damage: %v", err)}
	}
	return CheckResult{Name: "Integrity", Status: "PASS", Message: "integrity_check ok"}
}

func checkData(ctx context.Context, cfg config.Config) CheckResult {
	st, skip := openExisting(cfg)
	if skip != nil {
		skip.Name = "Data"
		return *skip
	}
	defer st.Close()

	counts, err := st.Counts(ctx)
	if err != nil {
		return CheckResult{Name: "Data", Status: "FAIL", Message: fmt.Sprintf("Count query failed: %v", err)}
	}
	return CheckResult{
		Name:    "Data",
		Status:  "PASS",
		Message: fmt.Sprintf("%d projects, %d tags, %d features", counts.Projects, counts.Tags, counts.Features),
		Detail:  fmt.Sprintf("%d tag attachments", counts.ProjectTags),
	}
}

func checkPermissions(_ context.Context, cfg config.Config) CheckResult {
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkBackups(_ context.Context, cfg config.Config) CheckResult {
	if !cfg.Maintenance.BackupEnabled {
		return CheckResult{Name: "Backups", Status: "SKIP", Message: "Backups disabled in config"}
	}

	entries, err := os.ReadDir(cfg.BackupDir())
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{
				Name:    "Backups",
				Status:  "WARN",
				Message: "No snapshots yet",
				Detail:  fmt.Sprintf("Schedule %q will create %s", cfg.Maintenance.BackupSchedule, cfg.BackupDir()),
			}
		}
		return CheckResult{Name: "Backups", Status: "FAIL", Message: fmt.Sprintf("Snapshot dir unreadable: %v", err)}
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "ember-") && strings.HasSuffix(name, ".db") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return CheckResult{
			Name:    "Backups",
			Status:  "WARN",
			Message: "No snapshots yet",
			Detail:  fmt.Sprintf("Schedule %q will create %s", cfg.Maintenance.BackupSchedule, cfg.BackupDir()),
		}
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	return CheckResult{
		Name:    "Backups",
		Status:  "PASS",
		Message: fmt.Sprintf("%d snapshots, newest %s", len(names), names[len(names)-1]),
	}
}
