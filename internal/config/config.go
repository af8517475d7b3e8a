package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emberworks/ember/internal/cron"
	"github.com/emberworks/ember/internal/otel"
)

// MaintenanceConfig controls the background backup job.
type MaintenanceConfig struct {
	// BackupEnabled turns the scheduled snapshot job on.
	BackupEnabled bool `yaml:"backup_enabled"`
	// BackupSchedule is a 5-field cron expression.
	BackupSchedule string `yaml:"backup_schedule"`
	// BackupDir receives the snapshot files. Empty uses <home>/backups.
	BackupDir string `yaml:"backup_dir"`
	// BackupKeep is how many snapshots retention leaves behind.
	BackupKeep int `yaml:"backup_keep"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// WorkerCount sizes the background task pool. SQLite serializes writes,
	// so values above a handful only help read-heavy loads.
	WorkerCount int `yaml:"worker_count"`

	// MaxQueueDepth is the bound on queued task units before new requests
	// are rejected with a transient error. 0 uses the default.
	MaxQueueDepth int `yaml:"max_queue_depth"`

	// DrainTimeoutSeconds bounds how long shutdown waits for in-flight
	// tasks. 0 uses the default (5s).
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`

	LogLevel string `yaml:"log_level"`

	// DBPath overrides the database location. Empty uses <home>/ember.db.
	DBPath string `yaml:"db_path"`

	// Theme selects the TUI palette: "dark", "light", or "auto".
	Theme string `yaml:"theme"`

	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Telemetry   otel.Config       `yaml:"telemetry"`

	// NeedsGenesis is set when no config file existed yet.
	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// DatabasePath returns the effective database file location.
func (c Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.HomeDir, "ember.db")
}

// BackupDir returns the effective snapshot directory.
func (c Config) BackupDir() string {
	if c.Maintenance.BackupDir != "" {
		return c.Maintenance.BackupDir
	}
	return filepath.Join(c.HomeDir, "backups")
}

// DrainTimeout returns the shutdown drain bound as a duration.
func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// Fingerprint returns a stable hash of the active config, logged at startup
// so a support bundle shows which settings were in force.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "workers=%d|queue=%d|drain=%d|log=%s|db=%s|theme=%s|backup=%v/%s/%d",
		c.WorkerCount, c.MaxQueueDepth, c.DrainTimeoutSeconds, c.LogLevel,
		c.DatabasePath(), c.Theme,
		c.Maintenance.BackupEnabled, c.Maintenance.BackupSchedule, c.Maintenance.BackupKeep)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		WorkerCount:         1,
		MaxQueueDepth:       32,
		DrainTimeoutSeconds: 5,
		LogLevel:            "info",
		Theme:               "auto",
		Maintenance: MaintenanceConfig{
			BackupEnabled:  true,
			BackupSchedule: "0 3 * * *",
			BackupKeep:     5,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("EMBER_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".ember")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create ember home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validateSchedule(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteDefault persists the default config so a first run leaves an editable
// file behind. Existing files are left alone.
func WriteDefault(homeDir string) error {
	path := ConfigPath(homeDir)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	out, err := yaml.Marshal(defaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

func normalize(cfg *Config) {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.WorkerCount > 8 {
		cfg.WorkerCount = 8
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = 32
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = 5
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch cfg.Theme {
	case "dark", "light", "auto":
	default:
		cfg.Theme = "auto"
	}
	if strings.TrimSpace(cfg.Maintenance.BackupSchedule) == "" {
		cfg.Maintenance.BackupSchedule = "0 3 * * *"
	}
	if cfg.Maintenance.BackupKeep <= 0 {
		cfg.Maintenance.BackupKeep = 5
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ember"
	}
}

// validateSchedule rejects an unparseable backup schedule at startup rather
// than at 3am when the job would first fire.
func validateSchedule(cfg *Config) error {
	if !cfg.Maintenance.BackupEnabled {
		return nil
	}
	if _, err := cron.NextRunTime(cfg.Maintenance.BackupSchedule, time.Now()); err != nil {
		return fmt.Errorf("invalid backup_schedule %q: %w", cfg.Maintenance.BackupSchedule, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("EMBER_WORKERS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.WorkerCount = v
		}
	}
	if raw := os.Getenv("EMBER_QUEUE_DEPTH"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxQueueDepth = v
		}
	}
	if raw := os.Getenv("EMBER_DRAIN_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.DrainTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("EMBER_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("EMBER_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("EMBER_THEME"); raw != "" {
		cfg.Theme = raw
	}
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map if the file doesn't exist.
func loadRawConfig(path string) (map[string]any, error) {
	raw := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

// saveRawConfig marshals and writes a generic map back to config.yaml.
func saveRawConfig(path string, raw map[string]any) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SetTheme updates the theme in config.yaml, preserving other settings.
func SetTheme(homeDir, theme string) error {
	switch theme {
	case "dark", "light", "auto":
	default:
		return fmt.Errorf("unknown theme %q", theme)
	}
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	raw["theme"] = theme
	return saveRawConfig(configPath, raw)
}

