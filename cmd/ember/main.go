package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"github.com/emberworks/ember/internal/bus"
	"github.com/emberworks/ember/internal/config"
	"github.com/emberworks/ember/internal/dispatch"
	"github.com/emberworks/ember/internal/maintenance"
	otelPkg "github.com/emberworks/ember/internal/otel"
	"github.com/emberworks/ember/internal/store"
	"github.com/emberworks/ember/internal/telemetry"
	"github.com/emberworks/ember/internal/tui"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

INTERACTIVE MODE (default):
  %s                          Start the project workbench TUI

HEADLESS MODE:
  %s -headless                Run without the TUI (logs to stdout)

SUBCOMMANDS:
  %s export [-o file]         Write all projects, tags, and features as JSON
  %s import <file>            Replay a JSON archive into the database
                              Use "-" to read from stdin
  %s backup [-verify]         Take a database snapshot now
  %s doctor [-json]           Run diagnostic checks
                              Flags: -json for JSON output

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  EMBER_HOME              Data directory (default: ~/.ember)
  EMBER_NO_TUI            Set to 1 to disable the TUI
  EMBER_LOG_LEVEL         Override log_level from config.yaml

EXAMPLES:
  Interactive workbench:  %s
  Snapshot the database:  %s backup
  Move data elsewhere:    %s export -o projects.json
  Run diagnostics:        %s doctor
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	_ = godotenv.Load()

	interactive := isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("EMBER_NO_TUI") == ""
	headless := flag.Bool("headless", false, "run without the TUI (logs to stdout)")
	flag.Usage = printUsage
	flag.Parse()

	if *headless {
		interactive = false
	}

	// Quiet logs (file-only) in interactive mode so the workbench stays clean.
	quietLogs := interactive

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI subcommands (one-shot actions).
	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "export":
			os.Exit(runExportCommand(ctx, args[1:]))
		case "import":
			os.Exit(runImportCommand(ctx, args[1:]))
		case "backup":
			os.Exit(runBackupCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	if cfg.NeedsGenesis {
		// First run: persist the defaults so the user has a file to edit.
		if err := config.WriteDefault(cfg.HomeDir); err != nil {
			fatalStartup(logger, "E_CONFIG_WRITE", err)
		}
		logger.Info("config.yaml written with defaults", "home", cfg.HomeDir)
		cfg, err = config.Load()
		if err != nil {
			fatalStartup(logger, "E_CONFIG_RELOAD", err)
		}
	}

	// Create event bus early so every later component can publish on it.
	eventBus := bus.New()

	// Initialize OpenTelemetry (no-op when disabled, zero overhead).
	otelProvider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}

	st, err := store.Open(store.Options{Path: cfg.DatabasePath(), MaxConns: cfg.WorkerCount})
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer st.Close()
	logger.Info("startup phase", "phase", "schema_migrated", "db", st.Path())

	if err := os.MkdirAll(cfg.BackupDir(), 0o755); err != nil {
		fatalStartup(logger, "E_BACKUP_DIR_CREATE", err)
	}

	// maintMu serializes runner swaps between the reload goroutine and
	// shutdown.
	var maintMu sync.Mutex
	maint, err := newMaintenance(st, logger, cfg, eventBus, metrics)
	if err != nil {
		fatalStartup(logger, "E_MAINTENANCE_INIT", err)
	}
	maint.Start(ctx)
	defer func() {
		maintMu.Lock()
		maint.Stop()
		maintMu.Unlock()
	}()
	logger.Info("startup phase", "phase", "maintenance_armed", "next_backup", maint.Next())

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		active := cfg
		for ev := range confWatcher.Events() {
			newCfg, err := config.Load()
			if err != nil {
				logger.Error("config.yaml reload failed", "error", err)
				continue
			}
			telemetry.SetLevel(newCfg.LogLevel)

			if active.Maintenance != newCfg.Maintenance {
				replacement, err := newMaintenance(st, logger, newCfg, eventBus, metrics)
				if err != nil {
					logger.Error("backup schedule reload rejected; retaining previous schedule", "error", err)
				} else {
					maintMu.Lock()
					maint.Stop()
					maint = replacement
					maint.Start(ctx)
					maintMu.Unlock()
					logger.Info("backup schedule reloaded", "next_backup", replacement.Next())
				}
			}

			active = newCfg
			eventBus.Publish(bus.TopicConfigReloaded, bus.ConfigReloadedEvent{Path: ev.Path})
			logger.Info("config.yaml hot-reloaded", "fingerprint", newCfg.Fingerprint())
		}
	}()

	loop := dispatch.New(st, logger, dispatch.Config{
		Workers:      cfg.WorkerCount,
		QueueDepth:   cfg.MaxQueueDepth,
		DrainTimeout: cfg.DrainTimeout(),
		Bus:          eventBus,
		Tracer:       otelProvider.Tracer,
		Metrics:      metrics,
	})
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()
	logger.Info("startup phase", "phase", "dispatcher_started", "workers", cfg.WorkerCount)

	if interactive {
		// Run the workbench. When it exits, cancel the context to shut down.
		go func() {
			if err := tui.Run(ctx, tui.Config{
				Loop:    loop,
				Bus:     eventBus,
				Logger:  logger,
				HomeDir: cfg.HomeDir,
				Theme:   cfg.Theme,
				Version: Version,
			}); err != nil && ctx.Err() == nil {
				logger.Error("workbench exited with error", "error", err)
			}
			stop()
		}()
	} else {
		maintMu.Lock()
		nextBackup := maint.Next()
		maintMu.Unlock()
		if err := printHeadlessSummary(ctx, st, cfg, nextBackup); err != nil {
			logger.Warn("headless summary failed", "error", err)
		}
		logger.Info("running headless; send SIGINT or SIGTERM to exit")
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// The canceled context closes intake; the dispatcher drains in-flight
	// task units within the configured window before Run returns.
	select {
	case <-loopDone:
	case <-time.After(cfg.DrainTimeout() + 2*time.Second):
		logger.Warn("dispatcher did not drain in time")
	}
	logger.Info("shutdown complete")
}

// newMaintenance builds the housekeeping runner from config. An empty
// schedule disables the cron job while keeping manual backups working.
func newMaintenance(st *store.Store, logger *slog.Logger, cfg config.Config, b *bus.Bus, m *otelPkg.Metrics) (*maintenance.Runner, error) {
	schedule := ""
	if cfg.Maintenance.BackupEnabled {
		schedule = cfg.Maintenance.BackupSchedule
	}
	return maintenance.New(st, logger, maintenance.Config{
		Dir:      cfg.BackupDir(),
		Schedule: schedule,
		Keep:     cfg.Maintenance.BackupKeep,
		Bus:      b,
		Metrics:  m,
	})
}

// printHeadlessSummary writes a plain-text snapshot of the workspace so a
// non-TTY invocation sees something useful instead of a blank alt screen.
func printHeadlessSummary(ctx context.Context, st *store.Store, cfg config.Config, nextBackup time.Time) error {
	counts, err := st.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("ember %s\n", Version)
	fmt.Printf("  database:  %s\n", cfg.DatabasePath())
	fmt.Printf("  projects:  %d\n", counts.Projects)
	fmt.Printf("  tags:      %d\n", counts.Tags)
	fmt.Printf("  features:  %d\n", counts.Features)
	if nextBackup.IsZero() {
		fmt.Printf("  backups:   disabled\n")
	} else {
		fmt.Printf("  backups:   next at %s\n", nextBackup.Format(time.RFC3339))
	}
	fmt.Printf("  logs:      %s\n", telemetry.LogPath(cfg.HomeDir))
	return nil
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		// The logger itself may be what failed; emit the same shape by hand.
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"ember","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}
