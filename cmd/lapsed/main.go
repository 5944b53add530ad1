package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/l1jgo/lapse/internal/config"
	"github.com/l1jgo/lapse/internal/core/event"
	coresys "github.com/l1jgo/lapse/internal/core/system"
	"github.com/l1jgo/lapse/internal/data"
	"github.com/l1jgo/lapse/internal/director"
	"github.com/l1jgo/lapse/internal/engine"
	"github.com/l1jgo/lapse/internal/persist"
	"github.com/l1jgo/lapse/internal/scripting"
)

const watchDebounce = 250 * time.Millisecond

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner() {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              lapsed  v0.1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       timeline and lapser scheduler       \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
}

func printSection(title string) {
	lineLen := max(46-len(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-len(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Daemon ────────────────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/lapse.toml"
	if p := os.Getenv("LAPSE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner()

	// 3. Clip definitions, overlaid with the stored ones when a database is configured
	printSection("clips")
	table, err := data.LoadClipTable(cfg.Clips.Dir)
	if err != nil {
		return err
	}
	printStat("clips defined", table.Count())

	var (
		db       *persist.DB
		clipRepo *persist.ClipRepo
		eventLog eventWriter
	)
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err = persist.NewDB(ctx, cfg.Database, log.Named("db"))
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		version, err := db.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printStat("schema version", int(version))

		clipRepo = persist.NewClipRepo(db)
		eventLog = persist.NewEventLogRepo(db)
		stored, err := clipRepo.LoadAll(ctx)
		if err != nil {
			return err
		}
		if err := table.Merge(stored); err != nil {
			return fmt.Errorf("merge stored clips: %w", err)
		}
		printStat("stored clips", len(stored))
		changed, err := clipRepo.SaveAll(ctx, table.Defs())
		if err != nil {
			return err
		}
		printStat("clips written", changed)
	}
	fmt.Println()

	// 4. Scripts
	printSection("scripts")
	scripts, err := scripting.NewEngine(cfg.Scripts.Dir, log.Named("lua"))
	if err != nil {
		return fmt.Errorf("scripts: %w", err)
	}
	defer scripts.Close()
	printOK(fmt.Sprintf("Lua scripts loaded from %s", cfg.Scripts.Dir))
	fmt.Println()

	// 5. Engine and director
	eng, err := engine.New(engine.OptionsFrom(cfg.Engine), log)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	bus := event.NewBus()
	dr, err := director.New(eng, scripts, bus, log.Named("director"))
	if err != nil {
		return fmt.Errorf("director: %w", err)
	}
	dr.SetSource(clipSource(cfg.Clips.Dir, clipRepo, log))
	if err := dr.Load(table.Defs()); err != nil {
		return err
	}
	audit := newAuditLog(bus, eventLog, cfg.Database.FlushInterval, log.Named("audit"))

	// 6. Systems
	runner := coresys.NewRunner()
	runner.Register(dr)
	runner.Register(coresys.Func{P: coresys.PhasePreUpdate, Fn: func(time.Duration) {
		bus.SwapBuffers()
		bus.DispatchAll()
	}})
	runner.Register(eng)
	runner.Register(newStatusSystem(cfg.Status.Interval, eng, dr, scripts, db, log))
	runner.Register(audit)
	runner.Register(dr.Reaper())

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	dr.StartSchedules()
	if cfg.Clips.Watch {
		if err := dr.Watch(ctx, cfg.Clips.Dir, cfg.Scripts.Dir, watchDebounce); err != nil {
			return err
		}
	}

	// 7. Tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Engine.TickRate)
	defer ticker.Stop()

	printSection("ready")
	printStat("clips", dr.Stats().Defined)
	printStat("scheduled", dr.Scheduled())
	printReady(fmt.Sprintf("tick loop started (tick: %s)", cfg.Engine.TickRate))
	fmt.Println()

	overrun := rate.Sometimes{Interval: 10 * time.Second}
	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			runner.Tick(dt)
			if took := time.Since(now); took > cfg.Engine.TickRate {
				overrun.Do(func() {
					log.Warn("tick overran", zap.Duration("took", took), zap.Duration("tick", cfg.Engine.TickRate))
				})
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			stop()
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			dr.StopSchedules(stopCtx)
			if err := eng.UnloadScene(); err != nil {
				log.Error("scene unload failed", zap.Error(err))
			}
			// Deliver the destroy notices raised by the unload.
			runner.TickPhase(coresys.PhasePreUpdate, 0)
			audit.flush(stopCtx)
			cancel()
			log.Info("lapsed stopped")
			return nil
		}
	}
}

// clipSource reloads the clip directory and keeps the store in step with it.
func clipSource(dir string, repo *persist.ClipRepo, log *zap.Logger) director.Source {
	return func() ([]data.ClipDef, error) {
		table, err := data.LoadClipTable(dir)
		if err != nil {
			return nil, err
		}
		defs := table.Defs()
		if repo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := repo.SaveAll(ctx, defs); err != nil {
				log.Error("store clips", zap.Error(err))
			}
		}
		return defs, nil
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
