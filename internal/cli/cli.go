// Package cli builds the cobra command tree: run starts the processor
// service end to end, status reports health without mutating anything,
// migrate applies pending schema migrations standalone, and simulate
// feeds a fabricated completion through the pipeline for smoke-testing a
// deployment without a real executor fleet.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arcflow/jobresultproc/internal/cache"
	"github.com/arcflow/jobresultproc/internal/config"
	"github.com/arcflow/jobresultproc/internal/dispatcher"
	"github.com/arcflow/jobresultproc/internal/errnorm"
	"github.com/arcflow/jobresultproc/internal/flow"
	"github.com/arcflow/jobresultproc/internal/jobstore"
	"github.com/arcflow/jobresultproc/internal/metrics"
	"github.com/arcflow/jobresultproc/internal/processor"
	"github.com/arcflow/jobresultproc/internal/receiver"
	"github.com/arcflow/jobresultproc/internal/sameworker"
	"github.com/arcflow/jobresultproc/internal/submitter"
	"github.com/arcflow/jobresultproc/internal/telemetry"
	"github.com/arcflow/jobresultproc/pkg/types"
)

var configFile string

// BuildCLI assembles the root command and its subcommands.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jobresultproc",
		Short: "Job result processor: persists job completions and advances flow state",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildMigrateCommand())
	rootCmd.AddCommand(buildSimulateCommand())

	return rootCmd
}

// wiring holds every component the run/simulate paths share, built once
// from a loaded Config.
type wiring struct {
	cfg        *config.Config
	store      *jobstore.Store
	cacheW     *cache.RedisWriter
	shim       telemetry.Shim
	provider   *telemetry.Provider
	sameWorker *sameworker.Queue
	recv       *receiver.Receiver
	disp       *dispatcher.Dispatcher
	proc       *processor.Processor
	sub        *submitter.Submitter
	log        *slog.Logger
}

func buildWiring(ctx context.Context, cfg *config.Config, log *slog.Logger) (*wiring, error) {
	store, err := jobstore.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("cli: opening job store: %w", err)
	}
	if err := jobstore.Migrate(ctx, store.DB(), log); err != nil {
		store.Close()
		return nil, fmt.Errorf("cli: running migrations: %w", err)
	}

	cacheW := cache.NewRedisWriter(cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	var shim telemetry.Shim = telemetry.NoopShim{}
	var provider *telemetry.Provider
	if cfg.Telemetry.Enabled {
		s, p, err := telemetry.NewProvider(ctx, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("cli: starting telemetry provider: %w", err)
		}
		shim, provider = s, p
	}

	mcs := metrics.NewCollector()

	sw := sameworker.New()
	sw.SetMetrics(mcs)
	recv := receiver.New(receiver.Config{
		UnboundedHint: cfg.Receiver.UnboundedHint,
		BoundedSize:   cfg.Receiver.BoundedSize,
	}, sw)
	recv.SetMetrics(mcs)

	flowUpdater := flow.NewChannelFlowUpdater(cfg.Flow.BaseURL, recv)

	disp := dispatcher.New(store, cacheW, flowUpdater, shim, sw, mcs, dispatcher.Config{
		InitScriptTag:    cfg.Worker.InitScriptTag,
		IsDedicatedGroup: cfg.Worker.EnforceSameWorkerReqs,
		WorkerGroup:      cfg.Worker.Group,
	}, log)

	proc := processor.New(recv, disp, sw, processor.Config{}, log)

	sub := submitter.New(submitter.LogNormalizer{
		Sink: recv,
		Logs: jobstore.LogReader{Store: store},
	})

	return &wiring{
		cfg: cfg, store: store, cacheW: cacheW, shim: shim, provider: provider,
		sameWorker: sw, recv: recv, disp: disp, proc: proc, sub: sub, log: log,
	}, nil
}

func (w *wiring) close(ctx context.Context) {
	if w.provider != nil {
		if err := w.provider.Shutdown(ctx); err != nil {
			w.log.Error("telemetry provider shutdown failed", "error", err)
		}
	}
	if err := w.cacheW.Close(); err != nil {
		w.log.Error("cache writer close failed", "error", err)
	}
	if err := w.store.Close(); err != nil {
		w.log.Error("job store close failed", "error", err)
	}
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the job result processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService()
		},
	}
}

func runService() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("run: loading config: %w", err)
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLogLevel(cfg.LogLevel))
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := buildWiring(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer w.close(context.Background())

	watchStop := make(chan struct{})
	if fw, err := config.NewFsnotifyWatcher(); err != nil {
		log.Warn("config hot-reload disabled: could not start file watcher", "error", err)
	} else {
		watcher, err := config.NewWatcher(configFile, cfg, fw)
		if err != nil {
			log.Warn("config hot-reload disabled", "error", err)
			fw.Close()
		} else {
			hot := watcher.Subscribe()
			go watcher.Run(watchStop)
			go func() {
				for h := range hot {
					levelVar.Set(parseLogLevel(h.LogLevel))
					log.Info("config hot-reloaded", "log_level", h.LogLevel)
				}
			}()
			defer fw.Close()
			defer close(watchStop)
		}
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server exited", "error", err)
			}
		}()
	}

	w.proc.Start(ctx)
	log.Info("processor started", "worker_group", cfg.Worker.Group)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal, draining")
	w.proc.Stop()
	log.Info("processor stopped")
	return nil
}

func parseLogLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report configuration and connectivity without starting the processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
}

func showStatus() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("status: loading config: %w", err)
	}

	fmt.Printf("config file:      %s\n", configFile)
	fmt.Printf("worker group:     %s\n", cfg.Worker.Group)
	fmt.Printf("init script tag:  %s\n", cfg.Worker.InitScriptTag)
	fmt.Printf("database dsn set: %t\n", cfg.Database.DSN != "")
	fmt.Printf("redis addr:       %s\n", cfg.Redis.Addr)
	fmt.Printf("telemetry:        %t\n", cfg.Telemetry.Enabled)
	fmt.Printf("metrics:          %t (port %d)\n", cfg.Metrics.Enabled, cfg.Metrics.Port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := jobstore.Open(ctx, cfg.Database.DSN)
	if err != nil {
		fmt.Printf("database:         unreachable (%v)\n", err)
	} else {
		fmt.Println("database:         reachable")
		store.Close()
	}

	cacheW := cache.NewRedisWriter(cache.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer cacheW.Close()
	if err := cacheW.Ping(ctx); err != nil {
		fmt.Printf("redis:            unreachable (%v)\n", err)
	} else {
		fmt.Println("redis:            reachable")
	}

	return nil
}

func buildMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending job store schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func runMigrate() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("migrate: loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := jobstore.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("migrate: opening job store: %w", err)
	}
	defer store.Close()

	if err := jobstore.Migrate(ctx, store.DB(), slog.Default()); err != nil {
		return fmt.Errorf("migrate: applying migrations: %w", err)
	}

	fmt.Println("migrations applied")
	return nil
}

func buildSimulateCommand() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Feed fabricated completions through a live processor for smoke-testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(count)
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, "number of fabricated completions to submit")
	return cmd
}

func runSimulate(count int) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("simulate: loading config: %w", err)
	}

	log := slog.Default()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := buildWiring(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer w.close(context.Background())

	w.proc.Start(ctx)

	for i := 0; i < count; i++ {
		job := &types.MiniPulledJob{
			ID:   uuid.New(),
			Kind: types.JobKindScript,
			Tag:  "default",
		}
		out := submitter.Outcome{Job: job}
		if i%5 == 0 {
			out.Err = &errnorm.ExecutorError{ExitStatus: &errnorm.ExitStatus{Program: "simulate", Code: 1}}
		} else {
			out.Result = json.RawMessage(fmt.Sprintf(`{"iteration":%d}`, i))
		}
		if err := w.sub.ProcessResult(ctx, out); err != nil {
			return fmt.Errorf("simulate: submitting completion %d: %w", i, err)
		}
	}

	fmt.Printf("submitted %d simulated completions\n", count)

	w.proc.Stop()
	fmt.Println("drained and stopped")
	return nil
}
