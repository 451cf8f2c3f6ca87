// Command warden accounts per-client outgoing traffic and enforces the
// configured usage rules.
//
// It launches the capture tool, records every packet it reports into a
// two-tier SQLite ledger, and every analysis interval evaluates the rule
// windows, logging, shaping or flagging clients that cross a threshold.
// Verified search-engine crawlers are exempt.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"trafficwarden/internal/config"
	"trafficwarden/internal/domain/entity"
	"trafficwarden/internal/infra/actionlog"
	"trafficwarden/internal/infra/adapter/persistence/sqlite"
	"trafficwarden/internal/infra/capture"
	"trafficwarden/internal/infra/db"
	"trafficwarden/internal/infra/dns"
	"trafficwarden/internal/infra/shell"
	"trafficwarden/internal/infra/worker"
	"trafficwarden/internal/observability/logging"
	"trafficwarden/internal/repository"
	"trafficwarden/internal/usecase/enforce"
	"trafficwarden/internal/usecase/ingest"
	"trafficwarden/internal/usecase/legitimacy"
	"trafficwarden/internal/usecase/plan"
	"trafficwarden/internal/usecase/shaping"
)

// shutdownGrace bounds the wait for a running analysis cycle at shutdown.
const shutdownGrace = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger()
	slog.SetDefault(logger)

	workerMetrics := worker.NewWorkerMetrics(nil)
	settings, err := config.Load(logger, workerMetrics.ConfigMetrics)
	if err != nil {
		return err
	}
	logger.Info("settings loaded",
		slog.String("rules_file", settings.RulesFile),
		slog.String("interface", settings.Interface),
		slog.String("work_dir", settings.WorkDir),
		slog.Duration("analyze_interval", settings.AnalyzeInterval))

	if err := os.MkdirAll(settings.WorkDir, 0o700); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	rules, err := plan.Load(settings.RulesFile, settings.MaxRules, logger)
	if err != nil {
		return err
	}

	database, err := db.Open(ctx, settings.DBPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()
	if err := db.MigrateUp(ctx, database); err != nil {
		return err
	}
	store, err := sqlite.NewUsageRepo(ctx, database)
	if err != nil {
		return err
	}

	classifier := newClassifier(settings, sqlite.NewLegitimacyRepo(database, settings.CacheTTL), component(logger, "legitimacy"))

	classes, err := provision(ctx, settings, rules, component(logger, "shaping"))
	if err != nil {
		return err
	}

	actions, err := actionlog.Open(settings.ActionLogPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := actions.Close(); err != nil {
			logger.Error("failed to close action log", slog.Any("error", err))
		}
	}()

	engine := enforce.NewEngine(rules, classes, classifier, actions, component(logger, "enforce"))
	svc := ingest.NewService(store, engine, classifier, actions, ingest.Config{
		MemoryCeiling: settings.MemoryCeiling,
		WatchdogEvery: settings.WatchdogEvery,
	}, component(logger, "ingest"))

	healthServer := worker.NewHealthServer(fmt.Sprintf(":%d", settings.HealthPort), 3*settings.AnalyzeInterval, logger)
	schedule := worker.DefaultScheduleConfig()
	schedule.Interval = settings.AnalyzeInterval
	scheduler, err := worker.NewScheduler(schedule, svc.Cycle,
		workerMetrics, logger, worker.WithHealth(healthServer))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	captureArgv, err := captureCommand(settings)
	if err != nil {
		return err
	}
	proc, err := capture.Start(gctx, captureArgv, component(logger, "capture"))
	if err != nil {
		return err
	}

	g.Go(func() error {
		runErr := svc.Run(gctx, capture.NewReader(proc.Stdout()))
		waitErr := proc.Wait()
		if runErr != nil {
			return runErr
		}
		if waitErr != nil && gctx.Err() == nil {
			return fmt.Errorf("capture tool: %w", waitErr)
		}
		return nil
	})
	g.Go(func() error {
		return serveMetrics(gctx, settings.MetricsPort, logger)
	})
	g.Go(func() error {
		if err := healthServer.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthServer.SetReady(false)
		return nil
	})

	scheduler.Start()
	healthServer.SetReady(true)
	logger.Info("warden running")

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("warden stopping on error", slog.Any("error", runErr))
	} else {
		logger.Info("shutdown signal received")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		logger.Warn("analysis cycle did not finish in time", slog.Any("error", err))
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		logger.Error("final checkpoint failed", slog.Any("error", err))
		runErr = errors.Join(runErr, err)
	}
	logger.Info("warden stopped")
	return runErr
}

func component(logger *slog.Logger, name string) *slog.Logger {
	return logging.WithFields(logger, map[string]interface{}{"component": name})
}

func newClassifier(settings config.Settings, cache repository.LegitimacyRepository, logger *slog.Logger) *legitimacy.Classifier {
	resolver := dns.NewResolver(nil, dns.Config{
		Timeout:          settings.DNSTimeout,
		QueriesPerSecond: settings.DNSRate,
		Burst:            settings.DNSBurst,
	})
	var opts []legitimacy.Option
	if len(settings.AllowList) > 0 {
		opts = append(opts, legitimacy.WithAllowList(settings.AllowList))
	}
	return legitimacy.NewClassifier(cache, resolver, logger, opts...)
}

func provision(ctx context.Context, settings config.Settings, rules *entity.Plan, logger *slog.Logger) (*entity.ClassTable, error) {
	tool, err := shell.SplitTool(settings.ShapingTool)
	if err != nil {
		return nil, fmt.Errorf("shaping tool: %w", err)
	}
	provisioner := shaping.NewProvisioner(shell.NewExecRunner(logger), tool, settings.Interface, logger)
	return provisioner.Provision(ctx, rules)
}

func captureCommand(settings config.Settings) ([]string, error) {
	tool, err := shell.SplitTool(settings.CaptureTool)
	if err != nil {
		return nil, fmt.Errorf("capture tool: %w", err)
	}
	var filter []string
	if settings.CaptureFilter != "" {
		if filter, err = shell.SplitTool(settings.CaptureFilter); err != nil {
			return nil, fmt.Errorf("capture filter: %w", err)
		}
	}
	return capture.Command(tool, filter, settings.Interface), nil
}
