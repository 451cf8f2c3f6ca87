package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"trafficwarden/internal/domain/entity"
	"trafficwarden/internal/infra/capture"
	"trafficwarden/internal/observability/metrics"
	"trafficwarden/internal/observability/tracing"
	"trafficwarden/internal/repository"
	"trafficwarden/internal/usecase/enforce"
)

// Source yields capture records. *capture.Reader implements it.
type Source interface {
	Next() (capture.Record, error)
}

// Evaluator runs one evaluation pass over the ledger.
type Evaluator interface {
	Evaluate(ctx context.Context, ledger repository.Ledger, now time.Time) enforce.Stats
}

// CachePersister saves the legitimacy cache.
type CachePersister interface {
	Persist(ctx context.Context) error
}

// Flusher writes out buffered action log lines.
type Flusher interface {
	Flush() error
}

// DefaultFinalizeTimeout bounds compaction and cache persistence at the end
// of a cycle.
const DefaultFinalizeTimeout = 10 * time.Second

// Config holds ingestion tuning.
type Config struct {
	// MemoryCeiling is the fast tier size that forces an early compaction
	MemoryCeiling int64
	// WatchdogEvery is how many records pass between fast tier size checks
	WatchdogEvery int
	// FinalizeTimeout bounds the compact and persist steps of a cycle. They
	// run even when evaluation used up the cycle deadline.
	FinalizeTimeout time.Duration
}

// Service owns the write path and the analysis cycle.
//
// Run and Cycle may execute on different goroutines. Record never waits for
// an evaluation: the store queues events while a checkpoint runs, and the
// watchdog skips its check while a cycle holds the store.
type Service struct {
	// checkpoint is held around every store checkpoint the service starts
	checkpoint sync.Mutex

	store   repository.UsageRepository
	engine  Evaluator
	cache   CachePersister
	actions Flusher
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

// NewService wires the ingestion loop.
func NewService(store repository.UsageRepository, engine Evaluator, cache CachePersister, actions Flusher, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WatchdogEvery <= 0 {
		cfg.WatchdogEvery = 100
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = DefaultFinalizeTimeout
	}
	return &Service{
		store:   store,
		engine:  engine,
		cache:   cache,
		actions: actions,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// Run reads src until it ends or ctx is canceled.
//
// Unmatched records are skipped. A broken stream is returned as is; a
// stream that ends while ctx is still live yields ErrCaptureEnded. Cancel
// ctx and close the stream to stop Run.
func (s *Service) Run(ctx context.Context, src Source) error {
	records := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		rec, err := src.Next()
		switch {
		case err == nil:
		case errors.Is(err, capture.ErrNoMatch):
			metrics.RecordCaptureSkipped()
			s.logger.Warn("capture record skipped", slog.Any("error", err))
			continue
		case errors.Is(err, io.EOF):
			if ctx.Err() != nil {
				return nil
			}
			return ErrCaptureEnded
		default:
			return fmt.Errorf("Run: %w", err)
		}

		ev := entity.UsageEvent{Timestamp: s.now(), ClientIP: rec.ClientIP, Length: rec.Length}
		if err := s.store.Record(ctx, ev); err != nil {
			metrics.RecordStoreError("record")
			s.logger.Error("usage record failed",
				slog.String("ip", rec.ClientIP),
				slog.Any("error", err))
		} else {
			metrics.RecordIngested(rec.Length)
		}

		records++
		if records%s.cfg.WatchdogEvery == 0 {
			s.logger.Debug("capture progress", slog.Int("records", records))
			s.watchdog(ctx)
		}
	}
}

// watchdog compacts out of band when the fast tier grows past the ceiling.
// A running cycle compacts anyway, so the check is skipped meanwhile.
func (s *Service) watchdog(ctx context.Context) {
	if !s.checkpoint.TryLock() {
		return
	}
	defer s.checkpoint.Unlock()

	size, err := s.store.FastTierBytes(ctx)
	if errors.Is(err, repository.ErrCheckpointInFlight) {
		return
	}
	if err != nil {
		metrics.RecordStoreError("fast_tier_size")
		s.logger.Warn("fast tier size unavailable", slog.Any("error", err))
		return
	}
	metrics.UpdateFastTierBytes(size)
	if s.cfg.MemoryCeiling <= 0 || size <= s.cfg.MemoryCeiling {
		return
	}

	s.logger.Info("fast tier over ceiling, compacting",
		slog.Int64("bytes", size),
		slog.Int64("ceiling", s.cfg.MemoryCeiling))
	err = s.store.Checkpoint(ctx, func(ctx context.Context, ledger repository.Ledger) error {
		return s.compact(ctx, ledger, "watchdog")
	})
	if err != nil {
		s.logger.Error("watchdog compaction failed", slog.Any("error", err))
	}
}

// Cycle runs one analysis cycle: evaluate every window against the durable
// tier, then compact the fast tier and persist the legitimacy cache, all
// inside one store checkpoint. The action log is flushed afterwards.
//
// Evaluation runs under ctx. Compaction and persistence get their own
// FinalizeTimeout, so a cycle whose lookups ran into the deadline still
// finishes them.
//
// Store failures inside the cycle are logged and the cycle carries on; the
// joined error is returned for reporting only.
func (s *Service) Cycle(ctx context.Context) (err error) {
	s.checkpoint.Lock()
	defer s.checkpoint.Unlock()

	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "analysis.cycle")
	defer func() {
		tracing.EndSpan(span, err)
		metrics.RecordAnalysisCycle(time.Since(start), err == nil)
	}()

	now := s.now()
	var stats enforce.Stats
	err = s.store.Checkpoint(ctx, func(ctx context.Context, ledger repository.Ledger) error {
		stats = s.engine.Evaluate(ctx, ledger, now)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FinalizeTimeout)
		defer cancel()

		var errs []error
		if err := s.compact(ctx, ledger, "cycle"); err != nil {
			errs = append(errs, err)
		}
		if err := s.cache.Persist(ctx); err != nil {
			metrics.RecordStoreError("legitimacy_persist")
			s.logger.Error("legitimacy cache persist failed", slog.Any("error", err))
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	if ferr := s.actions.Flush(); ferr != nil {
		s.logger.Error("action log flush failed", slog.Any("error", ferr))
		err = errors.Join(err, ferr)
	}
	if stats.QueryErrors > 0 {
		err = errors.Join(err, fmt.Errorf("Cycle: %d window queries failed", stats.QueryErrors))
	}

	span.SetAttributes(attribute.Int("actions", stats.Actions), attribute.Int("exempt", stats.Exempt))
	s.logger.Info("analysis cycle finished",
		slog.Int("windows", stats.Windows),
		slog.Int("candidates", stats.Candidates),
		slog.Int("actions", stats.Actions),
		slog.Int("exempt", stats.Exempt),
		slog.Int("limited", stats.Limited),
		slog.Duration("duration", time.Since(start)))
	return err
}

// Shutdown compacts and persists one last time, flushes the action log and
// releases the store. It must run after Run and the scheduler have stopped.
func (s *Service) Shutdown(ctx context.Context) error {
	s.checkpoint.Lock()
	defer s.checkpoint.Unlock()

	var errs []error
	err := s.store.Checkpoint(ctx, func(ctx context.Context, ledger repository.Ledger) error {
		return errors.Join(s.compact(ctx, ledger, "shutdown"), s.cache.Persist(ctx))
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("Shutdown: checkpoint: %w", err))
	}
	if err := s.actions.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("Shutdown: flush: %w", err))
	}
	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("Shutdown: close: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Service) compact(ctx context.Context, ledger repository.Ledger, trigger string) error {
	start := time.Now()
	rows, err := ledger.Compact(ctx)
	metrics.RecordOperationDuration("compact", time.Since(start))
	if err != nil {
		metrics.RecordStoreError("compact")
		s.logger.Error("compaction failed",
			slog.String("trigger", trigger),
			slog.Any("error", err))
		return err
	}
	metrics.RecordCompaction(trigger, rows)
	s.logger.Debug("fast tier compacted",
		slog.String("trigger", trigger),
		slog.Int64("rows", rows))
	return nil
}
