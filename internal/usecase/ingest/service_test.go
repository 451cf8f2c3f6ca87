package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficwarden/internal/domain/entity"
	"trafficwarden/internal/infra/capture"
	"trafficwarden/internal/repository"
	"trafficwarden/internal/usecase/enforce"
)

var now = time.Unix(1_700_000_000, 0)

// journal records the order of side effects across the fakes.
type journal struct {
	mu    sync.Mutex
	steps []string
}

func (j *journal) add(step string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, step)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.steps...)
}

type fakeStore struct {
	mu         sync.Mutex
	j          *journal
	events     []entity.UsageEvent
	size       int64
	recordErr  error
	compactErr error
	closed     bool
}

func (f *fakeStore) Record(_ context.Context, ev entity.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.events = append(f.events, ev)
	f.size += int64(ev.Length)
	return nil
}

func (f *fakeStore) FastTierBytes(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size, nil
}

func (f *fakeStore) Checkpoint(ctx context.Context, fn func(context.Context, repository.Ledger) error) error {
	f.j.add("checkpoint")
	return fn(ctx, f)
}

func (f *fakeStore) Close(context.Context) error {
	f.j.add("close")
	f.closed = true
	return nil
}

func (f *fakeStore) QueryWindow(context.Context, int, int64, time.Time) ([]entity.WindowUsage, error) {
	return nil, nil
}

func (f *fakeStore) Compact(ctx context.Context) (int64, error) {
	f.j.add("compact")
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.compactErr != nil {
		return 0, f.compactErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := int64(len(f.events))
	f.size = 0
	return rows, nil
}

type fakeEngine struct {
	j     *journal
	stats enforce.Stats
	at    time.Time

	// entered is closed once Evaluate starts; Evaluate then waits for hold
	entered chan struct{}
	hold    chan struct{}
	// untilDeadline makes Evaluate run until ctx ends, like a stalled lookup
	untilDeadline bool
}

func (f *fakeEngine) Evaluate(ctx context.Context, _ repository.Ledger, at time.Time) enforce.Stats {
	f.j.add("evaluate")
	f.at = at
	if f.entered != nil {
		close(f.entered)
	}
	if f.hold != nil {
		<-f.hold
	}
	if f.untilDeadline {
		<-ctx.Done()
	}
	return f.stats
}

type fakeCache struct {
	j   *journal
	err error
}

func (f *fakeCache) Persist(ctx context.Context) error {
	f.j.add("persist")
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.err
}

type fakeFlusher struct{ j *journal }

func (f *fakeFlusher) Flush() error {
	f.j.add("flush")
	return nil
}

type result struct {
	rec capture.Record
	err error
}

type sliceSource struct {
	results []result
}

func (s *sliceSource) Next() (capture.Record, error) {
	if len(s.results) == 0 {
		return capture.Record{}, io.EOF
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.rec, r.err
}

type fixture struct {
	j      *journal
	store  *fakeStore
	engine *fakeEngine
	cache  *fakeCache
	svc    *Service
}

func newFixture(cfg Config) *fixture {
	j := &journal{}
	f := &fixture{
		j:      j,
		store:  &fakeStore{j: j},
		engine: &fakeEngine{j: j},
		cache:  &fakeCache{j: j},
	}
	f.svc = NewService(f.store, f.engine, f.cache, &fakeFlusher{j: j}, cfg, quietLogger())
	f.svc.now = func() time.Time { return now }
	return f
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func records(n int) *sliceSource {
	src := &sliceSource{}
	for i := 0; i < n; i++ {
		src.results = append(src.results, result{rec: capture.Record{Length: 100, ClientIP: "10.0.0.1"}})
	}
	return src
}

func TestRun_RecordsEventsUntilStreamEnds(t *testing.T) {
	f := newFixture(Config{})
	src := &sliceSource{results: []result{
		{rec: capture.Record{Length: 1492, ClientIP: "80.102.204.74"}},
		{err: &capture.ParseError{Text: "ARP", Err: capture.ErrNoMatch}},
		{rec: capture.Record{Length: 52, ClientIP: "66.249.66.1"}},
	}}

	err := f.svc.Run(context.Background(), src)

	assert.ErrorIs(t, err, ErrCaptureEnded)
	assert.Equal(t, []entity.UsageEvent{
		{Timestamp: now, ClientIP: "80.102.204.74", Length: 1492},
		{Timestamp: now, ClientIP: "66.249.66.1", Length: 52},
	}, f.store.events)
}

func TestRun_CanceledContextEndsQuietly(t *testing.T) {
	f := newFixture(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.svc.Run(ctx, &sliceSource{results: []result{{rec: capture.Record{Length: 1, ClientIP: "1.2.3.4"}}}})

	assert.NoError(t, err)
	assert.Empty(t, f.store.events)
}

func TestRun_FramingErrorIsFatal(t *testing.T) {
	f := newFixture(Config{})
	src := &sliceSource{results: []result{{err: capture.ErrEmptyLine}}}

	err := f.svc.Run(context.Background(), src)

	assert.ErrorIs(t, err, capture.ErrEmptyLine)
}

func TestRun_RecordFailureDoesNotStopIngestion(t *testing.T) {
	f := newFixture(Config{})
	f.store.recordErr = errors.New("disk full")
	src := &sliceSource{results: []result{
		{rec: capture.Record{Length: 1, ClientIP: "1.2.3.4"}},
		{rec: capture.Record{Length: 2, ClientIP: "1.2.3.5"}},
	}}

	err := f.svc.Run(context.Background(), src)

	assert.ErrorIs(t, err, ErrCaptureEnded)
}

func TestRun_Watchdog(t *testing.T) {
	t.Run("compacts when the fast tier passes the ceiling", func(t *testing.T) {
		f := newFixture(Config{MemoryCeiling: 250, WatchdogEvery: 2})

		_ = f.svc.Run(context.Background(), records(4))

		// sizes seen at checks: 200 (under), 400 (over)
		assert.Equal(t, []string{"checkpoint", "compact"}, f.j.list())
	})

	t.Run("leaves the fast tier alone under the ceiling", func(t *testing.T) {
		f := newFixture(Config{MemoryCeiling: 10_000, WatchdogEvery: 2})

		_ = f.svc.Run(context.Background(), records(6))

		assert.Empty(t, f.j.list())
	})
}

func TestRun_WatchdogSkipsWhileCycleRuns(t *testing.T) {
	f := newFixture(Config{MemoryCeiling: 1, WatchdogEvery: 1})
	f.engine.entered = make(chan struct{})
	f.engine.hold = make(chan struct{})

	cycleDone := make(chan error, 1)
	go func() { cycleDone <- f.svc.Cycle(context.Background()) }()
	<-f.engine.entered

	err := f.svc.Run(context.Background(), records(3))

	assert.ErrorIs(t, err, ErrCaptureEnded)
	f.store.mu.Lock()
	assert.Len(t, f.store.events, 3)
	f.store.mu.Unlock()
	assert.Equal(t, []string{"checkpoint", "evaluate"}, f.j.list())

	close(f.engine.hold)
	require.NoError(t, <-cycleDone)
}

func TestCycle_FinishesAfterEvaluationDeadline(t *testing.T) {
	f := newFixture(Config{FinalizeTimeout: time.Second})
	f.engine.untilDeadline = true
	f.store.events = []entity.UsageEvent{{Timestamp: now, ClientIP: "10.0.0.1", Length: 700}}
	f.store.size = 700
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := f.svc.Cycle(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"checkpoint", "evaluate", "compact", "persist", "flush"}, f.j.list())
	assert.Zero(t, f.store.size, "fast tier compacted")
}

func TestCycle_Order(t *testing.T) {
	f := newFixture(Config{})
	f.engine.stats = enforce.Stats{Windows: 2, Actions: 1}

	err := f.svc.Cycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"checkpoint", "evaluate", "compact", "persist", "flush"}, f.j.list())
	assert.Equal(t, now, f.engine.at)
}

func TestCycle_CompactionFailureStillPersists(t *testing.T) {
	f := newFixture(Config{})
	f.store.compactErr = errors.New("database is locked")

	err := f.svc.Cycle(context.Background())

	assert.Error(t, err)
	assert.Equal(t, []string{"checkpoint", "evaluate", "compact", "persist", "flush"}, f.j.list())
}

func TestCycle_ReportsQueryErrors(t *testing.T) {
	f := newFixture(Config{})
	f.engine.stats = enforce.Stats{Windows: 2, QueryErrors: 1}

	err := f.svc.Cycle(context.Background())

	assert.Error(t, err)
}

func TestShutdown(t *testing.T) {
	f := newFixture(Config{})

	err := f.svc.Shutdown(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"checkpoint", "compact", "persist", "flush", "close"}, f.j.list())
	assert.True(t, f.store.closed)
}

func TestRun_WithCaptureStream(t *testing.T) {
	f := newFixture(Config{})
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx, capture.NewReader(pr)) }()

	stream := strings.Join([]string{
		"IP (tos 0x0, ttl 64, id 1, offset 0, flags [DF], proto TCP (6), length 1492)",
		"    10.205.15.60.80 > 80.102.204.74.1155: tcp 1452",
		"IP (tos 0x0, ttl 64, id 2, offset 0, flags [DF], proto TCP (6), length 52)",
		"    10.205.15.60.80 > 66.249.66.1.40211: tcp 0",
		"",
	}, "\n")
	_, err := io.WriteString(pw, stream)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return len(f.store.events) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, pw.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the stream closed")
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.Len(t, f.store.events, 2)
	assert.Equal(t, "66.249.66.1", f.store.events[1].ClientIP)
}
