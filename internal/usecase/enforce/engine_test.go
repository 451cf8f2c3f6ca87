package enforce

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficwarden/internal/domain/entity"
	"trafficwarden/internal/usecase/plan"
	"trafficwarden/internal/usecase/shaping"
)

var now = time.Unix(1_700_000_000, 0)

type query struct {
	window int
	min    int64
}

type fakeLedger struct {
	usage   map[int][]entity.WindowUsage
	fail    map[int]error
	queries []query
}

func (f *fakeLedger) QueryWindow(_ context.Context, window int, min int64, at time.Time) ([]entity.WindowUsage, error) {
	f.queries = append(f.queries, query{window: window, min: min})
	if err := f.fail[window]; err != nil {
		return nil, err
	}
	out := make([]entity.WindowUsage, 0)
	for _, u := range f.usage[window] {
		if u.UsedBytes >= min {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeLedger) Compact(context.Context) (int64, error) { return 0, nil }

type fakeClassifier struct {
	crawlers map[string]bool
	calls    []string
}

func (f *fakeClassifier) Classify(_ context.Context, ip string) bool {
	f.calls = append(f.calls, ip)
	return f.crawlers[ip]
}

type recordingLog struct {
	lines []entity.Violation
	err   error
}

func (r *recordingLog) Append(v entity.Violation) error {
	r.lines = append(r.lines, v)
	return r.err
}

func buildPlan(t *testing.T, conf string) *entity.Plan {
	t.Helper()
	rules, err := plan.Parse(strings.NewReader(conf), plan.ParseOptions{Name: "test.conf", Logger: quietLogger()})
	require.NoError(t, err)
	p, err := plan.Build(rules)
	require.NoError(t, err)
	return p
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const scenarioConf = `
USED 10M IN 60 = LOG
USED 50M IN 60 = LIMIT 5m
`

func TestEvaluate_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		used       int64
		wantAction *entity.ActionKind
		wantCap    int
	}{
		{name: "A: above both thresholds selects LIMIT", used: 60_000_000, wantAction: ptr(entity.ActionLimit), wantCap: 5_000_000},
		{name: "B: between thresholds selects LOG", used: 20_000_000, wantAction: ptr(entity.ActionLog)},
		{name: "C: below every threshold does nothing", used: 5_000_000},
		{name: "boundary: exactly the threshold counts", used: 50_000_000, wantAction: ptr(entity.ActionLimit), wantCap: 5_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := buildPlan(t, scenarioConf)
			classes := shaping.DeriveClasses(p)
			ledger := &fakeLedger{usage: map[int][]entity.WindowUsage{
				60: {{ClientIP: "203.0.113.7", UsedBytes: tt.used}},
			}}
			log := &recordingLog{}
			engine := NewEngine(p, classes, &fakeClassifier{}, log, quietLogger())

			stats := engine.Evaluate(context.Background(), ledger, now)

			assert.Equal(t, []query{{window: 60, min: 10_000_000}}, ledger.queries)
			if tt.wantAction == nil {
				assert.Empty(t, log.lines)
				assert.Zero(t, stats.Actions)
				return
			}
			require.Len(t, log.lines, 1)
			assert.Equal(t, *tt.wantAction, log.lines[0].Rule.Action)
			assert.Equal(t, tt.wantCap, log.lines[0].Rule.CapBytesPerSec)
			assert.Equal(t, now, log.lines[0].At)
			assert.Equal(t, 1, stats.Actions)

			class, assigned := engine.Assignment("203.0.113.7")
			assert.Equal(t, *tt.wantAction == entity.ActionLimit, assigned)
			if assigned {
				assert.Equal(t, 1, class.ID)
			}
		})
	}
}

func TestEvaluate_WindowsInPlanOrder(t *testing.T) {
	p := buildPlan(t, `
USED 1G IN 1h = LOG
USED 100K IN 10 = LOG
USED 5M IN 60 = BLOCK
`)
	ledger := &fakeLedger{}
	engine := NewEngine(p, shaping.DeriveClasses(p), &fakeClassifier{}, &recordingLog{}, quietLogger())

	stats := engine.Evaluate(context.Background(), ledger, now)

	assert.Equal(t, []query{
		{window: 10, min: 100_000},
		{window: 60, min: 5_000_000},
		{window: 3600, min: 1_000_000_000},
	}, ledger.queries)
	assert.Equal(t, 3, stats.Windows)
}

func TestEvaluate_ExemptCrawler(t *testing.T) {
	p := buildPlan(t, scenarioConf)
	ledger := &fakeLedger{usage: map[int][]entity.WindowUsage{
		60: {
			{ClientIP: "66.249.66.1", UsedBytes: 90_000_000},
			{ClientIP: "203.0.113.7", UsedBytes: 70_000_000},
		},
	}}
	classifier := &fakeClassifier{crawlers: map[string]bool{"66.249.66.1": true}}
	log := &recordingLog{}
	engine := NewEngine(p, shaping.DeriveClasses(p), classifier, log, quietLogger())

	stats := engine.Evaluate(context.Background(), ledger, now)

	require.Len(t, log.lines, 2)
	assert.True(t, log.lines[0].Exempt)
	assert.False(t, log.lines[1].Exempt)
	assert.Equal(t, 1, stats.Exempt)
	assert.Equal(t, 1, stats.Actions)

	_, assigned := engine.Assignment("66.249.66.1")
	assert.False(t, assigned, "exempt clients are never limited")
	_, assigned = engine.Assignment("203.0.113.7")
	assert.True(t, assigned)
}

func TestEvaluate_QueryErrorContinues(t *testing.T) {
	p := buildPlan(t, `
USED 1K IN 10 = LOG
USED 1K IN 60 = LOG
`)
	ledger := &fakeLedger{
		fail:  map[int]error{10: errors.New("disk I/O error")},
		usage: map[int][]entity.WindowUsage{60: {{ClientIP: "10.0.0.1", UsedBytes: 2_000}}},
	}
	log := &recordingLog{}
	engine := NewEngine(p, shaping.DeriveClasses(p), &fakeClassifier{}, log, quietLogger())

	stats := engine.Evaluate(context.Background(), ledger, now)

	assert.Equal(t, 1, stats.QueryErrors)
	assert.Len(t, log.lines, 1)
	assert.Equal(t, 60, log.lines[0].WindowSeconds)
}

func TestEvaluate_ActionLogFailureDoesNotStopDispatch(t *testing.T) {
	p := buildPlan(t, "USED 1K IN 10 = LIMIT 1k\n")
	ledger := &fakeLedger{usage: map[int][]entity.WindowUsage{10: {{ClientIP: "10.0.0.1", UsedBytes: 5_000}}}}
	log := &recordingLog{err: errors.New("disk full")}
	engine := NewEngine(p, shaping.DeriveClasses(p), &fakeClassifier{}, log, quietLogger())

	stats := engine.Evaluate(context.Background(), ledger, now)

	assert.Equal(t, 1, stats.Limited)
}

func TestEvaluate_MostRestrictiveClassWins(t *testing.T) {
	p := buildPlan(t, `
USED 1M IN 10 = LIMIT 500k
USED 10M IN 60 = LIMIT 50k
`)
	ledger := &fakeLedger{usage: map[int][]entity.WindowUsage{
		10: {{ClientIP: "10.0.0.9", UsedBytes: 2_000_000}},
		60: {{ClientIP: "10.0.0.9", UsedBytes: 20_000_000}},
	}}
	engine := NewEngine(p, shaping.DeriveClasses(p), &fakeClassifier{}, &recordingLog{}, quietLogger())

	stats := engine.Evaluate(context.Background(), ledger, now)

	class, ok := engine.Assignment("10.0.0.9")
	require.True(t, ok)
	assert.Equal(t, 50_000, class.CapBytesPerSec)
	assert.Equal(t, 2, class.ID)
	assert.Equal(t, 2, stats.Actions)
	assert.Equal(t, 1, stats.Limited)
}

func TestEvaluate_AssignmentsResetEachCycle(t *testing.T) {
	p := buildPlan(t, "USED 1K IN 10 = LIMIT 1k\n")
	ledger := &fakeLedger{usage: map[int][]entity.WindowUsage{10: {{ClientIP: "10.0.0.1", UsedBytes: 5_000}}}}
	engine := NewEngine(p, shaping.DeriveClasses(p), &fakeClassifier{}, &recordingLog{}, quietLogger())

	engine.Evaluate(context.Background(), ledger, now)
	require.Len(t, engine.Assignments(), 1)

	ledger.usage = nil
	engine.Evaluate(context.Background(), ledger, now.Add(5*time.Second))
	assert.Empty(t, engine.Assignments())
}

func ptr(a entity.ActionKind) *entity.ActionKind {
	return &a
}
