package plan_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficwarden/internal/domain/entity"
	"trafficwarden/internal/usecase/plan"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parse(t *testing.T, text string) ([]entity.RateRule, error) {
	t.Helper()
	return plan.Parse(strings.NewReader(text), plan.ParseOptions{Name: "test.conf", Logger: quietLogger()})
}

func TestParse_Directives(t *testing.T) {
	tests := []struct {
		name string
		line string
		want entity.RateRule
	}{
		{
			name: "log with size and plain seconds",
			line: "USED 10M IN 60 = LOG",
			want: entity.RateRule{WindowSeconds: 60, ThresholdBytes: 10_000_000, Action: entity.ActionLog},
		},
		{
			name: "limit with cap",
			line: "USED 50M IN 60 = LIMIT 5M",
			want: entity.RateRule{WindowSeconds: 60, ThresholdBytes: 50_000_000, Action: entity.ActionLimit, CapBytesPerSec: 5_000_000},
		},
		{
			name: "lowercase cap suffix",
			line: "USED 1G IN 1h = LIMIT 300k",
			want: entity.RateRule{WindowSeconds: 3600, ThresholdBytes: 1_000_000_000, Action: entity.ActionLimit, CapBytesPerSec: 300_000},
		},
		{
			name: "minutes and days",
			line: "USED 2G IN 1d=JAIL",
			want: entity.RateRule{WindowSeconds: 86400, ThresholdBytes: 2_000_000_000, Action: entity.ActionJail},
		},
		{
			name: "trailing comment",
			line: "USED 700K IN 15m = BLOCK # noisy clients",
			want: entity.RateRule{WindowSeconds: 900, ThresholdBytes: 700_000, Action: entity.ActionBlock},
		},
		{
			name: "raw bytes and seconds suffix",
			line: "USED 1024 IN 30s = LOG",
			want: entity.RateRule{WindowSeconds: 30, ThresholdBytes: 1024, Action: entity.ActionLog},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := parse(t, tt.line)
			require.NoError(t, err)
			require.Len(t, rules, 1)
			assert.Equal(t, tt.want, rules[0])
		})
	}
}

func TestParse_SkipsBlankCommentAndForeignLines(t *testing.T) {
	var logs bytes.Buffer
	text := strings.Join([]string{
		"",
		"# header comment",
		"   # indented comment",
		"INTERFACE eth0",
		"USED 10M IN 60 = LOG",
		"",
	}, "\n")

	rules, err := plan.Parse(strings.NewReader(text), plan.ParseOptions{
		Name:   "test.conf",
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
	})
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.Contains(t, logs.String(), "unknown configuration directive")
	assert.Contains(t, logs.String(), "line=4")
}

func TestParse_FatalErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "limit without rate", line: "USED 50M IN 60 = LIMIT"},
		{name: "unknown action", line: "USED 50M IN 60 = DROP"},
		{name: "bad size suffix", line: "USED 50X IN 60 = LOG"},
		{name: "missing window", line: "USED 50M = LOG"},
		{name: "zero window", line: "USED 50M IN 0 = LOG"},
		{name: "rate on log", line: "USED 50M IN 60 = LOG 5M"},
		{name: "zero rate", line: "USED 50M IN 60 = LIMIT 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, "# rules\n"+tt.line)
			var syntaxErr *plan.SyntaxError
			require.ErrorAs(t, err, &syntaxErr)
			assert.Equal(t, 2, syntaxErr.Line)
			assert.Equal(t, "test.conf", syntaxErr.File)
		})
	}
}

func TestParse_RuleCeiling(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 3; i++ {
		fmt.Fprintf(&b, "USED %dM IN 60 = LOG\n", i)
	}

	_, err := plan.Parse(strings.NewReader(b.String()), plan.ParseOptions{MaxRules: 2, Logger: quietLogger()})
	assert.True(t, errors.Is(err, plan.ErrTooManyRules))

	rules, err := plan.Parse(strings.NewReader(b.String()), plan.ParseOptions{MaxRules: 3, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Len(t, rules, 3)
}

func TestParse_DefaultCeilingIs200(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= plan.DefaultMaxRules+1; i++ {
		fmt.Fprintf(&b, "USED %d IN 60 = LOG\n", i)
	}
	_, err := plan.Parse(strings.NewReader(b.String()), plan.ParseOptions{Logger: quietLogger()})
	assert.ErrorIs(t, err, plan.ErrTooManyRules)
}
