package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgconfig "trafficwarden/internal/pkg/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	s := Default()

	require.NoError(t, s.Validate())
	assert.Equal(t, "em1", s.Interface)
	assert.Equal(t, 168*time.Hour, s.CacheTTL)
	assert.Equal(t, 5*time.Second, s.AnalyzeInterval)
	assert.Equal(t, int64(10<<20), s.MemoryCeiling)
	assert.Equal(t, 200, s.MaxRules)
}

func TestLoad_DefaultsOnly(t *testing.T) {
	t.Setenv(SettingsFileEnv, "")

	s, err := Load(quietLogger(), nil)

	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeSettings(t, `
interface: eth0
analyze_interval: 10s
memory_ceiling: 1048576
allow_list: [googlebot.com]
`)
	t.Setenv(SettingsFileEnv, path)
	t.Setenv("WARDEN_INTERFACE", "eth1")
	t.Setenv("WARDEN_DNS_RATE", "5.5")

	s, err := Load(quietLogger(), nil)

	require.NoError(t, err)
	assert.Equal(t, "eth1", s.Interface, "environment wins over the file")
	assert.Equal(t, 10*time.Second, s.AnalyzeInterval)
	assert.Equal(t, int64(1<<20), s.MemoryCeiling)
	assert.Equal(t, []string{"googlebot.com"}, s.AllowList)
	assert.Equal(t, 5.5, s.DNSRate)
	assert.Equal(t, "tcpdump", s.CaptureTool, "untouched fields keep defaults")
}

func TestLoad_InvalidEnvironmentFallsBack(t *testing.T) {
	t.Setenv(SettingsFileEnv, "")
	t.Setenv("WARDEN_INTERFACE", "not a valid interface")
	t.Setenv("WARDEN_CACHE_TTL", "forever")
	t.Setenv("WARDEN_METRICS_PORT", "99999")
	metrics := pkgconfig.NewConfigMetrics(prometheus.NewRegistry(), "test")

	s, err := Load(quietLogger(), metrics)

	require.NoError(t, err)
	assert.Equal(t, "em1", s.Interface)
	assert.Equal(t, 168*time.Hour, s.CacheTTL)
	assert.Equal(t, 9090, s.MetricsPort)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FallbacksTotal.WithLabelValues("interface")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ValidationErrorsTotal.WithLabelValues("cache_ttl")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FallbackActive))
}

func TestLoad_FileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv(SettingsFileEnv, filepath.Join(t.TempDir(), "absent.yaml"))

		_, err := Load(quietLogger(), nil)

		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Setenv(SettingsFileEnv, writeSettings(t, "interfase: eth0\n"))

		_, err := Load(quietLogger(), nil)

		assert.ErrorContains(t, err, "interfase")
	})

	t.Run("invalid value in file", func(t *testing.T) {
		t.Setenv(SettingsFileEnv, writeSettings(t, "analyze_interval: 0s\n"))

		_, err := Load(quietLogger(), nil)

		assert.ErrorContains(t, err, "analyze_interval")
	})
}

func TestValidate_ReportsEveryField(t *testing.T) {
	s := Default()
	s.Interface = ""
	s.CacheTTL = 0
	s.HealthPort = s.MetricsPort

	err := s.Validate()

	require.Error(t, err)
	assert.ErrorContains(t, err, "interface")
	assert.ErrorContains(t, err, "cache_ttl")
	assert.ErrorContains(t, err, "health_port")
}

func TestPaths(t *testing.T) {
	s := Default()
	assert.Equal(t, "/tmp/limittraf/limittraf.db", s.DBPath())
	assert.Equal(t, "/tmp/limittraf/limittraf.log", s.ActionLogPath())

	s.ActionLogFile = "/var/log/warden.log"
	assert.Equal(t, "/var/log/warden.log", s.ActionLogPath())
}
