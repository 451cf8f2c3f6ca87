// Package config builds the daemon's runtime Settings.
//
// Settings are assembled once at startup from three layers, later layers
// winning: built-in defaults, an optional YAML file named by WARDEN_SETTINGS,
// and WARDEN_* environment variables. The result is validated and then
// passed by value to every component that needs it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	pkgconfig "trafficwarden/internal/pkg/config"
)

// SettingsFileEnv names the optional YAML settings file.
const SettingsFileEnv = "WARDEN_SETTINGS"

// Settings is the daemon's runtime configuration.
type Settings struct {
	// RulesFile is the directive file. Relative paths are resolved against
	// the process working directory.
	RulesFile string `yaml:"rules_file"`
	// Interface is the network interface to capture on and shape.
	Interface string `yaml:"interface"`
	// CaptureTool is the capture command, split with shell quoting rules.
	CaptureTool string `yaml:"capture_tool"`
	// CaptureFilter is the capture filter expression.
	CaptureFilter string `yaml:"capture_filter"`
	// ShapingTool is the traffic-shaping command, split with shell quoting rules.
	ShapingTool string `yaml:"shaping_tool"`

	// WorkDir holds the store and the action log. Created 0700 at startup.
	WorkDir string `yaml:"work_dir"`
	// DBFile is the durable store file, relative to WorkDir unless absolute.
	DBFile string `yaml:"db_file"`
	// ActionLogFile is the action log, relative to WorkDir unless absolute.
	ActionLogFile string `yaml:"action_log_file"`

	CacheTTL        time.Duration `yaml:"cache_ttl"`
	AnalyzeInterval time.Duration `yaml:"analyze_interval"`
	// MemoryCeiling is the fast tier size in bytes that forces an early compaction.
	MemoryCeiling int64 `yaml:"memory_ceiling"`
	// WatchdogEvery is the number of records between fast tier size checks.
	WatchdogEvery int `yaml:"watchdog_every"`
	MaxRules      int `yaml:"max_rules"`

	DNSTimeout time.Duration `yaml:"dns_timeout"`
	DNSRate    float64       `yaml:"dns_rate"`
	DNSBurst   int           `yaml:"dns_burst"`
	// AllowList overrides the built-in crawler domains when non-empty.
	AllowList []string `yaml:"allow_list"`

	MetricsPort int `yaml:"metrics_port"`
	HealthPort  int `yaml:"health_port"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		RulesFile:       "limittraf.conf",
		Interface:       "em1",
		CaptureTool:     "tcpdump",
		CaptureFilter:   "src port 80",
		ShapingTool:     "tc",
		WorkDir:         "/tmp/limittraf",
		DBFile:          "limittraf.db",
		ActionLogFile:   "limittraf.log",
		CacheTTL:        7 * 24 * time.Hour,
		AnalyzeInterval: 5 * time.Second,
		MemoryCeiling:   10 << 20,
		WatchdogEvery:   100,
		MaxRules:        200,
		DNSTimeout:      2 * time.Second,
		DNSRate:         20,
		DNSBurst:        10,
		MetricsPort:     9090,
		HealthPort:      9091,
	}
}

// Load assembles Settings from defaults, the optional settings file and the
// environment, then validates them.
//
// An unreadable or malformed settings file is an error. Invalid environment
// values are not: each falls back to the file or default value with a
// warning and is counted in metrics. metrics may be nil.
func Load(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) (Settings, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := Default()
	if path := os.Getenv(SettingsFileEnv); path != "" {
		if err := s.mergeFile(path); err != nil {
			return Settings{}, err
		}
		logger.Info("settings file loaded", slog.String("path", path))
	}

	o := overrider{logger: logger, metrics: metrics}
	s.applyEnv(&o)

	if metrics != nil {
		metrics.SetFallbackActive(o.fallback)
		metrics.RecordLoadTimestamp()
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("Load: open settings: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		return fmt.Errorf("Load: decode settings %s: %w", path, err)
	}
	return nil
}

func (s *Settings) applyEnv(o *overrider) {
	str := func(key, field string, dst *string, validate func(string) error) {
		r := pkgconfig.LoadEnvWithFallback(key, *dst, validate)
		*dst = r.Value
		o.note(field, r.FallbackApplied, r.Warning)
	}
	dur := func(key, field string, dst *time.Duration) {
		r := pkgconfig.LoadEnvDuration(key, *dst, pkgconfig.ValidatePositiveDuration)
		*dst = r.Value
		o.note(field, r.FallbackApplied, r.Warning)
	}
	num := func(key, field string, dst *int, validate func(int) error) {
		r := pkgconfig.LoadEnvInt(key, *dst, validate)
		*dst = r.Value
		o.note(field, r.FallbackApplied, r.Warning)
	}
	positive := func(v int) error { return pkgconfig.ValidateIntRange(v, 1, 1<<30) }

	str("WARDEN_RULES_FILE", "rules_file", &s.RulesFile, pkgconfig.ValidateNonEmpty)
	str("WARDEN_INTERFACE", "interface", &s.Interface, pkgconfig.ValidateInterfaceName)
	str("WARDEN_CAPTURE_TOOL", "capture_tool", &s.CaptureTool, pkgconfig.ValidateNonEmpty)
	str("WARDEN_CAPTURE_FILTER", "capture_filter", &s.CaptureFilter, nil)
	str("WARDEN_SHAPING_TOOL", "shaping_tool", &s.ShapingTool, pkgconfig.ValidateNonEmpty)
	str("WARDEN_WORK_DIR", "work_dir", &s.WorkDir, pkgconfig.ValidateNonEmpty)
	str("WARDEN_DB_FILE", "db_file", &s.DBFile, pkgconfig.ValidateNonEmpty)
	str("WARDEN_ACTION_LOG", "action_log_file", &s.ActionLogFile, pkgconfig.ValidateNonEmpty)

	dur("WARDEN_CACHE_TTL", "cache_ttl", &s.CacheTTL)
	dur("WARDEN_ANALYZE_INTERVAL", "analyze_interval", &s.AnalyzeInterval)
	dur("WARDEN_DNS_TIMEOUT", "dns_timeout", &s.DNSTimeout)

	ceiling := pkgconfig.LoadEnvInt64("WARDEN_MEMORY_CEILING", s.MemoryCeiling, pkgconfig.ValidatePositiveInt64)
	s.MemoryCeiling = ceiling.Value
	o.note("memory_ceiling", ceiling.FallbackApplied, ceiling.Warning)

	num("WARDEN_WATCHDOG_EVERY", "watchdog_every", &s.WatchdogEvery, positive)
	num("WARDEN_MAX_RULES", "max_rules", &s.MaxRules, positive)
	num("WARDEN_DNS_BURST", "dns_burst", &s.DNSBurst, positive)
	num("WARDEN_METRICS_PORT", "metrics_port", &s.MetricsPort, pkgconfig.ValidatePort)
	num("WARDEN_HEALTH_PORT", "health_port", &s.HealthPort, pkgconfig.ValidatePort)

	rate := pkgconfig.LoadEnvFloat("WARDEN_DNS_RATE", s.DNSRate, pkgconfig.ValidatePositiveFloat)
	s.DNSRate = rate.Value
	o.note("dns_rate", rate.FallbackApplied, rate.Warning)

	allow := pkgconfig.LoadEnvStringList("WARDEN_ALLOW_LIST", s.AllowList)
	s.AllowList = allow.Value
	o.note("allow_list", allow.FallbackApplied, allow.Warning)
}

// overrider reports environment fallbacks.
type overrider struct {
	logger   *slog.Logger
	metrics  *pkgconfig.ConfigMetrics
	fallback bool
}

func (o *overrider) note(field string, applied bool, warning string) {
	if !applied {
		return
	}
	o.fallback = true
	if o.metrics != nil {
		o.metrics.RecordValidationError(field)
		o.metrics.RecordFallback(field)
	}
	o.logger.Warn("Configuration fallback applied",
		slog.String("field", field),
		slog.String("warning", warning))
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	var errs []error
	check := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	check("rules_file", pkgconfig.ValidateNonEmpty(s.RulesFile))
	check("interface", pkgconfig.ValidateInterfaceName(s.Interface))
	check("capture_tool", pkgconfig.ValidateNonEmpty(s.CaptureTool))
	check("shaping_tool", pkgconfig.ValidateNonEmpty(s.ShapingTool))
	check("work_dir", pkgconfig.ValidateNonEmpty(s.WorkDir))
	check("db_file", pkgconfig.ValidateNonEmpty(s.DBFile))
	check("action_log_file", pkgconfig.ValidateNonEmpty(s.ActionLogFile))
	check("cache_ttl", pkgconfig.ValidatePositiveDuration(s.CacheTTL))
	check("analyze_interval", pkgconfig.ValidateDuration(s.AnalyzeInterval, time.Second, 24*time.Hour))
	check("memory_ceiling", pkgconfig.ValidatePositiveInt64(s.MemoryCeiling))
	check("watchdog_every", pkgconfig.ValidateIntRange(s.WatchdogEvery, 1, 1<<30))
	check("max_rules", pkgconfig.ValidateIntRange(s.MaxRules, 1, 1<<30))
	check("dns_timeout", pkgconfig.ValidatePositiveDuration(s.DNSTimeout))
	check("dns_rate", pkgconfig.ValidatePositiveFloat(s.DNSRate))
	check("dns_burst", pkgconfig.ValidateIntRange(s.DNSBurst, 1, 1<<30))
	check("metrics_port", pkgconfig.ValidatePort(s.MetricsPort))
	check("health_port", pkgconfig.ValidatePort(s.HealthPort))
	if s.MetricsPort == s.HealthPort {
		errs = append(errs, fmt.Errorf("health_port: must differ from metrics_port %d", s.MetricsPort))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
	}
	return nil
}

// DBPath is the durable store location.
func (s Settings) DBPath() string {
	return s.inWorkDir(s.DBFile)
}

// ActionLogPath is the action log location.
func (s Settings) ActionLogPath() string {
	return s.inWorkDir(s.ActionLogFile)
}

func (s Settings) inWorkDir(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.WorkDir, name)
}
