// Package config loads the host application's ambient defaults: the
// jitter buffer's release delay and its per-payload-type clock rates,
// plus logging and metrics settings. The core codec and jitter packages
// never read from disk themselves — they take a Config struct's derived
// values directly — so this loader exists purely for the pieces that sit
// around the library in a running process.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rtpjitter/pkg/logger"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates a Config failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// staticClockRates are the RFC 3551 static payload-type assignments whose
// clock rate is fixed rather than signaled out of band.
var staticClockRates = map[uint8]uint32{
	0:  8000,  // PCMU
	3:  8000,  // GSM
	4:  8000,  // G723
	5:  8000,  // DVI4
	6:  16000, // DVI4
	7:  8000,  // LPC
	8:  8000,  // PCMA
	9:  8000,  // G722
	10: 44100, // L16 stereo
	11: 44100, // L16 mono
	12: 8000,  // QCELP
	13: 8000,  // CN
	14: 90000, // MPA
	15: 8000,  // G728
	16: 11025, // DVI4
	17: 22050, // DVI4
	18: 8000,  // G729
	25: 90000, // CelB
	26: 90000, // JPEG
	28: 90000, // nv
	31: 90000, // H261
	32: 90000, // MPV
	33: 90000, // MP2T
	34: 90000, // H263
}

// defaultDynamicClockRate is used for dynamic payload types (96-127) not
// otherwise configured: the common case in this domain is video.
const defaultDynamicClockRate = 90000

// Config holds the ambient defaults a host process wires into the jitter
// buffer and logging/metrics setup. The core library's own Config types
// (e.g. jitter.Config) are built from this, never passed it directly.
type Config struct {
	LogLevel string

	MetricsEnabled   bool
	MetricsNamespace string
	MetricsSubsystem string

	// Delay is the jitter buffer's target release delay.
	Delay time.Duration

	// ClockRates overrides or extends staticClockRates/defaultDynamicClockRate
	// for specific payload types, keyed by RTP payload type.
	ClockRates map[uint8]uint32
}

type yamlConfig struct {
	LogLevel         string           `yaml:"log_level"`
	MetricsEnabled   bool             `yaml:"metrics_enabled"`
	MetricsNamespace string           `yaml:"metrics_namespace"`
	MetricsSubsystem string           `yaml:"metrics_subsystem"`
	Delay            string           `yaml:"delay"`
	ClockRates       map[uint8]uint32 `yaml:"clock_rates"`
}

// LoadFromYAML loads configuration from a YAML file, returning alongside
// it the set of top-level keys that were actually present, so callers can
// merge over defaults without a zero value clobbering an explicit setting.
func LoadFromYAML(filePath string) (*Config, map[string]bool, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read YAML file: %w", err)
	}

	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML file: %w", err)
	}
	present := make(map[string]bool)
	for key := range rawMap {
		switch key {
		case "log_level", "metrics_enabled", "metrics_namespace", "metrics_subsystem", "delay", "clock_rates":
			present[key] = true
		}
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML file: %w", err)
	}

	cfg := &Config{
		LogLevel:         yamlCfg.LogLevel,
		MetricsEnabled:   yamlCfg.MetricsEnabled,
		MetricsNamespace: yamlCfg.MetricsNamespace,
		MetricsSubsystem: yamlCfg.MetricsSubsystem,
		ClockRates:       yamlCfg.ClockRates,
	}
	if yamlCfg.Delay != "" {
		d, err := time.ParseDuration(yamlCfg.Delay)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid delay value in YAML: %w", err)
		}
		cfg.Delay = d
	}
	return cfg, present, nil
}

// setDefaults fills in zero-valued fields with the library's defaults.
func (c *Config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = "rtpjitter"
	}
	if c.MetricsSubsystem == "" {
		c.MetricsSubsystem = "session"
	}
	if c.Delay == 0 {
		c.Delay = 200 * time.Millisecond
	}
	if c.ClockRates == nil {
		c.ClockRates = make(map[uint8]uint32)
	}
}

// merge overlays values from other onto c, using present to decide which
// zero-looking fields were actually set explicitly.
func (c *Config) merge(other *Config, present map[string]bool) {
	if present["log_level"] && other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if present["metrics_enabled"] {
		c.MetricsEnabled = other.MetricsEnabled
	}
	if present["metrics_namespace"] && other.MetricsNamespace != "" {
		c.MetricsNamespace = other.MetricsNamespace
	}
	if present["metrics_subsystem"] && other.MetricsSubsystem != "" {
		c.MetricsSubsystem = other.MetricsSubsystem
	}
	if present["delay"] && other.Delay != 0 {
		c.Delay = other.Delay
	}
	if present["clock_rates"] {
		if c.ClockRates == nil {
			c.ClockRates = make(map[uint8]uint32)
		}
		for pt, rate := range other.ClockRates {
			c.ClockRates[pt] = rate
		}
	}
}

// ParseFlags builds a Config from defaults, an optional YAML file given as
// the very first command-line argument (a .yaml/.yml path after any flag is
// not picked up), and command-line flags, in that priority
// order (flags win, then YAML, then defaults).
func ParseFlags() (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	args := os.Args[1:]
	yamlPath := ""
	newArgs := make([]string, 0, len(args))
	for i, arg := range args {
		if len(arg) > 0 && arg[0] == '-' {
			newArgs = append(newArgs, arg)
			continue
		}
		if i == 0 && len(arg) > 4 && (arg[len(arg)-5:] == ".yaml" || arg[len(arg)-4:] == ".yml") {
			yamlPath = arg
			continue
		}
		newArgs = append(newArgs, arg)
	}

	if yamlPath != "" {
		yamlCfg, present, err := LoadFromYAML(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load YAML config: %w", err)
		}
		cfg.merge(yamlCfg, present)
	}

	var flagLogLevel string
	var flagMetrics bool
	var flagDelay time.Duration
	flag.StringVar(&flagLogLevel, "log-level", "", "Log level: error, warn, info, debug (default: info)")
	flag.BoolVar(&flagMetrics, "metrics", false, "Enable Prometheus metrics registration")
	flag.DurationVar(&flagDelay, "delay", 0, "Jitter buffer release delay")

	oldArgs := os.Args
	os.Args = append([]string{oldArgs[0]}, newArgs...)
	flag.Parse()
	os.Args = oldArgs

	flagSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { flagSet[f.Name] = true })

	if flagSet["log-level"] {
		cfg.LogLevel = flagLogLevel
	}
	if flagSet["metrics"] {
		cfg.MetricsEnabled = flagMetrics
	}
	if flagSet["delay"] {
		cfg.Delay = flagDelay
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative", ErrInvalidConfig)
	}
	if c.LogLevel != "" {
		if _, err := logger.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%w: invalid log level: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// GetLogLevel returns the logger.Level for the configured log level,
// defaulting to Info if unset or unparseable.
func (c *Config) GetLogLevel() logger.Level {
	if c.LogLevel == "" {
		return logger.LevelInfo
	}
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return logger.LevelInfo
	}
	return level
}

// ClockRateFor returns the clock rate (Hz) to use for pt: an explicit
// override from ClockRates, else the RFC 3551 static assignment, else
// defaultDynamicClockRate for dynamic payload types.
func (c *Config) ClockRateFor(pt uint8) uint32 {
	if rate, ok := c.ClockRates[pt]; ok {
		return rate
	}
	if rate, ok := staticClockRates[pt]; ok {
		return rate
	}
	return defaultDynamicClockRate
}

// String returns a short debugging representation.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Configuration:\n  Log Level: %s\n  Metrics: enabled=%t namespace=%s subsystem=%s\n  Delay: %v\n  Clock rate overrides: %d",
		c.LogLevel, c.MetricsEnabled, c.MetricsNamespace, c.MetricsSubsystem, c.Delay, len(c.ClockRates),
	)
}
