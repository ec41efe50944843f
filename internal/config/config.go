// Package config loads the optional recompose.yaml and RECOMPOSE_*
// environment overrides used by the recompose command.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file looked up by LoadOptional.
const FileName = "recompose.yaml"

// Config represents recompose.yaml.
type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Debug  DebugConfig  `yaml:"debug"`
	Log    LogConfig    `yaml:"log"`
	State  StateConfig  `yaml:"state"`
}

// EngineConfig contains recomposition settings.
type EngineConfig struct {
	Name          string        `yaml:"name,omitempty"`
	FrameInterval time.Duration `yaml:"frame_interval,omitempty"`
	TraceSamples  int           `yaml:"trace_samples,omitempty"`
	SlowPass      time.Duration `yaml:"slow_pass,omitempty"`
}

// DebugConfig contains debug server settings.
type DebugConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// StateConfig contains settings for persisted saveable state.
type StateConfig struct {
	// Dir is the badger directory. Empty keeps state in memory only.
	Dir string `yaml:"dir,omitempty"`
}

// overrides holds raw environment values. Empty values leave the file's
// setting in place.
type overrides struct {
	Name          string        `env:"RECOMPOSE_NAME"`
	FrameInterval time.Duration `env:"RECOMPOSE_FRAME_INTERVAL"`
	TraceSamples  int           `env:"RECOMPOSE_TRACE_SAMPLES"`
	SlowPass      time.Duration `env:"RECOMPOSE_SLOW_PASS"`
	DebugAddr     string        `env:"RECOMPOSE_DEBUG_ADDR"`
	LogLevel      string        `env:"RECOMPOSE_LOG_LEVEL"`
	LogFormat     string        `env:"RECOMPOSE_LOG_FORMAT"`
	StateDir      string        `env:"RECOMPOSE_STATE_DIR"`
}

// Resolved contains resolved configuration values.
type Resolved struct {
	Root          string
	Name          string
	FrameInterval time.Duration
	TraceSamples  int
	SlowPass      time.Duration
	DebugAddr     string
	LogLevel      slog.Level
	LogFormat     string
	StateDir      string
}

// LoadOptional reads recompose.yaml from dir if present.
func LoadOptional(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}
	return &cfg, nil
}

// ApplyEnv overlays RECOMPOSE_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var o overrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set(&cfg.Engine.Name, o.Name)
	set(&cfg.Engine.FrameInterval, o.FrameInterval)
	set(&cfg.Engine.TraceSamples, o.TraceSamples)
	set(&cfg.Engine.SlowPass, o.SlowPass)
	set(&cfg.Debug.Addr, o.DebugAddr)
	set(&cfg.Log.Level, o.LogLevel)
	set(&cfg.Log.Format, o.LogFormat)
	set(&cfg.State.Dir, o.StateDir)
	return nil
}

func set[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// Resolve loads recompose.yaml from dir (if present), applies the
// environment and resolves defaults. The default name is the last element
// of the module path when dir holds a go.mod, else the directory name.
func Resolve(dir string) (*Resolved, error) {
	cfg, err := LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	r := &Resolved{
		Root:          dir,
		Name:          strings.TrimSpace(cfg.Engine.Name),
		FrameInterval: cfg.Engine.FrameInterval,
		TraceSamples:  cfg.Engine.TraceSamples,
		SlowPass:      cfg.Engine.SlowPass,
		DebugAddr:     strings.TrimSpace(cfg.Debug.Addr),
		LogFormat:     strings.ToLower(strings.TrimSpace(cfg.Log.Format)),
		StateDir:      strings.TrimSpace(cfg.State.Dir),
	}
	if r.Name == "" {
		r.Name = defaultName(dir)
	}
	if r.FrameInterval == 0 {
		r.FrameInterval = 16 * time.Millisecond
	}
	if r.TraceSamples == 0 {
		r.TraceSamples = 240
	}
	if r.SlowPass == 0 {
		r.SlowPass = r.FrameInterval
	}
	if r.LogFormat == "" {
		r.LogFormat = "text"
	}
	if r.StateDir != "" && !filepath.IsAbs(r.StateDir) {
		r.StateDir = filepath.Join(dir, r.StateDir)
	}
	if err := r.LogLevel.UnmarshalText([]byte(orDefault(cfg.Log.Level, "info"))); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func (r *Resolved) validate() error {
	var errs []error
	if r.FrameInterval < time.Millisecond {
		errs = append(errs, fmt.Errorf("engine.frame_interval must be at least 1ms (got %s)", r.FrameInterval))
	}
	if r.TraceSamples < 0 {
		errs = append(errs, fmt.Errorf("engine.trace_samples must not be negative (got %d)", r.TraceSamples))
	}
	if r.SlowPass < 0 {
		errs = append(errs, fmt.Errorf("engine.slow_pass must not be negative (got %s)", r.SlowPass))
	}
	if r.LogFormat != "text" && r.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json (got %q)", r.LogFormat))
	}
	if strings.ContainsAny(r.Name, "/ ") {
		errs = append(errs, fmt.Errorf("engine.name must not contain '/' or spaces (got %q)", r.Name))
	}
	return errors.Join(errs...)
}

// Logger returns a logger writing to w in the configured format and level.
func (r *Resolved) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: r.LogLevel}
	if r.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func defaultName(dir string) string {
	base := filepath.Base(dir)
	if data, err := os.ReadFile(filepath.Join(dir, "go.mod")); err == nil {
		if path := modfile.ModulePath(data); path != "" {
			prefix, _, ok := module.SplitPathVersion(path)
			if ok {
				path = prefix
			}
			base = path[strings.LastIndex(path, "/")+1:]
		}
	}
	base = strings.NewReplacer("/", "_", " ", "_").Replace(base)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "recompose"
	}
	return base
}
