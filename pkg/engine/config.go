package engine

import (
	"log/slog"
	"time"

	"github.com/go-drift/recompose/pkg/frameclock"
	"github.com/go-drift/recompose/pkg/saveable"
)

// Config controls an Engine.
type Config struct {
	// Name labels the recomposer in logs and metrics. Defaults to "engine".
	Name string
	// FrameInterval is the tick interval of the default frame clock.
	// Defaults to 16ms.
	FrameInterval time.Duration
	// Clock replaces the default ticker frame clock, e.g. with a
	// frameclock.ManualClock in tests.
	Clock frameclock.FrameClock
	// DebugAddr enables the HTTP debug server on this address when set.
	// Use ":0" for an ephemeral port.
	DebugAddr string
	// TraceSamples is the capacity of the pass trace buffer.
	// Defaults to 240.
	TraceSamples int
	// SlowPassThreshold marks passes that take longer as slow.
	// Defaults to one frame interval.
	SlowPassThreshold time.Duration
	// RuntimeSampleInterval and RuntimeSampleWindow size the runtime
	// memory sampler used by the debug server.
	RuntimeSampleInterval time.Duration
	RuntimeSampleWindow   time.Duration
	// Store persists saveable state of mounted compositions. Nil disables
	// persistence.
	Store saveable.Store
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with the default frame interval.
func DefaultConfig() Config {
	return Config{
		Name:          "engine",
		FrameInterval: 16 * time.Millisecond,
		TraceSamples:  passTraceSamplesDefault,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "engine"
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = 16 * time.Millisecond
	}
	if c.TraceSamples <= 0 {
		c.TraceSamples = passTraceSamplesDefault
	}
	if c.SlowPassThreshold <= 0 {
		c.SlowPassThreshold = c.FrameInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
