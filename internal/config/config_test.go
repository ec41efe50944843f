package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadOptionalMissing(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoadOptionalInvalid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, "engine: [")
	_, err := LoadOptional(dir)
	require.ErrorContains(t, err, "failed to parse recompose.yaml")
}

func TestResolveDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example.com/tools/counter/v2\n\ngo 1.24\n")

	r, err := Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, "counter", r.Name)
	assert.Equal(t, 16*time.Millisecond, r.FrameInterval)
	assert.Equal(t, r.FrameInterval, r.SlowPass)
	assert.Equal(t, 240, r.TraceSamples)
	assert.Equal(t, slog.LevelInfo, r.LogLevel)
	assert.Equal(t, "text", r.LogFormat)
	assert.Empty(t, r.StateDir)
	assert.Empty(t, r.DebugAddr)
}

func TestResolveFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, `
engine:
  name: demo
  frame_interval: 8ms
  trace_samples: 32
debug:
  addr: ":9000"
log:
  level: debug
state:
  dir: state
`)
	t.Setenv("RECOMPOSE_DEBUG_ADDR", "localhost:9100")
	t.Setenv("RECOMPOSE_LOG_FORMAT", "JSON")
	t.Setenv("RECOMPOSE_SLOW_PASS", "30ms")

	r, err := Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, "demo", r.Name)
	assert.Equal(t, 8*time.Millisecond, r.FrameInterval)
	assert.Equal(t, 30*time.Millisecond, r.SlowPass)
	assert.Equal(t, 32, r.TraceSamples)
	assert.Equal(t, "localhost:9100", r.DebugAddr)
	assert.Equal(t, slog.LevelDebug, r.LogLevel)
	assert.Equal(t, "json", r.LogFormat)
	assert.Equal(t, filepath.Join(dir, "state"), r.StateDir)
}

func TestResolveValidation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, FileName, `
engine:
  name: "a b"
  frame_interval: 100us
log:
  format: xml
`)
	_, err := Resolve(dir)
	require.Error(t, err)
	assert.ErrorContains(t, err, "engine.frame_interval")
	assert.ErrorContains(t, err, "log.format")
	assert.ErrorContains(t, err, "engine.name")
}

func TestResolveBadLevel(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RECOMPOSE_LOG_LEVEL", "loud")
	_, err := Resolve(dir)
	require.ErrorContains(t, err, "log.level")
}

func TestResolveBadEnv(t *testing.T) {
	t.Setenv("RECOMPOSE_TRACE_SAMPLES", "many")
	_, err := Resolve(t.TempDir())
	require.ErrorContains(t, err, "parse env")
}
