package engine

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/go-drift/recompose/pkg/recomposer"
)

const (
	defaultSampleInterval = 5 * time.Second
	defaultSampleWindow   = time.Minute
	minSampleInterval     = time.Second
	maxRuntimeSamples     = 120
)

// RuntimeSample is the process heap, GC and recomposer counters at one
// point in time.
type RuntimeSample struct {
	Timestamp    int64  `json:"ts"`
	HeapAlloc    uint64 `json:"heapAlloc"`
	HeapInuse    uint64 `json:"heapInuse"`
	HeapSys      uint64 `json:"heapSys"`
	NumGC        uint32 `json:"numGC"`
	LastGCTime   int64  `json:"lastGCTime"`
	PauseTotalNs uint64 `json:"pauseTotalNs"`
	LastPauseNs  uint64 `json:"lastPauseNs"`
	Goroutines   int    `json:"goroutines"`
	Passes       int64  `json:"passes"`
	Changes      int64  `json:"changes"`
	Compositions int    `json:"compositions"`
}

// RuntimeSampleBuffer keeps the samples of a sliding window.
type RuntimeSampleBuffer struct {
	interval time.Duration
	window   time.Duration

	mu      sync.RWMutex
	samples ring[RuntimeSample]
}

// NewRuntimeSampleBuffer sizes a buffer to hold window worth of samples
// taken every interval. Zero values select the defaults. The interval is
// at least a second and the buffer holds at most maxRuntimeSamples, so the
// effective window may be shorter than requested.
func NewRuntimeSampleBuffer(window, interval time.Duration) *RuntimeSampleBuffer {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	interval = max(interval, minSampleInterval)
	if window <= 0 {
		window = defaultSampleWindow
	}
	n := min(max(int(window/interval), 1), maxRuntimeSamples)
	return &RuntimeSampleBuffer{
		interval: interval,
		window:   time.Duration(n) * interval,
		samples:  newRing[RuntimeSample](n),
	}
}

// Interval is the time between samples.
func (b *RuntimeSampleBuffer) Interval() time.Duration { return b.interval }

// Window is the history the buffer covers.
func (b *RuntimeSampleBuffer) Window() time.Duration { return b.window }

// Add appends s, dropping the oldest sample when full.
func (b *RuntimeSampleBuffer) Add(s RuntimeSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples.push(s)
}

// Snapshot returns the samples oldest first.
func (b *RuntimeSampleBuffer) Snapshot() []RuntimeSample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.samples.ordered()
}

// sample reads the runtime counters and, if rec is not nil, its pass
// counters.
func sample(rec *recomposer.Recomposer) RuntimeSample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s := RuntimeSample{
		Timestamp:    time.Now().UnixMilli(),
		HeapAlloc:    m.HeapAlloc,
		HeapInuse:    m.HeapInuse,
		HeapSys:      m.HeapSys,
		NumGC:        m.NumGC,
		PauseTotalNs: m.PauseTotalNs,
		Goroutines:   runtime.NumGoroutine(),
	}
	if m.NumGC > 0 {
		s.LastPauseNs = m.PauseNs[(m.NumGC+255)%256]
	}
	if m.LastGC > 0 {
		s.LastGCTime = time.Unix(0, int64(m.LastGC)).UnixMilli()
	}
	if rec != nil {
		s.Passes = rec.Passes()
		s.Changes = rec.ChangeCount()
		s.Compositions = len(rec.Compositions())
	}
	return s
}

// runSampler samples into buffer every interval until ctx is done.
func runSampler(ctx context.Context, buffer *RuntimeSampleBuffer, rec *recomposer.Recomposer) {
	t := time.NewTicker(buffer.Interval())
	defer t.Stop()
	for {
		buffer.Add(sample(rec))
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
