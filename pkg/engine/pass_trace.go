package engine

import (
	"sync"
	"time"

	"github.com/go-drift/recompose/pkg/recomposer"
)

const passTraceSamplesDefault = 240

// PassSample is a single recomposition pass trace sample.
type PassSample struct {
	Timestamp    int64   `json:"ts"`
	Pass         int64   `json:"pass"`
	DurationMs   float64 `json:"durationMs"`
	Changes      int     `json:"changes"`
	Compositions int     `json:"compositions"`
	Recomposed   int     `json:"recomposed"`
	Executions   int64   `json:"executions"`
	Errors       int     `json:"errors,omitempty"`
}

func sampleOf(res recomposer.PassResult) PassSample {
	return PassSample{
		Timestamp:    res.Started.UnixMilli(),
		Pass:         res.Pass,
		DurationMs:   durationToMillis(res.Duration),
		Changes:      res.Changes,
		Compositions: res.Compositions,
		Recomposed:   res.Recomposed,
		Executions:   res.Executions,
		Errors:       res.Errors,
	}
}

// PassTimeline is the debug server response shape.
type PassTimeline struct {
	Samples     []PassSample `json:"samples"`
	SlowPasses  int          `json:"slowPasses"`
	ThresholdMs float64      `json:"thresholdMs"`
}

// PassTraceBuffer stores recent pass samples in a ring buffer.
type PassTraceBuffer struct {
	mu        sync.RWMutex
	samples   ring[PassSample]
	slow      int
	threshold time.Duration
}

// NewPassTraceBuffer creates a buffer holding capacity samples. Passes
// longer than threshold are counted as slow.
func NewPassTraceBuffer(capacity int, threshold time.Duration) *PassTraceBuffer {
	if capacity <= 0 {
		capacity = passTraceSamplesDefault
	}
	return &PassTraceBuffer{
		samples:   newRing[PassSample](capacity),
		threshold: threshold,
	}
}

// Capacity returns the buffer capacity.
func (b *PassTraceBuffer) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples.items)
}

// Record adds the sample of a finished pass.
func (b *PassTraceBuffer) Record(res recomposer.PassResult) {
	b.Add(sampleOf(res), res.Duration)
}

// Add records a sample and updates the slow pass count.
func (b *PassTraceBuffer) Add(sample PassSample, d time.Duration) {
	b.mu.Lock()
	b.samples.push(sample)
	if b.threshold > 0 && d > b.threshold {
		b.slow++
	}
	b.mu.Unlock()
}

// Snapshot returns a chronological copy of samples and stats.
func (b *PassTraceBuffer) Snapshot() PassTimeline {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return PassTimeline{
		Samples:     b.samples.ordered(),
		SlowPasses:  b.slow,
		ThresholdMs: durationToMillis(b.threshold),
	}
}

func durationToMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
