package frameclock

import (
	"sync"
	"time"
)

// Clock provides time for frame timestamps. The default implementation uses
// system time. Tests can inject a fake clock via SetClock to get
// deterministic timestamps.
type Clock interface {
	Now() time.Time
}

// realClock uses system time.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

var (
	clockMu sync.RWMutex
	clock   Clock = realClock{}
)

// SetClock replaces the time source. It returns the previous clock so
// callers can restore it during cleanup.
func SetClock(c Clock) Clock {
	clockMu.Lock()
	defer clockMu.Unlock()
	prev := clock
	if c == nil {
		c = realClock{}
	}
	clock = c
	return prev
}

// Now returns the current time from the active clock.
func Now() time.Time {
	clockMu.RLock()
	defer clockMu.RUnlock()
	return clock.Now()
}
