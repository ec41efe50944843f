package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-drift/recompose/pkg/frameclock"
)

func TestTester_PumpRunsFrameCallbacks(t *testing.T) {
	tester := NewTesterWithT(t)
	var at time.Time
	tester.Clock().OnNextTick(func(ft time.Time) { at = ft })

	_, err := tester.Pump()
	require.NoError(t, err)
	assert.Equal(t, Epoch.Add(FrameDuration), at)
	assert.Equal(t, int64(1), tester.Clock().Frames())
}

func TestTester_InstallsClock(t *testing.T) {
	tester := NewTesterWithT(t)
	require.NotNil(t, tester.Clock())

	before := frameclock.Now()
	_, err := tester.Pump()
	require.NoError(t, err)

	assert.Equal(t, FrameDuration, frameclock.Now().Sub(before))
	assert.Equal(t, before.Add(FrameDuration), tester.LastPass().Started)
}

func TestTester_CleanupRestoresClock(t *testing.T) {
	tester := NewTester()
	fake := tester.Clock().Now()
	require.Equal(t, fake, frameclock.Now())

	tester.Cleanup()
	assert.NotEqual(t, fake, frameclock.Now())
}
