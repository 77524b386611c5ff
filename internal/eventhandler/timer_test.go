package eventhandler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerCancelPreventsFire(t *testing.T) {
	var fired int32
	var timer ReusableTimer
	timer.Start(20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	timer.Cancel()
	time.Sleep(60 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&fired))
}

func TestTimerCancelOnIdleIsNoop(t *testing.T) {
	var timer ReusableTimer
	require.NotPanics(t, func() { timer.Cancel() })
	require.False(t, timer.IsAlive())
}

func TestTimerRestartRearmsWithSameArgs(t *testing.T) {
	var fired int32
	var timer ReusableTimer
	timer.Start(15*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	timer.Restart()
	time.Sleep(40 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestTimerRestartWithoutStartIsNoop(t *testing.T) {
	var timer ReusableTimer
	require.NotPanics(t, func() { timer.Restart() })
}

func TestTimerStartWhileArmedCancelsPrevious(t *testing.T) {
	var firstFired, secondFired int32
	var timer ReusableTimer
	timer.Start(15*time.Millisecond, func() { atomic.AddInt32(&firstFired, 1) })
	timer.Start(30*time.Millisecond, func() { atomic.AddInt32(&secondFired, 1) })
	time.Sleep(60 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&firstFired))
	require.EqualValues(t, 1, atomic.LoadInt32(&secondFired))
}
