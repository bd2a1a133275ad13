package backoff

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func newTestTimer() (*Timer, *clocktesting.FakeClock) {
	clk := clocktesting.NewFakeClock(time.Now())
	return NewTimer(NewCounter(1, nil), clk, nil), clk
}

func TestTimer_FiresAfterDelay(t *testing.T) {
	timer, clk := newTestTimer()

	fired := make(chan struct{}, 1)
	delay := timer.Schedule(func() { fired <- struct{}{} })
	require.Equal(t, 2*time.Second, delay)
	assert.True(t, timer.Pending())

	clk.Step(time.Second)
	select {
	case <-fired:
		t.Fatal("action fired before its delay")
	case <-time.After(50 * time.Millisecond):
	}

	clk.Step(time.Second)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("action did not fire")
	}

	assert.Eventually(t, func() bool { return !timer.Pending() }, time.Second, 10*time.Millisecond)
}

func TestTimer_CancelPreventsAction(t *testing.T) {
	timer, clk := newTestTimer()

	var calls atomic.Int32
	timer.Schedule(func() { calls.Add(1) })
	timer.Cancel()
	assert.False(t, timer.Pending())
	assert.False(t, clk.HasWaiters())

	clk.Step(time.Hour)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestTimer_CancelWithoutPending(t *testing.T) {
	timer, _ := newTestTimer()

	assert.NotPanics(t, func() {
		timer.Cancel()
		timer.Cancel()
	})
}

func TestTimer_ScheduleSupersedes(t *testing.T) {
	timer, clk := newTestTimer()

	var first, second atomic.Int32
	timer.Schedule(func() { first.Add(1) })
	delay := timer.Schedule(func() { second.Add(1) })
	assert.Equal(t, 4*time.Second, delay)

	clk.Step(time.Hour)

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestTimer_ResetBackoff(t *testing.T) {
	timer, _ := newTestTimer()

	timer.Schedule(func() {})
	timer.Schedule(func() {})
	timer.Cancel()
	timer.ResetBackoff()

	assert.Equal(t, 2*time.Second, timer.Schedule(func() {}))
}

func TestTimer_CancelRacingFire(t *testing.T) {
	timer, clk := newTestTimer()

	var calls atomic.Int32
	for i := 0; i < 50; i++ {
		timer.Schedule(func() { calls.Add(1) })
		go clk.Step(time.Hour)
		timer.Cancel()
	}

	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), int32(50))
}
