package schedule

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock fires timers only when told to.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) afterFunc(_ time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &manualTimer{fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

// fireAll runs every timer, stopped or not, like a timer racing Stop.
func (c *manualClock) fireAll() {
	c.mu.Lock()
	timers := append([]*manualTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, timer := range timers {
		timer.fn()
	}
}

func TestScheduleReplacesPendingTask(t *testing.T) {
	clock := &manualClock{}
	d := NewDebouncer(300*time.Millisecond, WithAfterFunc(clock.afterFunc))

	var calls []string
	d.Schedule(func() { calls = append(calls, "first") })
	d.Schedule(func() { calls = append(calls, "second") })
	require.True(t, d.Pending())

	clock.fireAll()
	assert.Equal(t, []string{"second"}, calls)
	assert.False(t, d.Pending())
}

func TestCancelMakesStaleTimerANoop(t *testing.T) {
	clock := &manualClock{}
	d := NewDebouncer(time.Second, WithAfterFunc(clock.afterFunc))

	ran := false
	d.Schedule(func() { ran = true })
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())

	clock.fireAll()
	assert.False(t, ran)
}

func TestFlushRunsImmediately(t *testing.T) {
	clock := &manualClock{}
	d := NewDebouncer(time.Hour, WithAfterFunc(clock.afterFunc))

	count := 0
	d.Schedule(func() { count++ })
	assert.True(t, d.Flush())
	assert.Equal(t, 1, count)

	clock.fireAll()
	assert.Equal(t, 1, count, "the timer must not run the task again")
	assert.False(t, d.Flush())
}

func TestStopRefusesNewTasks(t *testing.T) {
	clock := &manualClock{}
	d := NewDebouncer(time.Second, WithAfterFunc(clock.afterFunc))
	d.Stop()
	d.Schedule(func() { t.Fatal("should not be scheduled") })
	assert.False(t, d.Pending())
	clock.fireAll()
}

func TestDebouncerCoalescesWithRealTimers(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var count atomic.Int32
	for i := 0; i < 10; i++ {
		d.Schedule(func() { count.Add(1) })
	}
	assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, 20*time.Millisecond, d.Delay())
}
