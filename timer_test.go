package asyncrt

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_FiresInDeadlineOrder(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))
	ts := rt.Timers()

	var order []int
	var mu sync.Mutex
	done := make(chan struct{})

	// Schedule out of order; callbacks must run in deadline order.
	_, err := ts.Schedule(60*time.Millisecond, func() {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		close(done)
	})
	require.NoError(t, err)
	_, err = ts.Schedule(20*time.Millisecond, func() {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timers did not fire")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2}, order)
}

func TestTimer_TieBreakIsFIFO(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))
	ts := rt.Timers()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(3)

	for i := 1; i <= 3; i++ {
		i := i
		_, err := ts.Schedule(30*time.Millisecond, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
		require.NoError(t, err)
	}

	waitWG(t, &wg, 5*time.Second)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestTimer_CancelSuppressesCallback(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))
	ts := rt.Timers()

	var fired atomic.Bool
	timer, err := ts.Schedule(30*time.Millisecond, func() { fired.Store(true) })
	require.NoError(t, err)

	timer.Cancel()
	timer.Cancel() // idempotent
	assert.True(t, timer.Cancelled())

	time.Sleep(150 * time.Millisecond)
	assert.False(t, fired.Load(), "cancelled timer must be dropped on fire")
}

func TestTimer_CancelBeatsDelay(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))
	ts := rt.Timers()

	var fired atomic.Bool
	timer, err := ts.Schedule(30*time.Millisecond, func() { fired.Store(true) })
	require.NoError(t, err)

	timer.Delay(50 * time.Millisecond)
	timer.Cancel()

	time.Sleep(200 * time.Millisecond)
	assert.False(t, fired.Load(), "cancellation wins regardless of delay")
}

func TestTimer_DelayPostponesFire(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))
	ts := rt.Timers()

	start := time.Now()
	done := make(chan struct{})
	timer, err := ts.Schedule(30*time.Millisecond, func() { close(done) })
	require.NoError(t, err)

	timer.Delay(150 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("delayed timer did not fire")
	}
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "fired before patched deadline (elapsed %v)", elapsed)
}

func TestTimer_RemainingNeverNegative(t *testing.T) {
	rt := newTestRuntime(t, WithSchedulers(1))
	ts := rt.Timers()

	timer, err := ts.Schedule(20*time.Millisecond, func() {})
	require.NoError(t, err)
	assert.LessOrEqual(t, timer.Remaining(), 20*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, time.Duration(0), timer.Remaining())
}

func TestTimer_ScheduleAfterStop(t *testing.T) {
	rt, err := New(WithSchedulers(1))
	require.NoError(t, err)
	require.NoError(t, rt.Start())
	require.NoError(t, rt.Stop())

	_, err = rt.Timers().Schedule(time.Millisecond, func() {})
	assert.ErrorIs(t, err, ErrTimerServiceStopped)
}

func waitWG(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting")
	}
}
