package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtual_AdvanceRunsInFireTimeOrder(t *testing.T) {
	c := NewVirtual(time.Time{})
	var order []string

	c.Schedule(3*time.Second, func() { order = append(order, "c") })
	c.Schedule(1*time.Second, func() { order = append(order, "a") })
	c.Schedule(2*time.Second, func() { order = append(order, "b") })

	c.Advance(5 * time.Second)

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, Epoch.Add(5*time.Second), c.Now())
}

func TestVirtual_TiesBreakByInsertionOrder(t *testing.T) {
	c := NewVirtual(time.Time{})
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		c.Schedule(time.Second, func() { order = append(order, i) })
	}
	c.Advance(time.Second)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestVirtual_NowDuringActionIsFireTime(t *testing.T) {
	c := NewVirtual(time.Time{})
	var seen time.Time
	c.Schedule(2*time.Second, func() { seen = c.Now() })
	c.Advance(10 * time.Second)
	assert.Equal(t, Epoch.Add(2*time.Second), seen)
}

func TestVirtual_ActionAtBoundaryFiresOnce(t *testing.T) {
	c := NewVirtual(time.Time{})
	fired := 0
	c.Schedule(10*time.Second, func() { fired++ })

	c.Advance(10 * time.Second)
	c.Advance(0)
	c.Advance(time.Second)

	assert.Equal(t, 1, fired)
}

func TestVirtual_ActionsScheduledDuringDrain(t *testing.T) {
	c := NewVirtual(time.Time{})
	var fires []time.Duration
	var tick func()
	tick = func() {
		fires = append(fires, c.Now().Sub(Epoch))
		c.Schedule(time.Second, tick)
	}
	c.Schedule(0, tick)

	c.Advance(3 * time.Second)

	assert.Equal(t, []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second}, fires)
	assert.Equal(t, 1, c.Pending())
}

func TestVirtual_StopPreventsAction(t *testing.T) {
	c := NewVirtual(time.Time{})
	fired := false
	h := c.Schedule(time.Second, func() { fired = true })

	require.True(t, h.Stop())
	assert.False(t, h.Stop(), "second stop is a no-op")

	c.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestVirtual_SleepUntil(t *testing.T) {
	c := NewVirtual(time.Time{})
	done := make(chan error, 1)
	go func() {
		done <- c.SleepUntil(context.Background(), Epoch.Add(5*time.Second))
	}()

	require.NoError(t, c.WaitAdvance(5*time.Second, time.Second, 1))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SleepUntil did not return")
	}
}

func TestVirtual_SleepUntilCancelled(t *testing.T) {
	c := NewVirtual(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var err error
	wg.Add(1)
	go func() {
		defer wg.Done()
		err = c.SleepUntil(ctx, Epoch.Add(time.Hour))
	}()

	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)
	cancel()
	wg.Wait()

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Pending())
}

func TestVirtual_WaitAdvanceTimesOut(t *testing.T) {
	c := NewVirtual(time.Time{})
	err := c.WaitAdvance(time.Second, 10*time.Millisecond, 1)
	require.Error(t, err)
}

func TestWall_ScheduleAndSleep(t *testing.T) {
	w := NewWall()
	fired := make(chan struct{})
	w.Schedule(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("scheduled action did not run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.SleepUntil(ctx, w.Now().Add(time.Hour)), context.Canceled)
	require.NoError(t, w.SleepUntil(context.Background(), w.Now().Add(-time.Second)))
}

func TestVirtual_GoWorkFinishesBeforeNextAction(t *testing.T) {
	c := NewVirtual(time.Time{})
	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	c.Schedule(time.Second, func() {
		Go(c, func() {
			time.Sleep(5 * time.Millisecond)
			record("work@" + c.Now().Sub(Epoch).String())
		})
	})
	c.Schedule(2*time.Second, func() { record("next") })
	c.Advance(3 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"work@1s", "next"}, order)
}

func TestVirtual_BlockedGoWorkLetsTimeMove(t *testing.T) {
	c := NewVirtual(time.Time{})
	release := make(chan struct{})
	released := make(chan time.Duration, 1)

	c.Schedule(0, func() {
		Go(c, func() {
			<-release
			released <- c.Now().Sub(Epoch)
		})
	})
	c.Schedule(10*time.Second, func() { close(release) })
	c.Advance(10 * time.Second)

	select {
	case at := <-released:
		assert.Equal(t, 10*time.Second, at)
	case <-time.After(time.Second):
		t.Fatal("blocked work was not released by the later action")
	}
}
