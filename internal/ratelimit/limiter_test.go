package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestExactlyCapacityPerWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}
	l := New(3, time.Second, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("finance-agent:execute_trade"), "call %d", i+1)
	}
	require.False(t, l.Allow("finance-agent:execute_trade"))
	require.Equal(t, 0, l.Remaining("finance-agent:execute_trade"))

	clock.Advance(999 * time.Millisecond)
	require.False(t, l.Allow("finance-agent:execute_trade"))

	clock.Advance(time.Millisecond)
	require.True(t, l.Allow("finance-agent:execute_trade"))
	require.Equal(t, 2, l.Remaining("finance-agent:execute_trade"))
}

func TestKeysAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := New(1, time.Minute, WithClock(clock.Now))

	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	require.True(t, l.Allow("b"))
}

func TestConcurrentCallsShareOneCounter(t *testing.T) {
	l := New(50, time.Hour)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if l.Allow("shared") {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(50), admitted.Load())
}

func TestSweepDropsExpiredWindows(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := New(1, time.Second, WithClock(clock.Now))

	l.Allow("a")
	l.Allow("b")
	clock.Advance(2 * time.Second)
	l.Allow("c")

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.windows, 1)
}

func TestReconfigure(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := New(1, time.Second, WithClock(clock.Now))

	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))

	l.Reconfigure(2, time.Second)
	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))
}
