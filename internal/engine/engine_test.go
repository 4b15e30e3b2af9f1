package engine_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Xuth/lockd/internal/engine"
	"github.com/Xuth/lockd/internal/lockdmetrics"
	"github.com/Xuth/lockd/internal/testclient"
)

// startEngine boots an Engine on an ephemeral loopback port and returns a
// dialer plus a shutdown func. Using a real net.Listener here (rather than
// driving the dispatcher directly, as the engine package's own white-box
// tests do) exercises the full accept/read/fan-in/core-loop wiring end to
// end.
func startEngine(t *testing.T) (dial func() *testclient.Client, metrics *lockdmetrics.Counters) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	metrics = &lockdmetrics.Counters{}
	e := engine.New(zap.NewNop(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Serve(ctx, ln)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("engine did not shut down in time")
		}
	})

	addr := ln.Addr().String()
	return func() *testclient.Client {
		c, err := testclient.Dial(addr)
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		return c
	}, metrics
}

func TestExclusiveLockExcludesSecondHolderUntilReleased(t *testing.T) {
	dial, _ := startEngine(t)
	c1, c2 := dial(), dial()

	ok, err := c1.XLock("A")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c2.XLock("A")
	require.NoError(t, err)
	require.False(t, ok)

	resp, err := c1.Release("A")
	require.NoError(t, err)
	require.Equal(t, "RELEASED A", resp)

	ok, err = c2.XLock("A")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWaitersWakeInFIFOOrderAcrossModes(t *testing.T) {
	dial, _ := startEngine(t)
	c1, c2, c3 := dial(), dial(), dial()

	ok, err := c1.XLock("B")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c2.XLockWait("B"))
	require.NoError(t, c3.SLockWait("B"))

	// Give the parked requests a moment to actually register server-side
	// before release, since these parked requests send no reply yet.
	time.Sleep(50 * time.Millisecond)

	resp, err := c1.Release("B")
	require.NoError(t, err)
	require.Equal(t, "RELEASED B", resp)

	require.NoError(t, c2.WaitAcquired("B"))

	resp, err = c2.Release("B")
	require.NoError(t, err)
	require.Equal(t, "RELEASED B", resp)

	require.NoError(t, c3.WaitAcquired("B"))
}

func TestSharedWaitersCoalesceUpToFirstExclusive(t *testing.T) {
	dial, _ := startEngine(t)
	c1, c2, c3, c4, c5 := dial(), dial(), dial(), dial(), dial()

	ok, err := c1.XLock("C")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c2.SLockWait("C"))
	require.NoError(t, c3.SLockWait("C"))
	require.NoError(t, c4.XLockWait("C"))
	require.NoError(t, c5.SLockWait("C"))
	time.Sleep(50 * time.Millisecond)

	_, err = c1.Release("C")
	require.NoError(t, err)

	// Both C2 and C3 are woken together; C4 and C5 remain parked.
	require.NoError(t, c2.WaitAcquired("C"))
	require.NoError(t, c3.WaitAcquired("C"))

	n, err := c1.Count("C")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = c2.Release("C")
	require.NoError(t, err)
	// C3 still holds, so C4 stays parked.
	time.Sleep(20 * time.Millisecond)

	_, err = c3.Release("C")
	require.NoError(t, err)
	require.NoError(t, c4.WaitAcquired("C"))

	_, err = c4.Release("C")
	require.NoError(t, err)
	require.NoError(t, c5.WaitAcquired("C"))
}

func TestDisconnectReleasesHeldLockAndWakesWaiter(t *testing.T) {
	dial, _ := startEngine(t)
	c1, c2 := dial(), dial()

	ok, err := c1.XLock("D")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c2.XLockWait("D"))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, c1.Close())

	require.NoError(t, c2.WaitAcquired("D"))
}

func TestMessageIsLastWriterWinsAndClearedOnDisconnect(t *testing.T) {
	dial, _ := startEngine(t)
	c1, c2 := dial(), dial()

	require.NoError(t, c1.Set("K", "hello world"))
	text, ok, err := c2.Get("K")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello world", text)

	require.NoError(t, c1.Set("K", "bye"))
	text, ok, err = c2.Get("K")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bye", text)

	require.NoError(t, c1.Close())
	time.Sleep(50 * time.Millisecond)

	_, ok, err = c2.Get("K")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProtocolViolationClosesConnectionWithNoResponse(t *testing.T) {
	dial, _ := startEngine(t)
	c1 := dial()

	require.NoError(t, c1.SendLine("garbage"))

	_, err := c1.ReadLine()
	require.Error(t, err)
}

func TestMetricsTrackActivity(t *testing.T) {
	dial, metrics := startEngine(t)
	c1 := dial()

	ok, err := c1.XLock("M")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c1.Release("M")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	snap := metrics.Snapshot()
	require.Equal(t, int64(1), snap.ConnectionsAccepted)
	require.Equal(t, int64(1), snap.LocksGranted)
	require.Equal(t, int64(1), snap.LocksReleased)
}
