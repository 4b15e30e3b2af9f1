package engine

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Xuth/lockd/internal/lockdmetrics"
)

// testHarness wires an Engine directly to a Connection backed by a loopback
// TCP connection, bypassing Serve's goroutines entirely so dispatch logic can
// be driven synchronously from the test goroutine; the kernel socket buffer
// holds each response until the test reads it.
type testHarness struct {
	t    *testing.T
	e    *Engine
	conn *Connection
	peer *bufio.Reader
	raw  net.Conn
}

func newHarness(t *testing.T) *testHarness {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { client.Close(); server.Close() })

	e := New(zap.NewNop(), &lockdmetrics.Counters{})
	c := newConnection(1, server, e.log)
	e.conns[c.id] = c

	return &testHarness{t: t, e: e, conn: c, peer: bufio.NewReader(client), raw: client}
}

// send feeds line (with its trailing newline) through the dispatcher as if
// it had just arrived from the network.
func (h *testHarness) send(line string) bool {
	h.conn.readBuf = append(h.conn.readBuf, []byte(line+"\n")...)
	return h.e.pumpBuffer(h.conn)
}

func (h *testHarness) expect(want string) {
	h.t.Helper()
	line, err := h.peer.ReadString('\n')
	require.NoError(h.t, err)
	require.Equal(h.t, want, line)
}

func TestDispatchBasicExclusive(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.send("xlock A"))
	h.expect("ACQUIRED A\n")
}

func TestDispatchAlreadyLockedRejected(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.send("xlock A"))
	h.expect("ACQUIRED A\n")

	require.True(t, h.send("xlock A"))
	h.expect("ERROR A already locked\n")
}

func TestDispatchReleaseNotHeld(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.send("release A"))
	h.expect("ERROR A not already locked\n")
}

func TestDispatchFailedNonBlocking(t *testing.T) {
	h := newHarness(t)
	other := newConnection(2, nil, h.e.log)
	entry := h.e.locks.getOrCreate("A")
	granted, _ := entry.request(ModeExclusive, other, false)
	require.True(t, granted)

	require.True(t, h.send("xlock A"))
	h.expect("FAILED A\n")
}

func TestDispatchCountAbsentIsZero(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.send("count ghost"))
	h.expect("ACCESSCOUNT ghost 0\n")
}

func TestDispatchSetAndGetNoResponseOnSet(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.send("set K hello world"))
	require.True(t, h.send("get K"))
	h.expect("MSG K hello world\n")
}

func TestDispatchGetAbsentIsNoMsg(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.send("get ghost"))
	h.expect("NOMSG\n")
}

func TestDispatchProtocolViolationTearsDownWithNoResponse(t *testing.T) {
	h := newHarness(t)
	ok := h.send("garbage")
	require.False(t, ok)
	_, stillTracked := h.e.conns[h.conn.id]
	require.False(t, stillTracked)
}

func TestDispatchWaitParksAtMostOnePending(t *testing.T) {
	h := newHarness(t)
	other := newConnection(2, nil, h.e.log)
	entry := h.e.locks.getOrCreate("B")
	granted, _ := entry.request(ModeExclusive, other, false)
	require.True(t, granted)

	// xlockwait parks rather than answering immediately; no response yet.
	require.True(t, h.send("xlockwait B"))
	require.NotNil(t, h.conn.waiting)

	// While parked, further lines stay buffered unread (at most one
	// request may be pending per connection) rather than being dispatched
	// again.
	h.conn.readBuf = append(h.conn.readBuf, []byte("count B\n")...)
	require.True(t, h.e.pumpBuffer(h.conn))

	woken := entry.release()
	require.Len(t, woken, 1)
	require.True(t, h.e.notifyGranted(woken))
	h.expect("ACQUIRED B\n")
	// The buffered "count B" line now gets processed since waiting cleared.
	h.expect("ACCESSCOUNT B 1\n")
}
