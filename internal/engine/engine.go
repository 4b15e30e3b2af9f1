// Package engine implements the lock/message coordination core: the
// reader/writer lock table, the named message registry, and the
// line-oriented protocol dispatcher, all driven by a single-goroutine event
// loop.
package engine

import (
	"context"
	"net"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Xuth/lockd/internal/lockdmetrics"
)

// readBufSize is the per-connection read chunk size for the reader
// goroutines feeding the fan-in channel.
const readBufSize = 4096

// eventQueueSize bounds how many pending (newConnection|read|teardown)
// events may queue ahead of the core loop before reader goroutines block
// on send — this is backpressure, not data loss: TCP flow control and
// goroutine blocking absorb it.
const eventQueueSize = 256

// connEvent is a single unit of fan-in traffic: either a chunk of bytes
// read from a connection, or a terminal read error/EOF for it.
type connEvent struct {
	id   uint64
	data []byte
	err  error
}

// Engine owns the lock table, message table, and connection registry as an
// explicit, passed-by-reference value instead of package globals, so it is
// testable in isolation. The lock table, message table, and connection
// registry are touched only by the goroutine running the core loop inside
// Serve; the accept and reader goroutines only use the atomic connection-ID
// counter and the two channels.
type Engine struct {
	log     *zap.Logger
	metrics *lockdmetrics.Counters

	locks *LockTable
	msgs  *MsgTable
	conns map[uint64]*Connection

	nextConnID atomic.Uint64

	newConns chan *Connection
	events   chan connEvent
}

// New creates an Engine ready to Serve. log and metrics must be non-nil;
// pass zap.NewNop() and &lockdmetrics.Counters{} respectively if the
// caller has no preference.
func New(log *zap.Logger, metrics *lockdmetrics.Counters) *Engine {
	return &Engine{
		log:      log,
		metrics:  metrics,
		locks:    NewLockTable(),
		msgs:     NewMsgTable(),
		conns:    make(map[uint64]*Connection),
		newConns: make(chan *Connection, eventQueueSize),
		events:   make(chan connEvent, eventQueueSize),
	}
}

// Metrics returns the engine's counters for external inspection (tests,
// periodic logging).
func (e *Engine) Metrics() *lockdmetrics.Counters { return e.metrics }

// Serve accepts connections on ln and runs the engine until ctx is
// canceled or the listener fails fatally. It returns the first fatal
// error, or nil on a clean, context-triggered shutdown.
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		e.log.Info("shutting down listener", zap.String("addr", ln.Addr().String()))
		return ln.Close()
	})

	g.Go(func() error {
		return e.acceptLoop(gctx, ln)
	})

	g.Go(func() error {
		e.coreLoop(gctx)
		return nil
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		// The listener's own Close() from the shutdown goroutine above
		// surfaces here too; that's an expected part of shutdown, not a
		// fatal transport failure.
		return nil
	}
	return err
}

// acceptLoop accepts new connections and registers them with the core
// loop. A listener error that isn't caused by our own shutdown is fatal
// and propagates to stop the engine.
func (e *Engine) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.log.Error("listener accept failed", zap.Error(err))
			return err
		}

		id := e.nextConnID.Add(1)
		c := newConnection(id, conn, e.log)

		select {
		case e.newConns <- c:
		case <-ctx.Done():
			conn.Close()
			return nil
		}

		go e.readLoop(c)
	}
}

// readLoop is the dedicated per-connection reader goroutine: it performs
// blocking reads and forwards chunks or a terminal error onto the shared
// fan-in channel for the core loop to consume. It never touches engine
// state directly.
func (e *Engine) readLoop(c *Connection) {
	buf := make([]byte, readBufSize)
	for {
		n, err := c.transport.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.events <- connEvent{id: c.id, data: chunk}
		}
		if err != nil {
			e.events <- connEvent{id: c.id, err: err}
			return
		}
	}
}

// coreLoop is the engine's single logical thread: the only goroutine that
// ever touches the lock table, message table, or connection registry. It
// selects over new-connection registrations, fanned-in read events, and
// shutdown.
func (e *Engine) coreLoop(ctx context.Context) {
	for {
		select {
		case c := <-e.newConns:
			e.register(c)

		case ev := <-e.events:
			e.handleEvent(ev)

		case <-ctx.Done():
			e.shutdown()
			return
		}
	}
}

func (e *Engine) register(c *Connection) {
	e.conns[c.id] = c
	e.metrics.ConnectionAccepted()
	c.log.Info("connection accepted", zap.String("remote", c.transport.RemoteAddr().String()))
}

func (e *Engine) handleEvent(ev connEvent) {
	c, ok := e.conns[ev.id]
	if !ok {
		// Already torn down in a prior event; the reader goroutine's
		// final error send races harmlessly with that.
		return
	}

	if ev.err != nil {
		e.teardown(c, ev.err)
		return
	}

	c.readBuf = append(c.readBuf, ev.data...)
	e.pumpBuffer(c)
}

// teardown performs disconnect cleanup: release every held lock (waking
// waiters as appropriate), release every owned message, clear any
// outstanding wait, then close the transport. It is idempotent — safe to
// call more than once for the same connection — because the first call
// removes it from the registry.
func (e *Engine) teardown(c *Connection, reason error) {
	if _, ok := e.conns[c.id]; !ok {
		return
	}
	delete(e.conns, c.id)

	for name := range c.locksHeld {
		entry, ok := e.locks.lookup(name)
		if !ok {
			panic("engine: invariant violated, held lock missing from table")
		}
		granted := entry.release()
		e.metrics.LockReleased()
		e.notifyGranted(granted)
	}

	for name := range c.msgsOwned {
		e.msgs.Release(name, c)
	}

	if c.waiting != nil {
		c.waiting.entry.clearWaiter(c.waiting.w)
	}

	_ = c.transport.Close()
	e.metrics.ConnectionClosed()
	c.log.Info("connection closed", zap.Error(reason))
}

// shutdown tears down every live connection, used when Serve's context is
// canceled. Connection IDs are snapshotted first since teardown mutates
// e.conns.
func (e *Engine) shutdown() {
	ids := make([]uint64, 0, len(e.conns))
	for id := range e.conns {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if c, ok := e.conns[id]; ok {
			e.teardown(c, ErrEngineClosed)
		}
	}
}

// ListenerConfig bundles the knobs for the listening socket: address and
// backlog.
type ListenerConfig struct {
	Addr    string
	Backlog int
}

// Listen opens a TCP listener with SO_REUSEADDR set and the configured
// backlog.
func Listen(ctx context.Context, cfg ListenerConfig) (net.Listener, error) {
	return listenBacklog(ctx, cfg.Addr, cfg.Backlog)
}
