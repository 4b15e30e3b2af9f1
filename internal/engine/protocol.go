package engine

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Wire verbs.
const (
	verbXLock     = "xlock"
	verbSLock     = "slock"
	verbXLockWait = "xlockwait"
	verbSLockWait = "slockwait"
	verbRelease   = "release"
	verbCount     = "count"
	verbSet       = "set"
	verbGet       = "get"
	verbRelMsg    = "relmsg"
)

// pumpBuffer drains complete lines from conn.readBuf, dispatching each one,
// until either the buffer holds no complete line or the connection enters
// the waiting state. It returns false if the connection was torn down while
// dispatching (protocol violation or send failure); the reason has already
// been logged by then.
func (e *Engine) pumpBuffer(conn *Connection) bool {
	for conn.waiting == nil {
		idx := indexByte(conn.readBuf, '\n')
		if idx < 0 {
			return true
		}
		line := conn.readBuf[:idx]
		conn.readBuf = conn.readBuf[idx+1:]

		if !e.dispatchLine(conn, string(line)) {
			return false
		}
	}
	return true
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// dispatchLine parses and routes a single complete command line. It
// returns false if the connection was torn down as a result (protocol
// violation or a failed send) and true otherwise.
func (e *Engine) dispatchLine(conn *Connection, line string) bool {
	verb, arg, ok := strings.Cut(line, " ")
	if !ok {
		conn.log.Debug("protocol violation: missing mandatory space", zap.String("line", line))
		e.teardown(conn, ErrProtocolViolation)
		return false
	}

	switch verb {
	case verbXLock:
		return e.dispatchAcquire(conn, arg, ModeExclusive, false)
	case verbSLock:
		return e.dispatchAcquire(conn, arg, ModeShared, false)
	case verbXLockWait:
		return e.dispatchAcquire(conn, arg, ModeExclusive, true)
	case verbSLockWait:
		return e.dispatchAcquire(conn, arg, ModeShared, true)
	case verbRelease:
		return e.dispatchRelease(conn, arg)
	case verbCount:
		return e.dispatchCount(conn, arg)
	case verbSet:
		return e.dispatchSet(conn, arg)
	case verbGet:
		return e.dispatchGet(conn, arg)
	case verbRelMsg:
		return e.dispatchRelMsg(conn, arg)
	default:
		conn.log.Debug("protocol violation: unknown verb", zap.String("verb", verb))
		e.teardown(conn, ErrProtocolViolation)
		return false
	}
}

// dispatchAcquire handles xlock/slock/xlockwait/slockwait.
func (e *Engine) dispatchAcquire(conn *Connection, name string, mode Mode, mayWait bool) bool {
	if _, held := conn.locksHeld[name]; held {
		conn.log.Debug("lock acquisition rejected", zap.String("name", name), zap.Error(ErrAlreadyLocked))
		return e.respond(conn, "ERROR "+name+" already locked\n")
	}

	entry := e.locks.getOrCreate(name)
	granted, w := entry.request(mode, conn, mayWait)
	if granted {
		conn.locksHeld[name] = mode
		e.metrics.LockGranted()
		conn.log.Debug("lock acquired", zap.String("name", name), zap.Stringer("mode", mode))
		return e.respond(conn, "ACQUIRED "+name+"\n")
	}

	if mayWait {
		conn.waiting = &waitRecord{entry: entry, w: w}
		e.metrics.WaiterParked()
		conn.log.Debug("lock request parked", zap.String("name", name), zap.Stringer("mode", mode))
		return true
	}

	e.metrics.LockFailed()
	return e.respond(conn, "FAILED "+name+"\n")
}

// dispatchRelease handles release.
func (e *Engine) dispatchRelease(conn *Connection, name string) bool {
	if _, held := conn.locksHeld[name]; !held {
		conn.log.Debug("release rejected", zap.String("name", name), zap.Error(ErrNotLocked))
		return e.respond(conn, "ERROR "+name+" not already locked\n")
	}
	delete(conn.locksHeld, name)

	entry, ok := e.locks.lookup(name)
	if !ok {
		panic("engine: invariant violated, held lock missing from table")
	}
	granted := entry.release()
	e.metrics.LockReleased()

	if !e.respond(conn, "RELEASED "+name+"\n") {
		return false
	}
	return e.notifyGranted(granted)
}

// dispatchCount handles count: absent names are not an error and never
// materialize an entry.
func (e *Engine) dispatchCount(conn *Connection, name string) bool {
	n := e.locks.Count(name)
	return e.respond(conn, "ACCESSCOUNT "+name+" "+strconv.Itoa(n)+"\n")
}

// dispatchSet handles set: no response is ever sent.
func (e *Engine) dispatchSet(conn *Connection, arg string) bool {
	name, text, ok := strings.Cut(arg, " ")
	if !ok {
		conn.log.Debug("protocol violation: set missing text", zap.String("arg", arg))
		e.teardown(conn, ErrProtocolViolation)
		return false
	}
	e.msgs.Set(name, text, conn)
	conn.msgsOwned[name] = struct{}{}
	e.metrics.MsgSet()
	return true
}

// dispatchGet handles get: absent is NOMSG, not an error.
func (e *Engine) dispatchGet(conn *Connection, name string) bool {
	text, ok := e.msgs.Get(name)
	if !ok {
		return e.respond(conn, "NOMSG\n")
	}
	return e.respond(conn, "MSG "+name+" "+text+"\n")
}

// dispatchRelMsg handles relmsg: no response is ever sent, and the release
// is only attempted if this connection is still recorded as owning the
// name locally.
func (e *Engine) dispatchRelMsg(conn *Connection, name string) bool {
	if _, owned := conn.msgsOwned[name]; owned {
		delete(conn.msgsOwned, name)
		e.msgs.Release(name, conn)
		e.metrics.MsgReleased()
	}
	return true
}

// respond writes a response line, tearing the connection down on failure.
// Returns false when the connection died.
func (e *Engine) respond(conn *Connection, line string) bool {
	if err := conn.send(line); err != nil {
		conn.log.Debug("send failed, tearing down connection", zap.Error(err))
		e.teardown(conn, err)
		return false
	}
	return true
}

// notifyGranted performs the wake-up side effects for every waiter a
// release() call just granted: record the lock, write ACQUIRED, clear
// waiting, then resume dispatch on any bytes the connection buffered
// while parked. Returns false if any woken connection died while being
// notified or resumed; processing still continues for the remaining
// waiters.
func (e *Engine) notifyGranted(granted []*waiter) bool {
	ok := true
	for _, w := range granted {
		c := w.conn
		c.locksHeld[w.name] = w.mode
		c.waiting = nil
		if !e.respond(c, "ACQUIRED "+w.name+"\n") {
			ok = false
			continue
		}
		if !e.pumpBuffer(c) {
			ok = false
		}
	}
	return ok
}
