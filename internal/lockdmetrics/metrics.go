// Package lockdmetrics holds small in-process atomic counters for the
// lock/message engine. There is no export pipeline (Prometheus etc.); the
// counters here exist purely so tests and logs can observe engine
// behavior without reaching into its internals.
package lockdmetrics

import "sync/atomic"

// Counters tracks engine activity. The zero value is ready to use.
type Counters struct {
	connectionsAccepted atomic.Int64
	connectionsClosed    atomic.Int64
	locksGranted         atomic.Int64
	locksFailed          atomic.Int64
	locksReleased        atomic.Int64
	waitersParked        atomic.Int64
	msgsSet              atomic.Int64
	msgsReleased         atomic.Int64
}

func (c *Counters) ConnectionAccepted() { c.connectionsAccepted.Add(1) }
func (c *Counters) ConnectionClosed()   { c.connectionsClosed.Add(1) }
func (c *Counters) LockGranted()        { c.locksGranted.Add(1) }
func (c *Counters) LockFailed()         { c.locksFailed.Add(1) }
func (c *Counters) LockReleased()       { c.locksReleased.Add(1) }
func (c *Counters) WaiterParked()       { c.waitersParked.Add(1) }
func (c *Counters) MsgSet()             { c.msgsSet.Add(1) }
func (c *Counters) MsgReleased()        { c.msgsReleased.Add(1) }

// Snapshot is a point-in-time copy of every counter, useful for assertions
// in tests and for periodic logging.
type Snapshot struct {
	ConnectionsAccepted int64
	ConnectionsClosed   int64
	LocksGranted        int64
	LocksFailed         int64
	LocksReleased       int64
	WaitersParked       int64
	MsgsSet             int64
	MsgsReleased        int64
}

// Snapshot reads every counter. It is safe to call concurrently with the
// engine's own goroutine since each field is an independent atomic.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsAccepted: c.connectionsAccepted.Load(),
		ConnectionsClosed:   c.connectionsClosed.Load(),
		LocksGranted:        c.locksGranted.Load(),
		LocksFailed:         c.locksFailed.Load(),
		LocksReleased:       c.locksReleased.Load(),
		WaitersParked:       c.waitersParked.Load(),
		MsgsSet:             c.msgsSet.Load(),
		MsgsReleased:        c.msgsReleased.Load(),
	}
}
