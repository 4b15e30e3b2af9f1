package engine

import "container/list"

// Mode is the mode a lock is held or requested in.
type Mode int

const (
	// ModeShared allows any number of concurrent holders.
	ModeShared Mode = iota
	// ModeExclusive allows exactly one holder.
	ModeExclusive
)

func (m Mode) String() string {
	if m == ModeExclusive {
		return "exclusive"
	}
	return "shared"
}

// waiter is a single parked request in a lock's wait queue.
type waiter struct {
	conn *Connection
	name string // the lock name this waiter is parked on
	mode Mode
	elem *list.Element // this waiter's own node, for O(1) clearWaiter
}

// lockEntry is the state of one named reader/writer lock. It is owned by
// exactly one LockTable and is only ever touched from the engine's single
// core-loop goroutine, so it carries no internal locking.
type lockEntry struct {
	table   *LockTable
	name    string
	mode    Mode
	holders int
	waiters list.List // of *waiter, FIFO
}

// tryAcquire attempts to grant mode immediately.
func (e *lockEntry) tryAcquire(mode Mode) bool {
	switch {
	case e.holders == 0:
		e.mode = mode
		e.holders = 1
		return true
	case mode == ModeShared && e.mode == ModeShared:
		e.holders++
		return true
	default:
		return false
	}
}

// request attempts to grant mode to c immediately. If it cannot be granted
// and mayWait is true, a waiter is enqueued and returned so the caller can
// record it on the connection for later clearWaiter use.
func (e *lockEntry) request(mode Mode, c *Connection, mayWait bool) (granted bool, w *waiter) {
	if e.tryAcquire(mode) {
		return true, nil
	}
	if !mayWait {
		return false, nil
	}
	w = &waiter{conn: c, name: e.name, mode: mode}
	w.elem = e.waiters.PushBack(w)
	return false, w
}

// release decrements the holder count and, if the lock becomes free, wakes
// the head waiter plus any contiguous shared waiters immediately behind
// it. The caller (the core loop) is responsible for performing the side
// effects (recording locks_held, writing ACQUIRED, clearing the waiting
// flag) for every returned waiter. Deleting the idle entry's table slot is
// handled here, since table membership is this entry's own invariant to
// maintain.
func (e *lockEntry) release() (granted []*waiter) {
	e.holders--
	if e.holders > 0 {
		return nil
	}

	if e.waiters.Len() == 0 {
		e.table.delete(e.name)
		return nil
	}

	head := e.waiters.Front()
	hw := head.Value.(*waiter)
	e.waiters.Remove(head)
	if !e.tryAcquire(hw.mode) {
		panic("engine: invariant violated, head waiter failed to acquire freed lock")
	}
	granted = append(granted, hw)

	if hw.mode == ModeExclusive {
		return granted
	}

	// Coalesce contiguous shared waiters behind the newly granted shared
	// head; stop at the first exclusive waiter, which keeps its position.
	var next *list.Element
	for elem := e.waiters.Front(); elem != nil; elem = next {
		next = elem.Next()
		w := elem.Value.(*waiter)
		if w.mode != ModeShared {
			break
		}
		e.waiters.Remove(elem)
		if !e.tryAcquire(ModeShared) {
			panic("engine: invariant violated, shared waiter failed to coalesce")
		}
		granted = append(granted, w)
	}
	return granted
}

// clearWaiter removes a specific parked waiter, used when a waiting
// connection disconnects before being granted the lock.
func (e *lockEntry) clearWaiter(w *waiter) {
	e.waiters.Remove(w.elem)
	if e.holders == 0 && e.waiters.Len() == 0 {
		e.table.delete(e.name)
	}
}

// LockTable is the name→lockEntry map. Entries are created lazily on
// first reference by a mutating operation and deleted lazily once idle;
// pure queries never materialize an entry.
type LockTable struct {
	entries map[string]*lockEntry
}

// NewLockTable returns an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{entries: make(map[string]*lockEntry)}
}

// getOrCreate returns the entry for name, materializing a fresh one if
// absent.
func (t *LockTable) getOrCreate(name string) *lockEntry {
	if e, ok := t.entries[name]; ok {
		return e
	}
	e := &lockEntry{table: t, name: name}
	t.entries[name] = e
	return e
}

// lookup returns the entry for name without creating one.
func (t *LockTable) lookup(name string) (*lockEntry, bool) {
	e, ok := t.entries[name]
	return e, ok
}

func (t *LockTable) delete(name string) {
	delete(t.entries, name)
}

// Count returns the current holder count for name, or 0 if no entry
// exists. This is a pure query and never materializes an entry.
func (t *LockTable) Count(name string) int {
	e, ok := t.lookup(name)
	if !ok {
		return 0
	}
	return e.holders
}
