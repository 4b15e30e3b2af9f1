package engine

import (
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// writeTimeout bounds the single synchronous write the dispatcher performs
// per response; a response that can't be flushed within this window is
// treated like any other short write.
const writeTimeout = 10 * time.Second

// waitRecord is the single outstanding lock request a connection may have
// parked. At most one may exist per connection.
type waitRecord struct {
	entry *lockEntry
	w     *waiter
}

// Connection holds all per-client state: the read buffer, the set of locks
// held, the set of messages owned, and at most one outstanding wait.
// Held locks and owned messages are recorded by name (a lookup key into the
// lock/message tables); only the single outstanding wait keeps pointers to
// its lock entry and waiter node, so it can be cleared directly. There is
// no ownership cycle — the entry is owned by its table, the connection by
// the engine's registry.
type Connection struct {
	id        uint64
	sessionID uuid.UUID
	transport net.Conn
	log       *zap.Logger

	readBuf []byte

	locksHeld map[string]Mode
	msgsOwned map[string]struct{}
	waiting   *waitRecord
}

func newConnection(id uint64, transport net.Conn, log *zap.Logger) *Connection {
	sid := uuid.New()
	return &Connection{
		id:        id,
		sessionID: sid,
		transport: transport,
		log:       log.With(zap.Uint64("conn_id", id), zap.String("session", sid.String())),
		locksHeld: make(map[string]Mode),
		msgsOwned: make(map[string]struct{}),
	}
}

// send writes a single line response synchronously. A short write or error
// is client misbehavior and must result in teardown; the caller checks the
// returned error and tears the connection down.
func (c *Connection) send(line string) error {
	if err := c.transport.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	n, err := c.transport.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return errShortWrite
	}
	return nil
}

var errShortWrite = &shortWriteError{}

type shortWriteError struct{}

func (*shortWriteError) Error() string { return "engine: short write" }
