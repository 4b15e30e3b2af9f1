package engine

import "errors"

// Sentinel errors returned or logged by the engine.
var (
	// ErrProtocolViolation is the teardown reason logged when a connection
	// sends a malformed command (missing mandatory space, unknown verb). The
	// connection is torn down with no response.
	ErrProtocolViolation = errors.New("engine: protocol violation")

	// ErrAlreadyLocked classifies a benign rejection of a lock-acquisition
	// verb issued for a name the connection already holds.
	ErrAlreadyLocked = errors.New("engine: name already locked")

	// ErrNotLocked classifies a benign rejection of release for a name the
	// connection does not hold.
	ErrNotLocked = errors.New("engine: name not already locked")

	// ErrEngineClosed is the teardown reason logged for every connection
	// still open when Serve's context is canceled.
	ErrEngineClosed = errors.New("engine: closed")
)
