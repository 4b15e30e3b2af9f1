// Package testclient is a minimal, synchronous wire-protocol client used
// only from _test.go files to drive end-to-end tests against a real
// net.Listener. It is deliberately not a polished, retrying convenience
// wrapper — it has no reconnect logic and every call either succeeds or
// returns an error.
package testclient

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Client wraps one connection to a lockd server.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// SendLine writes line followed by a newline, for provoking protocol
// violations or exercising the wire directly.
func (c *Client) SendLine(line string) error {
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// ReadLine reads one newline-terminated response line, with the trailing
// newline stripped.
func (c *Client) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func (c *Client) roundTrip(req string) (string, error) {
	if err := c.SendLine(req); err != nil {
		return "", err
	}
	return c.ReadLine()
}

// acquire issues one of xlock/slock/xlockwait/slockwait and interprets the
// ACQUIRED/FAILED/ERROR response.
func (c *Client) acquire(verb, name string) (acquired bool, err error) {
	resp, err := c.roundTrip(verb + " " + name)
	if err != nil {
		return false, err
	}
	switch {
	case resp == "ACQUIRED "+name:
		return true, nil
	case resp == "FAILED "+name:
		return false, nil
	default:
		return false, fmt.Errorf("testclient: unexpected response %q to %q", resp, verb+" "+name)
	}
}

// XLock issues a non-blocking exclusive lock request.
func (c *Client) XLock(name string) (bool, error) { return c.acquire("xlock", name) }

// SLock issues a non-blocking shared lock request.
func (c *Client) SLock(name string) (bool, error) { return c.acquire("slock", name) }

// XLockWait issues a blocking exclusive lock request. The request may park
// server-side; use WaitAcquired to read the eventual ACQUIRED line.
func (c *Client) XLockWait(name string) error { return c.SendLine("xlockwait " + name) }

// SLockWait issues a blocking shared lock request. See XLockWait.
func (c *Client) SLockWait(name string) error { return c.SendLine("slockwait " + name) }

// WaitAcquired blocks for the ACQUIRED line a prior *Wait request produces.
func (c *Client) WaitAcquired(name string) error {
	resp, err := c.ReadLine()
	if err != nil {
		return err
	}
	if resp != "ACQUIRED "+name {
		return fmt.Errorf("testclient: unexpected response %q waiting for %q", resp, name)
	}
	return nil
}

// Release releases name, expecting either RELEASED or a non-fatal ERROR.
func (c *Client) Release(name string) (string, error) {
	return c.roundTrip("release " + name)
}

// Count returns the current holder count for name.
func (c *Client) Count(name string) (int, error) {
	resp, err := c.roundTrip("count " + name)
	if err != nil {
		return 0, err
	}
	parts := strings.SplitN(resp, " ", 3)
	if len(parts) != 3 || parts[0] != "ACCESSCOUNT" || parts[1] != name {
		return 0, fmt.Errorf("testclient: unexpected response %q to count", resp)
	}
	return strconv.Atoi(parts[2])
}

// Set sets a message. set has no response.
func (c *Client) Set(name, text string) error {
	return c.SendLine("set " + name + " " + text)
}

// Get fetches a message, returning ok=false for NOMSG.
func (c *Client) Get(name string) (text string, ok bool, err error) {
	resp, err := c.roundTrip("get " + name)
	if err != nil {
		return "", false, err
	}
	if resp == "NOMSG" {
		return "", false, nil
	}
	parts := strings.SplitN(resp, " ", 3)
	if len(parts) != 3 || parts[0] != "MSG" || parts[1] != name {
		return "", false, fmt.Errorf("testclient: unexpected response %q to get", resp)
	}
	return parts[2], true, nil
}

// RelMsg releases ownership of a message. relmsg has no response.
func (c *Client) RelMsg(name string) error {
	return c.SendLine("relmsg " + name)
}
