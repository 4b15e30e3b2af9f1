//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly
// +build linux darwin netbsd freebsd openbsd dragonfly

package engine

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"
)

// listenBacklog opens a TCP listener bound to addr with SO_REUSEADDR set
// and the given backlog. The standard library's net package does not
// expose a way to choose the listen(2) backlog directly, so the socket is
// built by hand with raw syscalls.
func listenBacklog(ctx context.Context, addr string, backlog int) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen addr %q: %w", addr, err)
	}

	domain := syscall.AF_INET
	sockaddr, err := toSockaddr(tcpAddr, &domain)
	if err != nil {
		return nil, err
	}

	fd, err := syscall.Socket(domain, syscall.SOCK_STREAM, syscall.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := syscall.Bind(fd, sockaddr); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("bind %q: %w", addr, err)
	}

	if backlog <= 0 {
		backlog = 5
	}
	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("listen backlog %d: %w", backlog, err)
	}

	file := os.NewFile(uintptr(fd), "lockd-listener")
	ln, err := net.FileListener(file)
	// net.FileListener dup()s the fd internally; close our copy of the
	// *os.File either way once the net.Listener has its own.
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("wrap listener fd: %w", err)
	}
	return ln, nil
}

func toSockaddr(addr *net.TCPAddr, domain *int) (syscall.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		*domain = syscall.AF_INET
		var sa syscall.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], ip4)
		return &sa, nil
	}
	if addr.IP == nil || addr.IP.IsUnspecified() {
		*domain = syscall.AF_INET
		var sa syscall.SockaddrInet4
		sa.Port = addr.Port
		return &sa, nil
	}
	*domain = syscall.AF_INET6
	var sa syscall.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], addr.IP.To16())
	return &sa, nil
}
