// Command lockd runs the advisory lock and message coordination server.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/Xuth/lockd/internal/discovery"
	"github.com/Xuth/lockd/internal/engine"
	"github.com/Xuth/lockd/internal/lockdlog"
	"github.com/Xuth/lockd/internal/lockdmetrics"
)

const applicationName = "lockd"

// CLI is the structure kong populates from the command line.
type CLI struct {
	Addr          string `optional:"" default:":29292" help:"Address to listen on, host:port."`
	Backlog       int    `optional:"" default:"5" help:"TCP listen backlog."`
	DiscoveryFile string `optional:"" name:"discovery-file" default:"lockserver.info" help:"Path to write a host/port discovery file advertising this server, for clients that cannot be given the address directly."`
	Dev           bool   `optional:"" short:"d" help:"Run with human-readable, colorized development logging."`
	LogLevel      string `optional:"" default:"info" help:"Minimum log level in production mode (debug, info, warn, error)."`
}

func main() {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name(applicationName),
		kong.Description("Centralized advisory lock and message coordination server."),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if _, err := parser.Parse(os.Args[1:]); err != nil {
		parser.FatalIfErrorf(err)
	}

	log, err := lockdlog.New(lockdlog.Options{Dev: cli.Dev, Level: cli.LogLevel})
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cli, log); err != nil {
		log.Error("lockd exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cli CLI, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := engine.Listen(ctx, engine.ListenerConfig{Addr: cli.Addr, Backlog: cli.Backlog})
	if err != nil {
		return fmt.Errorf("listen on %q: %w", cli.Addr, err)
	}
	log.Info("listening", zap.String("addr", ln.Addr().String()))

	if cli.DiscoveryFile != "" {
		host, port, err := splitAdvertisedAddr(ln.Addr())
		if err != nil {
			return fmt.Errorf("determine advertised address: %w", err)
		}
		if err := discovery.Write(cli.DiscoveryFile, host, port); err != nil {
			return fmt.Errorf("write discovery file %q: %w", cli.DiscoveryFile, err)
		}
		log.Info("wrote discovery file", zap.String("path", cli.DiscoveryFile), zap.String("host", host), zap.Int("port", port))
	}

	e := engine.New(log, &lockdmetrics.Counters{})
	return e.Serve(ctx, ln)
}

// splitAdvertisedAddr turns the listener's bound address into a host/port
// pair suitable for the discovery file. A listener bound to the wildcard
// address advertises this host's outward-facing IP instead.
func splitAdvertisedAddr(addr net.Addr) (host string, port int, err error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return "", 0, fmt.Errorf("unexpected listener address type %T", addr)
	}
	if !tcpAddr.IP.IsUnspecified() {
		return tcpAddr.IP.String(), tcpAddr.Port, nil
	}

	ip, err := outboundIP()
	if err != nil {
		ip = discovery.DefaultHost
	}
	return ip, tcpAddr.Port, nil
}

func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "10.255.255.255:1")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return localAddr.IP.String(), nil
}
