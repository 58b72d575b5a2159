package debugif

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Listen parses spec.md §4.9's transport spec (stdio, file:PATH,
// port:N) and returns a function that serves debug sessions against
// target until the transport is closed. For stdio and file it serves
// exactly one session; for port:N it accepts connections and serves
// one session at a time on its own goroutine. A connection that
// arrives while a session is active is told another session already
// owns the target and is closed at once; it is not queued or promoted
// when the active session ends.
func Listen(spec string, target Target, log *slog.Logger) (func() error, error) {
	switch {
	case spec == "stdio":
		return func() error { return serveStdio(target, log) }, nil
	case strings.HasPrefix(spec, "file:"):
		path := strings.TrimPrefix(spec, "file:")
		return func() error { return serveFile(path, target, log) }, nil
	case strings.HasPrefix(spec, "port:"):
		portStr := strings.TrimPrefix(spec, "port:")
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("debugif: invalid port %q: %w", portStr, err)
		}
		return func() error { return servePort(port, target, log) }, nil
	default:
		return nil, fmt.Errorf("debugif: unrecognized debug transport %q", spec)
	}
}

// serveStdio runs one session over the controlling terminal, placed
// in raw mode for the duration (grounded on terminal_host.go's
// platform-specific raw-mode toggling, here done portably via
// golang.org/x/term).
func serveStdio(target Target, log *slog.Logger) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		prior, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, prior)
		}
	}
	return NewSession(target, os.Stdin, os.Stdout, log).Run()
}

// serveFile serves one session reading commands from path and writing
// responses to stdout (a pre-recorded command script fed as input).
func serveFile(path string, target Target, log *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("debugif: open %s: %w", path, err)
	}
	defer f.Close()
	return NewSession(target, f, os.Stdout, log).Run()
}

// servePort listens on port and serves an accepted connection with its
// own Session when no session is active: arrivals while one is active
// are told the target is busy and their connection is closed, so only
// one session can ever drive the target's coordinator at a time.
func servePort(port int, target Target, log *slog.Logger) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("debugif: listen on port %d: %w", port, err)
	}
	defer ln.Close()

	busy := make(chan struct{}, 1)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		select {
		case busy <- struct{}{}:
			go func() {
				defer func() { <-busy }()
				defer conn.Close()
				if err := NewSession(target, conn, conn, log).Run(); err != nil {
					log.Warn("debug session ended", "error", err)
				}
			}()
		default:
			fmt.Fprintln(conn, "a debug session is already active")
			conn.Close()
		}
	}
}
