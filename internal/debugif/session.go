package debugif

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// errQuit unwinds Session.Run when the "quit" command has run.
var errQuit = errors.New("debugif: quit")

// Session drives one debug connection: it reads command lines from in,
// dispatches them against target, and writes responses to out. A
// Session is used for exactly one transport connection; Transport
// (transport.go) is what accepts connections and builds Sessions.
type Session struct {
	target Target
	in     *bufio.Reader
	out    io.Writer
	log    *slog.Logger
}

// NewSession builds a session over rw (read half via in, write half
// via out — kept separate so stdio's raw-mode reader and os.Stdout can
// be wired independently).
func NewSession(target Target, in io.Reader, out io.Writer, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{target: target, in: bufio.NewReader(in), out: out, log: log.With("component", "debug")}
}

// Run pauses the guest and drives the read-dispatch-write loop until
// "quit" or the input stream closes. Mirrors DebugInterface::MainLoop's
// "pause on attach, print prompt, read a line, dispatch" shape.
func (s *Session) Run() error {
	s.target.Coord().PauseExecution()
	fmt.Fprintln(s.out, "Emulator paused")

	for {
		fmt.Fprint(s.out, "debug > ")
		line, err := s.in.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if derr := s.Dispatch(line); derr != nil {
			if derr == errQuit {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", derr)
		}
	}
}

// Dispatch parses one input line and runs the matching command. A
// blank line is ignored; an unrecognized command word prints an error
// and is not itself an error result.
func (s *Session) Dispatch(line string) error {
	tokens := tokenize(strings.TrimRight(line, "\r\n"))
	if len(tokens) == 0 {
		return nil
	}
	canon, ok := aliasTable[tokens[0]]
	if !ok {
		fmt.Fprintln(s.out, "Unknown command")
		return nil
	}
	cmd, ok := commandTable[canon]
	if !ok {
		fmt.Fprintln(s.out, "Unknown command")
		return nil
	}
	return cmd(s, tokens[1:])
}
