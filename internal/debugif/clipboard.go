package debugif

import (
	"fmt"

	"golang.design/x/clipboard"
)

// clipboardReady is nil until the first paste attempt, then holds
// whether clipboard.Init succeeded — the backend needs a display
// connection on Linux/BSD, so a headless debug session simply reports
// the failure once rather than retrying every call.
var clipboardReady *bool

// cmdPaste writes the host clipboard's text contents to the session.
// If the clipboard backend can't initialize (no display available),
// this is a no-op that reports the error rather than failing the
// session, per spec.md §4.9.
func cmdPaste(s *Session, _ []string) error {
	if clipboardReady == nil {
		ok := clipboard.Init() == nil
		clipboardReady = &ok
	}
	if !*clipboardReady {
		fmt.Fprintln(s.out, "paste: clipboard unavailable")
		return nil
	}
	data := clipboard.Read(clipboard.FmtText)
	fmt.Fprintln(s.out, string(data))
	return nil
}
