// Package debugger provides post-mortem inspection of a failed Lua call.
//
// A debugger session is opened on the still-live error stack, before any
// unwind. The user inspects frames, variables, and source, then hands back a
// decision: retry the wrapped call (after editing source on disk), abort it,
// reload the whole module, or quit the program. Several backends speak the
// same session: a plain line-oriented REPL, a raw-terminal REPL, and a
// machine-readable TCP endpoint.
package debugger

import "errors"

// Decision is the user's verdict on a post-mortem session.
type Decision int

const (
	// DecisionContinue re-runs the wrapped call with freshly reloaded code.
	DecisionContinue Decision = iota
	// DecisionAbort re-raises the original error to the caller.
	DecisionAbort
	// DecisionFullReload re-executes the whole module, then re-runs the call.
	DecisionFullReload
	// DecisionQuit stops retrying everywhere and unwinds the host.
	DecisionQuit
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionContinue:
		return "continue"
	case DecisionAbort:
		return "abort"
	case DecisionFullReload:
		return "reload"
	case DecisionQuit:
		return "quit"
	}
	return "unknown"
}

// ErrNoBackend indicates no debugger backend was available, typically a
// non-interactive process with no machine endpoint configured.
var ErrNoBackend = errors.New("no debugger backend available")

// Session is everything a backend needs to run one post-mortem.
type Session struct {
	// Def is the qualified name of the failed definition.
	Def string

	// File is the on-disk source file to edit.
	File string

	// Err is the original Lua error message.
	Err string

	// ReloadErr is a non-fatal failure from the previous reload attempt
	// (bad edit, unresolvable closure). Shown on re-entry so the user knows
	// why the old code ran again.
	ReloadErr error

	// Traceback is the captured error stack, innermost frame first.
	Traceback *Traceback

	// SourceLookup resolves a source name to its text. It covers both
	// on-disk files and synthetic reload units.
	SourceLookup func(name string) (string, bool)

	// Eval evaluates an expression in the context of a captured frame.
	Eval func(frame int, expr string) (string, error)

	// First is true the first time any session opens in this process, which
	// triggers the usage banner.
	First bool
}

// Backend runs post-mortem sessions in some interaction style.
type Backend interface {
	// Name identifies the backend for selection.
	Name() string
	// Available reports whether the backend can run in this process.
	Available() bool
	// PostMortem blocks until the user reaches a decision.
	PostMortem(s *Session) (Decision, error)
}
