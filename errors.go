package relive

import (
	"errors"
	"fmt"

	"github.com/dshills/relive/internal/closure"
	"github.com/dshills/relive/internal/debugger"
	"github.com/dshills/relive/internal/source"
	"github.com/dshills/relive/internal/surrogate"
)

// Sentinels matched with errors.Is.
var (
	// ErrNotLuaFunction indicates an attempt to wrap a builtin or
	// non-function value.
	ErrNotLuaFunction = errors.New("not a Lua function")

	// ErrNoBackend indicates no debugger backend could run; the error is
	// re-raised instead.
	ErrNoBackend = debugger.ErrNoBackend

	// Locator sentinels, re-exported for callers that inspect reload
	// failures.
	ErrDefNotFound  = source.ErrDefNotFound
	ErrDefAmbiguous = source.ErrDefAmbiguous
)

var errNoFrame = errors.New("no such frame")

// Typed errors from the reload pipeline, re-exported so callers can use
// errors.As without importing internal packages.
type (
	// LocateError reports a definition that could not be found or
	// disambiguated in the current source text.
	LocateError = source.LocateError

	// CompileError reports an edit that does not parse, compile, or
	// execute.
	CompileError = surrogate.CompileError

	// ClosureError reports captured variables the edited code needs but no
	// live cell provides.
	ClosureError = closure.ClosureError

	// SuperRewriteError reports an unresolvable delegation call.
	SuperRewriteError = surrogate.SuperRewriteError
)

// WrapError reports why a function could not be wrapped. Wrapping is
// best-effort at the Lua surface: there the original function is returned
// with a warning instead.
type WrapError struct {
	// Source is the chunk name of the function, when known.
	Source string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *WrapError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("wrap: %v", e.Err)
	}
	return fmt.Sprintf("wrap %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *WrapError) Unwrap() error { return e.Err }

// EvalError reports a failed debugger expression evaluation.
type EvalError struct {
	Expr string
	Err  error
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	return fmt.Sprintf("eval %q: %v", e.Expr, e.Err)
}

// Unwrap returns the underlying error.
func (e *EvalError) Unwrap() error { return e.Err }
