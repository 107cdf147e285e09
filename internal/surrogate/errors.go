package surrogate

import (
	"errors"
	"fmt"
)

// ErrTargetLost indicates the transformer could not reproduce the target
// definition from the parsed chunk. Seeing it after a successful Locate
// means the definition form is one the transformer cannot isolate.
var ErrTargetLost = errors.New("target definition lost in transform")

// CompileError reports that an edited definition failed to parse, compile,
// or execute as a surrogate unit. It is surfaced to the debugger loop, never
// allowed to crash the host.
type CompileError struct {
	// SourceName is the name the unit was compiled under.
	SourceName string
	// Err is the parse/compile/runtime failure.
	Err error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %v", e.SourceName, e.Err)
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error { return e.Err }

// SuperRewriteError reports a bare super(...) call with no resolvable
// class or receiver, e.g. inside a function with no first parameter.
type SuperRewriteError struct {
	// Line is the source line of the offending call.
	Line int
}

// Error implements the error interface.
func (e *SuperRewriteError) Error() string {
	return fmt.Sprintf("cannot rewrite super() call at line %d: no enclosing class or receiver parameter", e.Line)
}
