package source

import (
	"errors"
	"fmt"
)

// Errors returned by definition location.
var (
	// ErrDefNotFound indicates the qualified name no longer exists in the file.
	ErrDefNotFound = errors.New("definition not found")

	// ErrDefAmbiguous indicates multiple definitions match with no
	// line-proximity winner.
	ErrDefAmbiguous = errors.New("definition ambiguous")

	// ErrSourceParse indicates the current source text fails to parse.
	ErrSourceParse = errors.New("source parse failed")

	// ErrSourceRead indicates the source file could not be read.
	ErrSourceRead = errors.New("source read failed")
)

// LocateError reports a failure to resolve an anchor against current source.
type LocateError struct {
	// Path is the source file.
	Path string
	// Def is the qualified definition path being located.
	Def DefPath
	// Reason is one of the sentinel errors above.
	Reason error
	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *LocateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("locate %s in %s: %v: %v", e.Def, e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("locate %s in %s: %v", e.Def, e.Path, e.Reason)
}

// Unwrap returns the underlying error.
func (e *LocateError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Reason
}

// Is matches against the reason sentinel.
func (e *LocateError) Is(target error) bool {
	return target == e.Reason
}
