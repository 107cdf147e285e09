// Package source locates function definitions in Lua source files.
//
// A wrapped function is identified by a SourceAnchor recorded at wrap time:
// the defining file, the qualified definition path within that file, and the
// line span the definition occupied. The locator re-parses the current
// on-disk text and resolves the anchor to the syntax node that now defines
// the function, tolerating line drift caused by edits elsewhere in the file.
package source

import (
	"strings"

	"github.com/yuin/gopher-lua/ast"
)

// DefPath is the qualified name path of a definition: the sequence of
// enclosing table/function names down to the leaf, e.g. ["Account",
// "deposit"] for `function Account:deposit`.
type DefPath []string

// String returns the dotted form of the path.
func (p DefPath) String() string {
	return strings.Join(p, ".")
}

// Equal reports whether two paths are identical.
func (p DefPath) Equal(other DefPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the path.
func (p DefPath) Clone() DefPath {
	out := make(DefPath, len(p))
	copy(out, p)
	return out
}

// Anchor records where a wrapped function was defined at wrap time.
// It must remain resolvable to exactly one definition after arbitrary edits
// that preserve the function's name and nesting path.
type Anchor struct {
	// Path is the on-disk source file.
	Path string

	// Def is the qualified definition path within the file.
	Def DefPath

	// FirstLine and LastLine are the span the definition occupied when the
	// anchor was recorded. They are a disambiguation heuristic, not an
	// identity: edits above the definition shift them freely.
	FirstLine int
	LastLine  int
}

// Definition is a named function definition found in a parsed chunk.
type Definition struct {
	// Path is the qualified definition path.
	Path DefPath

	// Name is the leaf name.
	Name string

	// Func is the function literal node.
	Func *ast.FunctionExpr

	// Stmt is the defining statement.
	Stmt ast.Stmt

	// Method is true for `function recv:name` definitions.
	Method bool

	// Owner holds the receiver/table segments preceding the leaf name in
	// the defining statement itself (empty for plain and local functions).
	Owner []string

	// FirstLine and LastLine span the definition in the current text.
	FirstLine int
	LastLine  int
}

func (d *Definition) span(stmt ast.Stmt, fn *ast.FunctionExpr) {
	d.FirstLine = stmt.Line()
	if fn != nil && fn.Line() > 0 && fn.Line() < d.FirstLine {
		d.FirstLine = fn.Line()
	}
	d.LastLine = stmt.LastLine()
	if fn != nil && fn.LastLine() > d.LastLine {
		d.LastLine = fn.LastLine()
	}
	if d.LastLine < d.FirstLine {
		d.LastLine = d.FirstLine
	}
}
