package source

import (
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// Parse parses Lua source text into a statement chunk.
func Parse(text, name string) ([]ast.Stmt, error) {
	chunk, err := parse.Parse(strings.NewReader(text), name)
	if err != nil {
		return nil, &LocateError{Path: name, Reason: ErrSourceParse, Err: err}
	}
	return chunk, nil
}

// Definitions returns every named function definition in the chunk,
// depth-first. Recognized forms: `function f`, `function a.b.c`,
// `function a.b:m`, `local function f`, and `name = function`, at any
// nesting depth inside blocks and enclosing functions.
func Definitions(chunk []ast.Stmt) []*Definition {
	v := &defVisitor{}
	v.visitBody(chunk)
	return v.defs
}

// FindByLine finds the definition whose leaf name matches name and whose
// span contains line. Used at wrap time to turn a compiled function's
// (SourceName, LineDefined) into a durable qualified path.
func FindByLine(chunk []ast.Stmt, path, name string, line int) (*Definition, error) {
	var found []*Definition
	for _, d := range Definitions(chunk) {
		if d.Name != name {
			continue
		}
		if d.FirstLine <= line && line <= d.LastLine {
			found = append(found, d)
		}
	}
	switch len(found) {
	case 0:
		return nil, &LocateError{Path: path, Def: DefPath{name}, Reason: ErrDefNotFound}
	case 1:
		return found[0], nil
	}
	// Nested same-named definitions can all contain the line; the deepest
	// (latest in DFS order with the tightest span) is the definition itself.
	best := found[0]
	for _, d := range found[1:] {
		if d.LastLine-d.FirstLine <= best.LastLine-best.FirstLine {
			best = d
		}
	}
	return best, nil
}

// FindByDefinedLine finds the definition whose function literal starts on
// line. Used at wrap time, where a compiled function knows only its chunk
// name and the line its body was defined on. A non-empty name breaks ties
// between definitions that share a line (`function a() end function b() end`).
func FindByDefinedLine(chunk []ast.Stmt, path string, line int, name string) (*Definition, error) {
	var found []*Definition
	for _, d := range Definitions(chunk) {
		if d.Func != nil && d.Func.Line() == line {
			found = append(found, d)
		}
	}
	if len(found) > 1 && name != "" {
		var named []*Definition
		for _, d := range found {
			if d.Name == name {
				named = append(named, d)
			}
		}
		if len(named) > 0 {
			found = named
		}
	}
	switch len(found) {
	case 0:
		return nil, &LocateError{Path: path, Reason: ErrDefNotFound}
	case 1:
		return found[0], nil
	default:
		return nil, &LocateError{Path: path, Def: found[0].Path, Reason: ErrDefAmbiguous}
	}
}

// Locate resolves an anchor against a freshly parsed chunk of the current
// on-disk text. Candidates share the anchor's qualified path; same-named
// siblings are disambiguated by proximity to the anchor's original span.
func Locate(anchor Anchor, chunk []ast.Stmt) (*Definition, error) {
	var candidates []*Definition
	for _, d := range Definitions(chunk) {
		if d.Path.Equal(anchor.Def) {
			candidates = append(candidates, d)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, &LocateError{Path: anchor.Path, Def: anchor.Def, Reason: ErrDefNotFound}
	case 1:
		return candidates[0], nil
	}
	best, tie := candidates[0], false
	for _, d := range candidates[1:] {
		bd := distance(best.FirstLine, anchor.FirstLine)
		dd := distance(d.FirstLine, anchor.FirstLine)
		switch {
		case dd < bd:
			best, tie = d, false
		case dd == bd:
			tie = true
		}
	}
	if tie {
		return nil, &LocateError{Path: anchor.Path, Def: anchor.Def, Reason: ErrDefAmbiguous}
	}
	return best, nil
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// defVisitor walks a chunk collecting named definitions with their
// qualified paths. The path grows by a definition's full name chain
// (`function a.b:m` contributes three segments) and by the name of every
// enclosing named function.
type defVisitor struct {
	path []string
	defs []*Definition
}

func (v *defVisitor) visitBody(stmts []ast.Stmt) {
	for _, s := range stmts {
		v.visitStmt(s)
	}
}

func (v *defVisitor) visitStmt(s ast.Stmt) {
	switch st := s.(type) {
	case *ast.FuncDefStmt:
		segs, ok := NameSegments(st.Name)
		if !ok {
			return
		}
		v.record(s, st.Func, segs, st.Name.Func == nil)
	case *ast.LocalAssignStmt:
		for i, name := range st.Names {
			if i < len(st.Exprs) {
				if fn, ok := st.Exprs[i].(*ast.FunctionExpr); ok {
					v.record(s, fn, []string{name}, false)
				}
			}
		}
	case *ast.AssignStmt:
		for i, lhs := range st.Lhs {
			if i >= len(st.Rhs) {
				break
			}
			fn, ok := st.Rhs[i].(*ast.FunctionExpr)
			if !ok {
				continue
			}
			if segs, ok := ExprSegments(lhs); ok {
				v.record(s, fn, segs, false)
			}
		}
	case *ast.DoBlockStmt:
		v.visitBody(st.Stmts)
	case *ast.WhileStmt:
		v.visitBody(st.Stmts)
	case *ast.RepeatStmt:
		v.visitBody(st.Stmts)
	case *ast.IfStmt:
		v.visitBody(st.Then)
		v.visitBody(st.Else)
	case *ast.NumberForStmt:
		v.visitBody(st.Stmts)
	case *ast.GenericForStmt:
		v.visitBody(st.Stmts)
	}
}

func (v *defVisitor) record(stmt ast.Stmt, fn *ast.FunctionExpr, segs []string, method bool) {
	full := make(DefPath, 0, len(v.path)+len(segs))
	full = append(full, v.path...)
	full = append(full, segs...)
	d := &Definition{
		Path:   full,
		Name:   segs[len(segs)-1],
		Func:   fn,
		Stmt:   stmt,
		Method: method,
		Owner:  segs[:len(segs)-1],
	}
	d.span(stmt, fn)
	v.defs = append(v.defs, d)

	// Nested definitions inside the function body extend this path.
	v.path = append(v.path, segs...)
	v.visitBody(fn.Stmts)
	v.path = v.path[:len(v.path)-len(segs)]
}

// NameSegments flattens a FuncName into name segments. `function a.b:m`
// yields ["a" "b" "m"].
func NameSegments(name *ast.FuncName) ([]string, bool) {
	if name.Func != nil {
		return ExprSegments(name.Func)
	}
	segs, ok := ExprSegments(name.Receiver)
	if !ok {
		return nil, false
	}
	return append(segs, name.Method), true
}

// ExprSegments flattens an ident/attribute chain (`a.b.c`) into segments.
// Bracketed or computed keys have no durable name and are rejected.
func ExprSegments(e ast.Expr) ([]string, bool) {
	switch ex := e.(type) {
	case *ast.IdentExpr:
		return []string{ex.Value}, true
	case *ast.AttrGetExpr:
		obj, ok := ExprSegments(ex.Object)
		if !ok {
			return nil, false
		}
		key, ok := ex.Key.(*ast.StringExpr)
		if !ok {
			return nil, false
		}
		return append(obj, key.Value), true
	default:
		return nil, false
	}
}
