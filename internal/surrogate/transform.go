// Package surrogate turns one located definition into a standalone,
// re-compilable unit.
//
// A surrogate chunk contains, in order: chunk-local placeholder declarations
// for every free variable the previous generation captured (so compiling the
// edited body creates upvalue slots to transplant into), empty-table stub
// assignments for each intermediate name on the definition path (so the
// defining statement has something to attach to without touching the live
// tables), stub enclosing functions for closure chains, the target
// definition with its full body, and a final return of the target. Executing
// the chunk runs nothing from the original module except the target's own
// header chain.
package surrogate

import (
	"fmt"

	"github.com/yuin/gopher-lua/ast"

	"github.com/dshills/relive/internal/source"
)

// Fidelity selects how a reloaded generation identifies its source.
type Fidelity int

const (
	// FidelityOriginal compiles the surrogate under the original file path
	// with statements padded to their on-disk lines, so a debugger viewing
	// the original file reports correct positions.
	FidelityOriginal Fidelity = iota

	// FidelitySurrogate compiles under a synthetic name with compact text
	// starting at line 1; the text is retained so a debugger can list the
	// synthetic unit exactly.
	FidelitySurrogate
)

// String returns the fidelity mode name.
func (f Fidelity) String() string {
	if f == FidelitySurrogate {
		return "surrogate"
	}
	return "original"
}

// resultGlobal is the reserved name the surrogate chunk assigns the target
// function to before returning it. It only ever exists in the chunk's
// scratch environment.
const resultGlobal = "RELIVE_SURROGATE_RESULT"

// Unit is a compiled-ready surrogate: rendered text plus the identity it
// compiles under. Each generation of each wrapped function gets a distinct
// synthetic name, so stale generations never collide in the debugger.
type Unit struct {
	// SourceName is the name the unit compiles under: the original file
	// path in FidelityOriginal mode, the synthetic name otherwise.
	SourceName string

	// SyntheticName uniquely identifies this generation regardless of mode.
	SyntheticName string

	// Text is the rendered chunk.
	Text string

	// Def is the target's qualified path.
	Def source.DefPath

	// Generation is the reload generation this unit was built for.
	Generation int

	// Fidelity records which mode produced the unit.
	Fidelity Fidelity
}

// SyntheticName formats the debuggable identity for one generation of a
// definition.
func SyntheticName(def source.DefPath, gen int) string {
	return fmt.Sprintf("<relive:%s#%d>", def, gen)
}

// Build isolates the located definition from its chunk into a Unit.
// path is the on-disk file the chunk was parsed from; freeVars are the
// upvalue names captured by the previous generation, which become
// placeholder locals so the recompiled body resolves them as upvalues
// rather than globals. The chunk must be freshly parsed: the target body
// is rewritten in place.
func Build(chunk []ast.Stmt, path string, defn *source.Definition, freeVars []string, gen int, mode Fidelity) (*Unit, error) {
	if defn.Method {
		if err := RewriteFunction(defn.Func, defn.Owner, defn.Name); err != nil {
			return nil, err
		}
	} else if err := RewriteFunction(defn.Func, nil, ""); err != nil {
		return nil, err
	}

	t := &transformer{path: defn.Path}
	body := t.visitBody(chunk, 0)
	if !t.found {
		return nil, ErrTargetLost
	}

	stmts := make([]ast.Stmt, 0, len(freeVars)+len(body)+1)
	for _, name := range freeVars {
		stmts = append(stmts, localDecl(name))
	}
	stmts = append(stmts, body...)
	stmts = append(stmts, returnStmt(ident(resultGlobal, 0)))

	synthetic := SyntheticName(defn.Path, gen)
	u := &Unit{
		SyntheticName: synthetic,
		Def:           defn.Path.Clone(),
		Generation:    gen,
		Fidelity:      mode,
	}
	if mode == FidelityOriginal {
		u.SourceName = path
		u.Text = Render(stmts, true)
	} else {
		u.SourceName = synthetic
		u.Text = Render(stmts, false)
	}
	return u, nil
}

// transformer reproduces the original module's definition-path skeleton:
// only statements on the path to the target survive, everything else is
// dropped, and enclosing functions collapse to argument-less stubs that are
// invoked immediately so the closure chain is created.
type transformer struct {
	path  source.DefPath
	found bool
}

func (t *transformer) visitBody(stmts []ast.Stmt, depth int) []ast.Stmt {
	var out []ast.Stmt
	for _, s := range stmts {
		out = append(out, t.visitStmt(s, depth)...)
	}
	return out
}

func (t *transformer) visitStmt(s ast.Stmt, depth int) []ast.Stmt {
	switch st := s.(type) {
	case *ast.FuncDefStmt:
		segs, ok := source.NameSegments(st.Name)
		if !ok {
			return nil
		}
		return t.visitDef(s, st.Func, segs, depth)
	case *ast.LocalAssignStmt:
		var out []ast.Stmt
		for i, name := range st.Names {
			if i >= len(st.Exprs) {
				break
			}
			fn, ok := st.Exprs[i].(*ast.FunctionExpr)
			if !ok {
				continue
			}
			out = append(out, t.visitDef(s, fn, []string{name}, depth)...)
		}
		return out
	case *ast.AssignStmt:
		var out []ast.Stmt
		for i, lhs := range st.Lhs {
			if i >= len(st.Rhs) {
				break
			}
			fn, ok := st.Rhs[i].(*ast.FunctionExpr)
			if !ok {
				continue
			}
			segs, ok := source.ExprSegments(lhs)
			if !ok {
				continue
			}
			out = append(out, t.visitDef(s, fn, segs, depth)...)
		}
		return out
	case *ast.DoBlockStmt:
		return t.visitBody(st.Stmts, depth)
	case *ast.WhileStmt:
		return t.visitBody(st.Stmts, depth)
	case *ast.RepeatStmt:
		return t.visitBody(st.Stmts, depth)
	case *ast.IfStmt:
		return append(t.visitBody(st.Then, depth), t.visitBody(st.Else, depth)...)
	case *ast.NumberForStmt:
		return t.visitBody(st.Stmts, depth)
	case *ast.GenericForStmt:
		return t.visitBody(st.Stmts, depth)
	default:
		return nil
	}
}

// visitDef handles one named function definition whose name chain is segs.
func (t *transformer) visitDef(s ast.Stmt, fn *ast.FunctionExpr, segs []string, depth int) []ast.Stmt {
	if !t.matchesAt(segs, depth) {
		return nil
	}
	if depth+len(segs) == len(t.path) {
		return t.emitLeaf(s, fn, segs)
	}
	return t.emitEnclosing(fn, segs, depth)
}

// matchesAt reports whether segs continues the target path at depth without
// overshooting it.
func (t *transformer) matchesAt(segs []string, depth int) bool {
	if depth+len(segs) > len(t.path) {
		return false
	}
	for i, s := range segs {
		if t.path[depth+i] != s {
			return false
		}
	}
	return true
}

// emitLeaf produces intermediate-table stubs, the target definition itself,
// and the result capture.
func (t *transformer) emitLeaf(s ast.Stmt, fn *ast.FunctionExpr, segs []string) []ast.Stmt {
	t.found = true
	var out []ast.Stmt
	for i := 1; i < len(segs); i++ {
		out = append(out, tableStub(segs[:i]))
	}
	out = append(out, s)

	var target ast.Expr
	if len(segs) == 1 {
		target = ident(segs[0], fn.LastLine())
	} else {
		target = attrChain(segs, fn.LastLine())
	}
	out = append(out, assign(ident(resultGlobal, 0), target))
	return out
}

// emitEnclosing collapses an enclosing definition to an argument-less stub
// containing only the path to the target, invoked immediately so the inner
// closure is created. Free-variable bindings the enclosing scope provided
// are re-bound by the transplant step, not here.
func (t *transformer) emitEnclosing(fn *ast.FunctionExpr, segs []string, depth int) []ast.Stmt {
	inner := t.visitBody(fn.Stmts, depth+len(segs))
	stubName := segs[len(segs)-1]

	stubFn := &ast.FunctionExpr{
		ParList: &ast.ParList{},
		Stmts:   inner,
	}
	stubFn.SetLine(fn.Line())
	stubFn.SetLastLine(fn.LastLine())

	decl := &ast.LocalAssignStmt{
		Names: []string{stubName},
		Exprs: []ast.Expr{stubFn},
	}
	decl.SetLine(fn.Line())
	decl.SetLastLine(fn.LastLine())

	callExpr := &ast.FuncCallExpr{Func: ident(stubName, fn.LastLine())}
	callExpr.SetLine(fn.LastLine())
	callExpr.SetLastLine(fn.LastLine())
	call := &ast.FuncCallStmt{Expr: callExpr}
	call.SetLine(fn.LastLine())
	call.SetLastLine(fn.LastLine())

	return []ast.Stmt{decl, call}
}

func ident(name string, line int) *ast.IdentExpr {
	e := &ast.IdentExpr{Value: name}
	e.SetLine(line)
	e.SetLastLine(line)
	return e
}

func localDecl(name string) ast.Stmt {
	s := &ast.LocalAssignStmt{Names: []string{name}}
	return s
}

func assign(lhs, rhs ast.Expr) ast.Stmt {
	s := &ast.AssignStmt{Lhs: []ast.Expr{lhs}, Rhs: []ast.Expr{rhs}}
	return s
}

func returnStmt(e ast.Expr) ast.Stmt {
	s := &ast.ReturnStmt{Exprs: []ast.Expr{e}}
	return s
}

func tableStub(segs []string) ast.Stmt {
	var lhs ast.Expr
	if len(segs) == 1 {
		lhs = ident(segs[0], 0)
	} else {
		lhs = attrChain(segs, 0)
	}
	tbl := &ast.TableExpr{}
	return assign(lhs, tbl)
}
