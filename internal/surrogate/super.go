package surrogate

import (
	"github.com/yuin/gopher-lua/ast"

	"github.com/dshills/relive/internal/source"
)

// Super-call rewriting. A bare call to the zero-argument delegation form
//
//	function Account:deposit(amount)
//	    super(amount)
//	end
//
// rewrites to the explicit form naming the class statically and passing the
// receiver:
//
//	Account.super.deposit(self, amount)
//
// The class chain comes from the nearest enclosing method header; the
// receiver is the first parameter of the innermost enclosing function
// (the implicit self for `:` definitions). A bare super call with no
// resolvable class or receiver fails with SuperRewriteError.

type superCtx struct {
	owner  []string
	method string
	recv   string
}

// RewriteFunction rewrites super calls lexically inside a single definition.
// owner and method come from the defining statement; nested functions
// re-resolve the receiver from their own first parameter, and nested method
// definitions establish their own class context.
func RewriteFunction(fn *ast.FunctionExpr, owner []string, method string) error {
	ctx := superCtx{owner: owner, method: method, recv: firstParam(fn)}
	w := &superRewriter{}
	w.stmts(fn.Stmts, ctx)
	return w.err
}

// RewriteAll rewrites super calls in every method definition of a module
// chunk. It is applied before a module is first executed (and again on full
// module reload) so the delegation form works from the start.
func RewriteAll(chunk []ast.Stmt) error {
	w := &superRewriter{}
	w.stmts(chunk, superCtx{})
	return w.err
}

func firstParam(fn *ast.FunctionExpr) string {
	if fn.ParList == nil || len(fn.ParList.Names) == 0 {
		return ""
	}
	return fn.ParList.Names[0]
}

type superRewriter struct {
	err error
}

func (w *superRewriter) stmts(list []ast.Stmt, ctx superCtx) {
	for _, s := range list {
		w.stmt(s, ctx)
	}
}

func (w *superRewriter) stmt(s ast.Stmt, ctx superCtx) {
	if w.err != nil {
		return
	}
	switch st := s.(type) {
	case *ast.AssignStmt:
		w.exprs(st.Lhs, ctx)
		w.exprs(st.Rhs, ctx)
	case *ast.LocalAssignStmt:
		w.exprs(st.Exprs, ctx)
	case *ast.FuncCallStmt:
		w.expr(st.Expr, ctx)
	case *ast.DoBlockStmt:
		w.stmts(st.Stmts, ctx)
	case *ast.WhileStmt:
		w.expr(st.Condition, ctx)
		w.stmts(st.Stmts, ctx)
	case *ast.RepeatStmt:
		w.stmts(st.Stmts, ctx)
		w.expr(st.Condition, ctx)
	case *ast.IfStmt:
		w.expr(st.Condition, ctx)
		w.stmts(st.Then, ctx)
		w.stmts(st.Else, ctx)
	case *ast.NumberForStmt:
		w.expr(st.Init, ctx)
		w.expr(st.Limit, ctx)
		w.expr(st.Step, ctx)
		w.stmts(st.Stmts, ctx)
	case *ast.GenericForStmt:
		w.exprs(st.Exprs, ctx)
		w.stmts(st.Stmts, ctx)
	case *ast.FuncDefStmt:
		next := ctx
		if st.Name.Func == nil {
			// A nested method definition is a nearer class header.
			if owner, ok := source.ExprSegments(st.Name.Receiver); ok {
				next = superCtx{owner: owner, method: st.Name.Method}
			}
		}
		next.recv = firstParam(st.Func)
		w.stmts(st.Func.Stmts, next)
	case *ast.ReturnStmt:
		w.exprs(st.Exprs, ctx)
	}
}

func (w *superRewriter) exprs(list []ast.Expr, ctx superCtx) {
	for _, e := range list {
		w.expr(e, ctx)
	}
}

func (w *superRewriter) expr(e ast.Expr, ctx superCtx) {
	if w.err != nil || e == nil {
		return
	}
	switch ex := e.(type) {
	case *ast.AttrGetExpr:
		w.expr(ex.Object, ctx)
		w.expr(ex.Key, ctx)
	case *ast.TableExpr:
		for _, f := range ex.Fields {
			if f.Key != nil {
				w.expr(f.Key, ctx)
			}
			w.expr(f.Value, ctx)
		}
	case *ast.FuncCallExpr:
		if ident, ok := ex.Func.(*ast.IdentExpr); ok && ex.Receiver == nil && ident.Value == "super" {
			w.rewriteCall(ex, ctx)
			w.exprs(ex.Args, ctx)
			return
		}
		w.expr(ex.Func, ctx)
		w.expr(ex.Receiver, ctx)
		w.exprs(ex.Args, ctx)
	case *ast.LogicalOpExpr:
		w.expr(ex.Lhs, ctx)
		w.expr(ex.Rhs, ctx)
	case *ast.RelationalOpExpr:
		w.expr(ex.Lhs, ctx)
		w.expr(ex.Rhs, ctx)
	case *ast.StringConcatOpExpr:
		w.expr(ex.Lhs, ctx)
		w.expr(ex.Rhs, ctx)
	case *ast.ArithmeticOpExpr:
		w.expr(ex.Lhs, ctx)
		w.expr(ex.Rhs, ctx)
	case *ast.UnaryMinusOpExpr:
		w.expr(ex.Expr, ctx)
	case *ast.UnaryNotOpExpr:
		w.expr(ex.Expr, ctx)
	case *ast.UnaryLenOpExpr:
		w.expr(ex.Expr, ctx)
	case *ast.FunctionExpr:
		inner := ctx
		inner.recv = firstParam(ex)
		w.stmts(ex.Stmts, inner)
	}
}

// rewriteCall mutates a bare super(...) call into
// Owner.super.method(recv, ...).
func (w *superRewriter) rewriteCall(call *ast.FuncCallExpr, ctx superCtx) {
	line := call.Line()
	if len(ctx.owner) == 0 || ctx.method == "" || ctx.recv == "" {
		w.err = &SuperRewriteError{Line: line}
		return
	}
	segs := make([]string, 0, len(ctx.owner)+2)
	segs = append(segs, ctx.owner...)
	segs = append(segs, "super", ctx.method)
	call.Func = attrChain(segs, line)

	recv := &ast.IdentExpr{Value: ctx.recv}
	recv.SetLine(line)
	recv.SetLastLine(line)
	call.Args = append([]ast.Expr{recv}, call.Args...)
}

// attrChain builds `a.b.c` as an expression with all nodes on one line.
func attrChain(segs []string, line int) ast.Expr {
	ident := &ast.IdentExpr{Value: segs[0]}
	ident.SetLine(line)
	ident.SetLastLine(line)
	var e ast.Expr = ident
	for _, s := range segs[1:] {
		key := &ast.StringExpr{Value: s}
		key.SetLine(line)
		key.SetLastLine(line)
		attr := &ast.AttrGetExpr{Object: e, Key: key}
		attr.SetLine(line)
		attr.SetLastLine(line)
		e = attr
	}
	return e
}
