package surrogate

import (
	"fmt"
	"strings"

	"github.com/yuin/gopher-lua/ast"
)

// Render emits Lua source text for a chunk.
//
// In preserve mode each statement is padded with blank lines so it lands on
// its recorded source line; a debugger pointed at the original file then
// shows the right code for every frame. Statements without position data
// (synthetic scaffolding) share the current line, separated by semicolons.
// In compact mode statements are emitted sequentially from line 1 with
// two-space indentation, which is the text registered for synthetic-source
// listings.
//
// Output favors unambiguity over beauty: operator expressions are always
// parenthesized, so operator precedence never needs reconstructing.
func Render(chunk []ast.Stmt, preserve bool) string {
	r := &renderer{line: 1, preserve: preserve}
	r.stmts(chunk, 0)
	if r.col {
		r.b.WriteByte('\n')
	}
	return r.b.String()
}

type renderer struct {
	b        strings.Builder
	line     int
	col      bool // current line has content
	preserve bool
}

func (r *renderer) newline() {
	r.b.WriteByte('\n')
	r.line++
	r.col = false
}

// syncTo pads with blank lines until the given source line is current.
// Lines only move forward; a zero or stale line is a no-op.
func (r *renderer) syncTo(line int) {
	if !r.preserve || line <= 0 {
		return
	}
	for r.line < line {
		r.newline()
	}
}

// stmtStart positions the writer for a new statement.
func (r *renderer) stmtStart(line, indent int) {
	if r.preserve {
		r.syncTo(line)
		if r.col {
			// Sharing a line: a separator prevents the classic
			// `a = f (g)()` call-chain ambiguity.
			r.b.WriteString("; ")
		}
		return
	}
	if r.col {
		r.newline()
	}
	for i := 0; i < indent; i++ {
		r.b.WriteString("  ")
	}
}

func (r *renderer) write(s string) {
	r.b.WriteString(s)
	if s != "" {
		r.col = true
	}
}

func (r *renderer) stmts(list []ast.Stmt, indent int) {
	for _, s := range list {
		r.stmt(s, indent)
	}
}

func (r *renderer) stmt(s ast.Stmt, indent int) {
	r.stmtStart(s.Line(), indent)
	switch st := s.(type) {
	case *ast.AssignStmt:
		r.exprList(st.Lhs, indent)
		r.write(" = ")
		r.exprList(st.Rhs, indent)
	case *ast.LocalAssignStmt:
		r.write("local ")
		r.write(strings.Join(st.Names, ", "))
		if len(st.Exprs) > 0 {
			r.write(" = ")
			r.exprList(st.Exprs, indent)
		}
	case *ast.FuncCallStmt:
		r.expr(st.Expr, indent, false)
	case *ast.DoBlockStmt:
		r.write("do")
		r.stmts(st.Stmts, indent+1)
		r.blockEnd(st.LastLine(), indent, "end")
	case *ast.WhileStmt:
		r.write("while ")
		r.expr(st.Condition, indent, true)
		r.write(" do")
		r.stmts(st.Stmts, indent+1)
		r.blockEnd(st.LastLine(), indent, "end")
	case *ast.RepeatStmt:
		r.write("repeat")
		r.stmts(st.Stmts, indent+1)
		r.blockEnd(st.LastLine(), indent, "until ")
		r.expr(st.Condition, indent, true)
	case *ast.IfStmt:
		r.ifStmt(st, indent, "if ")
	case *ast.NumberForStmt:
		r.write("for ")
		r.write(st.Name)
		r.write(" = ")
		r.expr(st.Init, indent, true)
		r.write(", ")
		r.expr(st.Limit, indent, true)
		if st.Step != nil {
			r.write(", ")
			r.expr(st.Step, indent, true)
		}
		r.write(" do")
		r.stmts(st.Stmts, indent+1)
		r.blockEnd(st.LastLine(), indent, "end")
	case *ast.GenericForStmt:
		r.write("for ")
		r.write(strings.Join(st.Names, ", "))
		r.write(" in ")
		r.exprList(st.Exprs, indent)
		r.write(" do")
		r.stmts(st.Stmts, indent+1)
		r.blockEnd(st.LastLine(), indent, "end")
	case *ast.FuncDefStmt:
		r.funcDef(st, indent)
	case *ast.ReturnStmt:
		r.write("return")
		if len(st.Exprs) > 0 {
			r.write(" ")
			r.exprList(st.Exprs, indent)
		}
	case *ast.BreakStmt:
		r.write("break")
	case *ast.LabelStmt:
		r.write("::" + st.Name + "::")
	case *ast.GotoStmt:
		r.write("goto " + st.Label)
	default:
		// Unknown statement kinds would emit silently-wrong code.
		panic(fmt.Sprintf("surrogate: unhandled statement %T", s))
	}
}

func (r *renderer) ifStmt(st *ast.IfStmt, indent int, kw string) {
	r.write(kw)
	r.expr(st.Condition, indent, true)
	r.write(" then")
	r.stmts(st.Then, indent+1)
	if len(st.Else) == 1 {
		if elif, ok := st.Else[0].(*ast.IfStmt); ok {
			r.stmtStart(elif.Line(), indent)
			r.ifStmt(elif, indent, "elseif ")
			return
		}
	}
	if len(st.Else) > 0 {
		r.stmtStart(0, indent)
		r.write("else")
		r.stmts(st.Else, indent+1)
	}
	r.blockEnd(st.LastLine(), indent, "end")
}

func (r *renderer) blockEnd(lastLine, indent int, token string) {
	if r.preserve {
		r.syncTo(lastLine)
		if r.col {
			r.write(" ")
		}
		r.write(token)
		return
	}
	if r.col {
		r.newline()
	}
	for i := 0; i < indent; i++ {
		r.b.WriteString("  ")
	}
	r.write(token)
}

func (r *renderer) funcDef(st *ast.FuncDefStmt, indent int) {
	r.write("function ")
	if st.Name.Func != nil {
		r.expr(st.Name.Func, indent, false)
	} else {
		r.expr(st.Name.Receiver, indent, false)
		r.write(":" + st.Name.Method)
	}
	r.funcTail(st.Func, indent, st.Name.Func == nil)
}

// funcTail renders the parameter list and body shared by named and
// anonymous functions. For method definitions the parser's implicit self
// parameter is omitted from the rendered list.
func (r *renderer) funcTail(fn *ast.FunctionExpr, indent int, method bool) {
	names := fn.ParList.Names
	if method && len(names) > 0 && names[0] == "self" {
		names = names[1:]
	}
	r.write("(")
	r.write(strings.Join(names, ", "))
	if fn.ParList.HasVargs {
		if len(names) > 0 {
			r.write(", ")
		}
		r.write("...")
	}
	r.write(")")
	r.stmts(fn.Stmts, indent+1)
	r.blockEnd(fn.LastLine(), indent, "end")
}

func (r *renderer) exprList(list []ast.Expr, indent int) {
	for i, e := range list {
		if i > 0 {
			r.write(", ")
		}
		r.expr(e, indent, true)
	}
}

// expr renders one expression. Operator and function-literal expressions are
// parenthesized when used as a call/index prefix; operator expressions used
// as plain values keep their parens too, which is redundant but unambiguous.
func (r *renderer) expr(e ast.Expr, indent int, _ bool) {
	switch ex := e.(type) {
	case *ast.TrueExpr:
		r.write("true")
	case *ast.FalseExpr:
		r.write("false")
	case *ast.NilExpr:
		r.write("nil")
	case *ast.Comma3Expr:
		r.write("...")
	case *ast.NumberExpr:
		r.write(ex.Value)
	case *ast.StringExpr:
		r.write(quoteLua(ex.Value))
	case *ast.IdentExpr:
		r.write(ex.Value)
	case *ast.AttrGetExpr:
		r.prefix(ex.Object, indent)
		if key, ok := ex.Key.(*ast.StringExpr); ok && isLuaName(key.Value) {
			r.write("." + key.Value)
		} else {
			r.write("[")
			r.expr(ex.Key, indent, true)
			r.write("]")
		}
	case *ast.TableExpr:
		r.table(ex, indent)
	case *ast.FuncCallExpr:
		r.call(ex, indent)
	case *ast.LogicalOpExpr:
		r.binary(ex.Lhs, ex.Operator, ex.Rhs, indent)
	case *ast.RelationalOpExpr:
		r.binary(ex.Lhs, ex.Operator, ex.Rhs, indent)
	case *ast.StringConcatOpExpr:
		r.binary(ex.Lhs, "..", ex.Rhs, indent)
	case *ast.ArithmeticOpExpr:
		r.binary(ex.Lhs, ex.Operator, ex.Rhs, indent)
	case *ast.UnaryMinusOpExpr:
		r.write("-(")
		r.expr(ex.Expr, indent, true)
		r.write(")")
	case *ast.UnaryNotOpExpr:
		r.write("not (")
		r.expr(ex.Expr, indent, true)
		r.write(")")
	case *ast.UnaryLenOpExpr:
		r.write("#(")
		r.expr(ex.Expr, indent, true)
		r.write(")")
	case *ast.FunctionExpr:
		r.write("function")
		r.funcTail(ex, indent, false)
	default:
		panic(fmt.Sprintf("surrogate: unhandled expression %T", e))
	}
}

// prefix renders an expression used as a call/index base, parenthesizing
// anything that is not already a valid Lua prefix expression.
func (r *renderer) prefix(e ast.Expr, indent int) {
	switch e.(type) {
	case *ast.IdentExpr, *ast.AttrGetExpr, *ast.FuncCallExpr:
		r.expr(e, indent, false)
	default:
		r.write("(")
		r.expr(e, indent, true)
		r.write(")")
	}
}

func (r *renderer) binary(lhs ast.Expr, op string, rhs ast.Expr, indent int) {
	r.write("(")
	r.expr(lhs, indent, true)
	r.write(" " + op + " ")
	r.expr(rhs, indent, true)
	r.write(")")
}

func (r *renderer) call(ex *ast.FuncCallExpr, indent int) {
	if ex.Receiver != nil {
		r.prefix(ex.Receiver, indent)
		r.write(":" + ex.Method)
	} else {
		r.prefix(ex.Func, indent)
	}
	r.write("(")
	r.exprList(ex.Args, indent)
	r.write(")")
}

func (r *renderer) table(ex *ast.TableExpr, indent int) {
	r.write("{")
	for i, f := range ex.Fields {
		if i > 0 {
			r.write(", ")
		}
		switch {
		case f.Key == nil:
			// array-style entry
		default:
			if key, ok := f.Key.(*ast.StringExpr); ok && isLuaName(key.Value) {
				r.write(key.Value + " = ")
			} else {
				r.write("[")
				r.expr(f.Key, indent, true)
				r.write("] = ")
			}
		}
		r.expr(f.Value, indent, true)
	}
	r.write("}")
}

var luaKeywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "goto": true,
	"if": true, "in": true, "local": true, "nil": true, "not": true,
	"or": true, "repeat": true, "return": true, "then": true, "true": true,
	"until": true, "while": true,
}

func isLuaName(s string) bool {
	if s == "" || luaKeywords[s] {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// quoteLua renders a double-quoted Lua string literal.
func quoteLua(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7f {
				// Three digits so a following digit can't extend the escape.
				b.WriteString(fmt.Sprintf(`\%03d`, c))
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
