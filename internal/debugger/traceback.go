package debugger

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Variable is one named value captured from a frame. Value is the display
// form; Raw is the live value, kept for frame-scoped evaluation.
type Variable struct {
	Name  string
	Value string
	Raw   lua.LValue
}

// Frame is one call frame captured at error time.
type Frame struct {
	// Name is the function's name as the VM knows it, possibly empty for
	// anonymous functions.
	Name string

	// Source is the chunk name the function was compiled under; a file
	// path or a synthetic unit name.
	Source string

	// CurrentLine is the line executing when the error was raised.
	CurrentLine int

	// LineDefined and LastLineDefined span the function in its source.
	LineDefined     int
	LastLineDefined int

	// IsGo marks frames of builtin functions, which have no Lua-level
	// locals or source.
	IsGo bool

	Locals   []Variable
	Upvalues []Variable
}

// Location formats "source:line" for display.
func (f *Frame) Location() string {
	if f.IsGo {
		return "[go]"
	}
	return fmt.Sprintf("%s:%d", f.Source, f.CurrentLine)
}

// Title formats a one-line frame header.
func (f *Frame) Title() string {
	name := f.Name
	if name == "" {
		name = "?"
	}
	return fmt.Sprintf("%s at %s", name, f.Location())
}

// Traceback is the full captured error stack, innermost frame first.
type Traceback struct {
	Frames  []Frame
	Message string
}

// Capture snapshots the live stack. It must run inside an error handler
// installed on the failing call, while the erroring frames still exist;
// after the unwind there is nothing left to walk.
func Capture(L *lua.LState, msg lua.LValue) *Traceback {
	tb := &Traceback{Message: messageText(msg)}
	for level := 0; ; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			break
		}
		fnv, err := L.GetInfo("nSluf", dbg, lua.LNil)
		if err != nil {
			break
		}
		f := Frame{
			Name:            dbg.Name,
			Source:          dbg.Source,
			CurrentLine:     dbg.CurrentLine,
			LastLineDefined: dbg.LastLineDefined,
		}
		fn, _ := fnv.(*lua.LFunction)
		if fn == nil || fn.IsG {
			f.IsGo = true
			tb.Frames = append(tb.Frames, f)
			continue
		}
		f.LineDefined = fn.Proto.LineDefined
		f.Locals = frameLocals(L, dbg)
		f.Upvalues = functionUpvalues(fn)
		tb.Frames = append(tb.Frames, f)
	}
	return tb
}

func messageText(msg lua.LValue) string {
	if msg == nil || msg == lua.LNil {
		return "error"
	}
	return msg.String()
}

// frameLocals reads a frame's named locals. VM temporaries carry
// parenthesized names and are skipped.
func frameLocals(L *lua.LState, dbg *lua.Debug) []Variable {
	var out []Variable
	for i := 1; ; i++ {
		name, val := L.GetLocal(dbg, i)
		if name == "" {
			break
		}
		if strings.HasPrefix(name, "(") {
			continue
		}
		out = append(out, Variable{Name: name, Value: RenderValue(val), Raw: val})
	}
	return out
}

func functionUpvalues(fn *lua.LFunction) []Variable {
	var out []Variable
	for i, name := range fn.Proto.DbgUpvalues {
		if i >= len(fn.Upvalues) {
			break
		}
		val := fn.Upvalues[i].Value()
		out = append(out, Variable{Name: name, Value: RenderValue(val), Raw: val})
	}
	return out
}

// RenderValue formats a Lua value for display without invoking metamethods.
func RenderValue(v lua.LValue) string {
	switch val := v.(type) {
	case lua.LString:
		return fmt.Sprintf("%q", string(val))
	case *lua.LTable:
		return fmt.Sprintf("table(len=%d)", val.Len())
	case *lua.LFunction:
		if val.IsG {
			return "function(builtin)"
		}
		return fmt.Sprintf("function(%s:%d)", val.Proto.SourceName, val.Proto.LineDefined)
	default:
		return v.String()
	}
}

// Lookup returns the frame at index, innermost first.
func (t *Traceback) Lookup(i int) (*Frame, bool) {
	if i < 0 || i >= len(t.Frames) {
		return nil, false
	}
	return &t.Frames[i], true
}
