package surrogate

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Compile parses and compiles the unit's text under its source name.
// Failures come back as *CompileError; the caller reports them and returns
// to the debugger rather than crashing.
func (u *Unit) Compile() (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(u.Text), u.SourceName)
	if err != nil {
		return nil, &CompileError{SourceName: u.SourceName, Err: err}
	}
	proto, err := lua.Compile(chunk, u.SourceName)
	if err != nil {
		return nil, &CompileError{SourceName: u.SourceName, Err: err}
	}
	return proto, nil
}

// Execute runs a compiled surrogate and extracts the target function.
//
// The chunk runs against a scratch environment whose reads fall through to
// the live globals but whose writes stay isolated, so the surrogate's table
// stubs and result capture never leak into the running program. The returned
// function's environment is then repointed at the live globals, making the
// edited code see exactly what the old generation saw.
func Execute(L *lua.LState, proto *lua.FunctionProto, globals *lua.LTable) (fn *lua.LFunction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CompileError{SourceName: proto.SourceName, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	scratch := L.NewTable()
	mt := L.NewTable()
	L.SetField(mt, "__index", globals)
	L.SetMetatable(scratch, mt)

	chunk := L.NewFunctionFromProto(proto)
	chunk.Env = scratch

	L.Push(chunk)
	if perr := L.PCall(0, 1, nil); perr != nil {
		return nil, &CompileError{SourceName: proto.SourceName, Err: perr}
	}
	ret := L.Get(-1)
	L.Pop(1)

	extracted, ok := ret.(*lua.LFunction)
	if !ok {
		return nil, &CompileError{
			SourceName: proto.SourceName,
			Err:        fmt.Errorf("chunk returned %s, expected a function", ret.Type()),
		}
	}
	if extracted.IsG {
		return nil, &CompileError{
			SourceName: proto.SourceName,
			Err:        fmt.Errorf("chunk returned a builtin function"),
		}
	}
	extracted.Env = globals
	return extracted, nil
}
