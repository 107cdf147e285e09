package closure

import (
	"errors"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func loadFn(t *testing.T, L *lua.LState, script, global string) *lua.LFunction {
	t.Helper()
	if err := L.DoString(script); err != nil {
		t.Fatalf("script: %v", err)
	}
	fn, ok := L.GetGlobal(global).(*lua.LFunction)
	if !ok {
		t.Fatalf("global %q is not a Lua function", global)
	}
	return fn
}

func callNumber(t *testing.T, L *lua.LState, fn *lua.LFunction, args ...lua.LValue) lua.LNumber {
	t.Helper()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		t.Fatalf("call: %v", err)
	}
	n, ok := L.Get(-1).(lua.LNumber)
	if !ok {
		t.Fatalf("returned %v, want a number", L.Get(-1))
	}
	L.Pop(1)
	return n
}

func TestFreeVars(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	fn := loadFn(t, L, `
		local a, b = 1, 2
		f = function() return a + b end
	`, "f")

	got := FreeVars(fn)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("FreeVars = %v, want [a b]", got)
	}
}

func TestTransplantSharesMutation(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	// get and bump share the cell for count.
	get := loadFn(t, L, `
		local count = 0
		bump = function() count = count + 1 end
		get = function() return count end
	`, "get")
	bump, _ := L.GetGlobal("bump").(*lua.LFunction)

	// A recompiled get with its own fresh cell.
	fresh := loadFn(t, L, `
		local count = -100
		get2 = function() return count * 10 end
	`, "get2")

	if err := Transplant("get", get, fresh); err != nil {
		t.Fatalf("Transplant: %v", err)
	}

	if err := L.CallByParam(lua.P{Fn: bump, NRet: 0, Protect: true}); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if got := callNumber(t, L, fresh); got != 10 {
		t.Errorf("after bump, new generation sees %v, want 10", got)
	}
}

func TestTransplantMissingCell(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	old := loadFn(t, L, `
		local a = 1
		f = function() return a end
	`, "f")
	replacement := loadFn(t, L, `
		local a, b = 1, 2
		g = function() return a + b end
	`, "g")

	err := Transplant("f", old, replacement)
	var cerr *ClosureError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *ClosureError", err)
	}
	if len(cerr.Missing) != 1 || cerr.Missing[0] != "b" {
		t.Errorf("Missing = %v, want [b]", cerr.Missing)
	}
	// Failed transplant must leave the replacement untouched.
	if got := callNumber(t, L, replacement); got != 3 {
		t.Errorf("replacement was partially rebound: %v", got)
	}
}

func TestTransplantDroppedCellIsFine(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	old := loadFn(t, L, `
		local a, b = 5, 99
		f = function() return a + b end
	`, "f")
	replacement := loadFn(t, L, `
		local a = 0
		g = function() return a * 2 end
	`, "g")

	// The new code may stop using a captured variable.
	if err := Transplant("f", old, replacement); err != nil {
		t.Fatalf("Transplant: %v", err)
	}
	if got := callNumber(t, L, replacement); got != 10 {
		t.Errorf("replacement = %v, want 10", got)
	}
}
