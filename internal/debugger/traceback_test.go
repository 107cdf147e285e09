package debugger

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

// captureFrom runs script, calls global "entry", and captures the stack from
// inside the error handler, before any unwind.
func captureFrom(t *testing.T, script string) *Traceback {
	t.Helper()
	L := lua.NewState()
	defer L.Close()

	var tb *Traceback
	handler := L.NewFunction(func(L *lua.LState) int {
		tb = Capture(L, L.Get(1))
		L.Push(L.Get(1))
		return 1
	})

	if err := L.DoString(script); err != nil {
		t.Fatalf("script: %v", err)
	}
	L.Push(L.GetGlobal("entry"))
	if err := L.PCall(0, lua.MultRet, handler); err == nil {
		t.Fatal("expected the call to fail")
	}
	if tb == nil {
		t.Fatal("handler never ran")
	}
	return tb
}

func TestCaptureWalksErroringFrames(t *testing.T) {
	tb := captureFrom(t, `
function inner(x)
  local y = x + 1
  error("boom")
end
function entry()
  local z = 41
  return inner(z)
end
`)
	if !strings.Contains(tb.Message, "boom") {
		t.Errorf("Message = %q, want boom", tb.Message)
	}

	var sawInner, sawEntry bool
	for _, f := range tb.Frames {
		if f.IsGo {
			continue
		}
		for _, v := range f.Locals {
			if v.Name == "y" && v.Value == "42" {
				sawInner = true
			}
			if v.Name == "z" && v.Value == "41" {
				sawEntry = true
			}
		}
	}
	if !sawInner {
		t.Errorf("inner frame locals not captured: %+v", tb.Frames)
	}
	if !sawEntry {
		t.Errorf("entry frame locals not captured: %+v", tb.Frames)
	}
}

func TestCaptureUpvalues(t *testing.T) {
	tb := captureFrom(t, `
local secret = "s3cr3t"
function entry()
  local _ = secret
  error("nope")
end
`)
	found := false
	for _, f := range tb.Frames {
		for _, v := range f.Upvalues {
			if v.Name == "secret" && v.Value == `"s3cr3t"` {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("captured upvalue missing: %+v", tb.Frames)
	}
}

func TestCaptureSkipsTemporaries(t *testing.T) {
	tb := captureFrom(t, `
function entry()
  for i = 1, 3 do
    if i == 2 then
      error("mid-loop")
    end
  end
end
`)
	for _, f := range tb.Frames {
		for _, v := range f.Locals {
			if strings.HasPrefix(v.Name, "(") {
				t.Errorf("temporary %q leaked into locals", v.Name)
			}
		}
	}
}

func TestFrameTitleAndLocation(t *testing.T) {
	f := &Frame{Name: "deposit", Source: "bank.lua", CurrentLine: 14}
	if got := f.Title(); got != "deposit at bank.lua:14" {
		t.Errorf("Title = %q", got)
	}
	g := &Frame{IsGo: true}
	if got := g.Location(); got != "[go]" {
		t.Errorf("Location = %q", got)
	}
}
