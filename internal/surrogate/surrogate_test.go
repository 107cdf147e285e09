package surrogate

import (
	"errors"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"

	"github.com/dshills/relive/internal/source"
)

const bankSource = `local rate = 2

function top(x)
  return x + rate
end

Account = {}

function Account.helper(n)
  return n * 2
end

function Account:deposit(amount)
  self.balance = self.balance + amount
  return self.balance
end

local function outer()
  local count = 0
  local function inc(step)
    count = count + step
    return count
  end
  return inc
end
`

func mustParse(t *testing.T, text string) []ast.Stmt {
	t.Helper()
	chunk, err := source.Parse(text, "bank.lua")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return chunk
}

func findDef(t *testing.T, chunk []ast.Stmt, dotted string) *source.Definition {
	t.Helper()
	for _, d := range source.Definitions(chunk) {
		if d.Path.String() == dotted {
			return d
		}
	}
	t.Fatalf("definition %q not found", dotted)
	return nil
}

func TestBuildTopLevelFunction(t *testing.T) {
	chunk := mustParse(t, bankSource)
	defn := findDef(t, chunk, "top")

	u, err := Build(chunk, "bank.lua", defn, []string{"rate"}, 1, FidelitySurrogate)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if u.SourceName != u.SyntheticName {
		t.Errorf("surrogate mode source name = %q, want synthetic %q", u.SourceName, u.SyntheticName)
	}
	if !strings.Contains(u.Text, "local rate") {
		t.Errorf("missing free-variable placeholder:\n%s", u.Text)
	}
	if !strings.Contains(u.Text, "function top(x)") {
		t.Errorf("missing target definition:\n%s", u.Text)
	}
	if !strings.Contains(u.Text, "RELIVE_SURROGATE_RESULT = top") {
		t.Errorf("missing result capture:\n%s", u.Text)
	}
	if !strings.Contains(u.Text, "return RELIVE_SURROGATE_RESULT") {
		t.Errorf("missing final return:\n%s", u.Text)
	}
	if strings.Contains(u.Text, "deposit") {
		t.Errorf("unrelated definition leaked into surrogate:\n%s", u.Text)
	}
}

func TestBuildMethodEmitsTableStub(t *testing.T) {
	chunk := mustParse(t, bankSource)
	defn := findDef(t, chunk, "Account.deposit")

	u, err := Build(chunk, "bank.lua", defn, nil, 1, FidelitySurrogate)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	stub := strings.Index(u.Text, "Account = {}")
	def := strings.Index(u.Text, "function Account:deposit")
	if stub < 0 || def < 0 || stub > def {
		t.Fatalf("expected table stub before method definition:\n%s", u.Text)
	}
	if !strings.Contains(u.Text, "RELIVE_SURROGATE_RESULT = Account.deposit") {
		t.Errorf("missing result capture:\n%s", u.Text)
	}
}

func TestBuildNestedClosure(t *testing.T) {
	chunk := mustParse(t, bankSource)
	defn := findDef(t, chunk, "outer.inc")

	u, err := Build(chunk, "bank.lua", defn, []string{"count"}, 2, FidelitySurrogate)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(u.Text, "local count") {
		t.Errorf("missing free-variable placeholder:\n%s", u.Text)
	}
	if !strings.Contains(u.Text, "local outer = function()") {
		t.Errorf("enclosing function not reduced to a stub:\n%s", u.Text)
	}
	if !strings.Contains(u.Text, "outer()") {
		t.Errorf("enclosing stub never invoked:\n%s", u.Text)
	}
	if strings.Contains(u.Text, "return inc") {
		t.Errorf("enclosing body statements should be dropped:\n%s", u.Text)
	}
}

func TestBuildPreservesOriginalLines(t *testing.T) {
	chunk := mustParse(t, bankSource)
	defn := findDef(t, chunk, "top")

	u, err := Build(chunk, "bank.lua", defn, []string{"rate"}, 1, FidelityOriginal)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if u.SourceName != "bank.lua" {
		t.Errorf("original mode source name = %q, want bank.lua", u.SourceName)
	}
	lines := strings.Split(u.Text, "\n")
	// `function top` sits on line 3 of the file and must stay there.
	if len(lines) < 3 || !strings.HasPrefix(lines[2], "function top") {
		t.Fatalf("definition drifted off its source line:\n%s", u.Text)
	}
}

func TestBuildTargetLost(t *testing.T) {
	chunk := mustParse(t, bankSource)
	defn := findDef(t, chunk, "top")
	defn.Path = source.DefPath{"vanished"}

	_, err := Build(chunk, "bank.lua", defn, nil, 1, FidelitySurrogate)
	if !errors.Is(err, ErrTargetLost) {
		t.Fatalf("err = %v, want ErrTargetLost", err)
	}
}

func TestSyntheticNameIsPerGeneration(t *testing.T) {
	def := source.DefPath{"Account", "deposit"}
	a := SyntheticName(def, 1)
	b := SyntheticName(def, 2)
	if a == b {
		t.Fatalf("generations share a name: %q", a)
	}
	if !strings.Contains(a, "Account.deposit") {
		t.Errorf("name %q does not identify the definition", a)
	}
}

func TestCompileAndExecute(t *testing.T) {
	text := "function greet(name)\n  return \"hi \" .. name\nend\n"
	chunk := mustParse(t, text)
	defn := findDef(t, chunk, "greet")

	u, err := Build(chunk, "greet.lua", defn, nil, 1, FidelitySurrogate)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	proto, err := u.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	L := lua.NewState()
	defer L.Close()
	globals := L.G.Global

	fn, err := Execute(L, proto, globals)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString("bob")); err != nil {
		t.Fatalf("call: %v", err)
	}
	got := L.Get(-1)
	L.Pop(1)
	if got.String() != "hi bob" {
		t.Errorf("greet returned %q, want %q", got.String(), "hi bob")
	}
}

func TestExecuteIsolatesWrites(t *testing.T) {
	chunk := mustParse(t, bankSource)
	defn := findDef(t, chunk, "Account.deposit")

	u, err := Build(chunk, "bank.lua", defn, nil, 1, FidelitySurrogate)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	proto, err := u.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	L := lua.NewState()
	defer L.Close()
	globals := L.G.Global

	live := L.NewTable()
	L.SetGlobal("Account", live)

	fn, err := Execute(L, proto, globals)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// The chunk's Account stub and result capture stay in the scratch env.
	if got := L.GetGlobal("Account"); got != live {
		t.Errorf("live Account table was replaced by the stub")
	}
	if got := L.GetGlobal("RELIVE_SURROGATE_RESULT"); got != lua.LNil {
		t.Errorf("result capture leaked into globals: %v", got)
	}

	// The extracted method works against real state.
	acct := L.NewTable()
	L.SetField(acct, "balance", lua.LNumber(10))
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, acct, lua.LNumber(5)); err != nil {
		t.Fatalf("call: %v", err)
	}
	got := L.Get(-1)
	L.Pop(1)
	if got != lua.LNumber(15) {
		t.Errorf("deposit returned %v, want 15", got)
	}
}

func TestExecuteReadsFallThroughToGlobals(t *testing.T) {
	text := "bonus_table = {}\nfunction pay(x)\n  return x + base\nend\n"
	chunk := mustParse(t, text)
	defn := findDef(t, chunk, "pay")

	u, err := Build(chunk, "pay.lua", defn, nil, 1, FidelitySurrogate)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	proto, err := u.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	L := lua.NewState()
	defer L.Close()
	L.SetGlobal("base", lua.LNumber(100))

	fn, err := Execute(L, proto, L.G.Global)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LNumber(1)); err != nil {
		t.Fatalf("call: %v", err)
	}
	got := L.Get(-1)
	L.Pop(1)
	if got != lua.LNumber(101) {
		t.Errorf("pay returned %v, want 101", got)
	}
}

func TestCompileErrorSurfacesBadEdit(t *testing.T) {
	u := &Unit{SourceName: "<relive:broken#1>", Text: "function broken(\nreturn"}
	_, err := u.Compile()
	var cerr *CompileError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *CompileError", err)
	}
	if cerr.SourceName != u.SourceName {
		t.Errorf("SourceName = %q, want %q", cerr.SourceName, u.SourceName)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	u := &Unit{SyntheticName: "<relive:top#1>", Text: "return 1\n"}
	r.Add(u)

	if got, ok := r.Source("<relive:top#1>"); !ok || got != u.Text {
		t.Errorf("Source = %q, %v", got, ok)
	}
	if _, ok := r.Source("<relive:top#2>"); ok {
		t.Errorf("unknown generation resolved")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}
