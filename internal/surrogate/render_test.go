package surrogate

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

// Rendered text must reparse and behave identically. Running the output is a
// stronger check than comparing text.
func TestRenderRoundTripExecutes(t *testing.T) {
	text := `local acc = {}
function fizz(n)
  local out = {}
  for i = 1, n do
    if i % 15 == 0 then
      out[#out + 1] = "fizzbuzz"
    elseif i % 3 == 0 then
      out[#out + 1] = "fizz"
    elseif i % 5 == 0 then
      out[#out + 1] = "buzz"
    else
      out[#out + 1] = i .. ""
    end
  end
  return table.concat(out, ",")
end
result = fizz(5)
`
	chunk := mustParse(t, text)
	rendered := Render(chunk, false)

	L := lua.NewState()
	defer L.Close()
	if err := L.DoString(rendered); err != nil {
		t.Fatalf("rendered text does not run: %v\n%s", err, rendered)
	}
	got := L.GetGlobal("result")
	if got.String() != "1,2,fizz,4,buzz" {
		t.Errorf("result = %q, want %q\n%s", got.String(), "1,2,fizz,4,buzz", rendered)
	}
}

func TestRenderMiscStatements(t *testing.T) {
	text := `local t = {a = 1, [2] = "x", true}
while t.a < 3 do
  t.a = t.a + 1
end
repeat
  t.a = t.a - 1
until t.a <= 0
for k, v in pairs(t) do
  local _ = k
  local _ = v
end
do
  t.msg = "line\nbreak"
end
done = t.a == 0 and t.msg == "line\nbreak"
`
	chunk := mustParse(t, text)
	rendered := Render(chunk, false)

	L := lua.NewState()
	defer L.Close()
	if err := L.DoString(rendered); err != nil {
		t.Fatalf("rendered text does not run: %v\n%s", err, rendered)
	}
	if got := L.GetGlobal("done"); got != lua.LTrue {
		t.Errorf("done = %v, want true\n%s", got, rendered)
	}
}

func TestRenderPreserveModePadsLines(t *testing.T) {
	text := "\n\nfunction late()\n  return 7\nend\n"
	chunk := mustParse(t, text)
	rendered := Render(chunk, true)

	lines := strings.Split(rendered, "\n")
	if len(lines) < 3 || !strings.HasPrefix(lines[2], "function late") {
		t.Fatalf("definition should stay on line 3:\n%q", rendered)
	}

	L := lua.NewState()
	defer L.Close()
	if err := L.DoString(rendered); err != nil {
		t.Fatalf("rendered text does not run: %v", err)
	}
}

func TestRenderQuotesControlCharacters(t *testing.T) {
	got := quoteLua("a\x015b\"c")
	// Three-digit escapes keep a following digit from extending the escape.
	if got != `"a\0015b\"c"` {
		t.Errorf("quoteLua = %s", got)
	}
}
