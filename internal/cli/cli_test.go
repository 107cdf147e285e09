package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func writeScript(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCheckListsDefinitions(t *testing.T) {
	path := writeScript(t, "bank.lua", `Account = {}
function Account:deposit(amount)
  return amount
end
local function helper()
  return 1
end
`)
	out, err := execute(t, "check", path)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Account.deposit") {
		t.Errorf("missing method definition:\n%s", out)
	}
	if !strings.Contains(out, "helper") {
		t.Errorf("missing local definition:\n%s", out)
	}
}

func TestCheckRejectsBadSyntax(t *testing.T) {
	path := writeScript(t, "broken.lua", "function (\n")
	if _, err := execute(t, "check", path); err == nil {
		t.Fatal("parse error not reported")
	}
}

func TestCheckRejectsUnresolvableSuper(t *testing.T) {
	path := writeScript(t, "super.lua", `function plain()
  super()
end
`)
	if _, err := execute(t, "check", path); err == nil {
		t.Fatal("unresolvable delegation call not reported")
	}
}

func TestRunExecutesScript(t *testing.T) {
	path := writeScript(t, "ok.lua", `function greet(name)
  return "hi " .. name
end
`)
	out, err := execute(t, "run", path, "greet", "bob")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
}

func TestRunUnknownEntry(t *testing.T) {
	path := writeScript(t, "ok.lua", "x = 1\n")
	if _, err := execute(t, "run", path, "missing"); err == nil {
		t.Fatal("unknown entry not reported")
	}
}

func TestEngineOptionsRejectBadFidelity(t *testing.T) {
	viper.Set("fidelity", "garbled")
	defer viper.Set("fidelity", "original")
	if _, err := engineOptions(); err == nil {
		t.Fatal("bad fidelity accepted")
	}
}
