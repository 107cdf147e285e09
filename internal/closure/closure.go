// Package closure moves captured-variable cells between function
// generations.
//
// A Lua closure holds pointers to upvalue cells shared with its enclosing
// scope. When an edited definition is recompiled its new closure gets fresh,
// empty cells; transplanting replaces them with the old generation's cells,
// matched by name, so the new code keeps observing and mutating exactly the
// variables its siblings share.
package closure

import (
	"fmt"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ClosureError reports free variables of the previous generation that the
// recompiled definition no longer binds, or binds that the previous
// generation never had. Cells are never fabricated: a missing cell would
// start life unset and silently decouple the new code from its siblings.
type ClosureError struct {
	// Def identifies the definition being reloaded.
	Def string
	// Missing are upvalue names the new generation needs but the old one
	// did not capture.
	Missing []string
}

// Error implements the error interface.
func (e *ClosureError) Error() string {
	return fmt.Sprintf("cannot rebind %s: no captured cell for %s",
		e.Def, strings.Join(e.Missing, ", "))
}

// FreeVars lists the names a compiled Lua function captures, in slot order.
func FreeVars(fn *lua.LFunction) []string {
	if fn.IsG || fn.Proto == nil {
		return nil
	}
	names := make([]string, len(fn.Proto.DbgUpvalues))
	copy(names, fn.Proto.DbgUpvalues)
	return names
}

// Capture snapshots a function's upvalue cells by name.
func Capture(fn *lua.LFunction) map[string]*lua.Upvalue {
	cells := make(map[string]*lua.Upvalue, len(fn.Upvalues))
	for i, name := range FreeVars(fn) {
		if i < len(fn.Upvalues) {
			cells[name] = fn.Upvalues[i]
		}
	}
	return cells
}

// Transplant points newFn's upvalue slots at oldFn's cells, matched by
// name. Every name the new function captures must resolve to an old cell;
// otherwise nothing is modified and a *ClosureError lists the gaps.
func Transplant(def string, oldFn, newFn *lua.LFunction) error {
	old := Capture(oldFn)
	names := FreeVars(newFn)

	var missing []string
	for _, name := range names {
		if _, ok := old[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ClosureError{Def: def, Missing: missing}
	}

	for i, name := range names {
		newFn.Upvalues[i] = old[name]
	}
	return nil
}
