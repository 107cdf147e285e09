package relive

import (
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/relive/internal/closure"
	"github.com/dshills/relive/internal/source"
	"github.com/dshills/relive/internal/surrogate"
)

// reloadFunction replaces one wrapped definition with the code currently on
// disk. The pipeline: re-read and re-parse the file, re-locate the
// definition by its anchor, isolate it into a surrogate unit, compile and
// execute the unit against a scratch environment, move the old generation's
// captured cells into the new closure, and swap it in. Any failure leaves
// the old generation running.
func (e *Engine) reloadFunction(w *wrapped) error {
	data, err := os.ReadFile(w.anchor.Path)
	if err != nil {
		return fmt.Errorf("reload %s: %w", w.anchor.Def, err)
	}
	text := string(data)

	chunk, err := source.Parse(text, w.anchor.Path)
	if err != nil {
		return err
	}
	defn, err := source.Locate(w.anchor, chunk)
	if err != nil {
		return err
	}

	e.mu.Lock()
	mode := e.fidelity
	e.mu.Unlock()

	freeVars := closure.FreeVars(w.now)
	gen := w.generation + 1
	unit, err := surrogate.Build(chunk, w.anchor.Path, defn, freeVars, gen, mode)
	if err != nil {
		return err
	}
	proto, err := unit.Compile()
	if err != nil {
		return err
	}

	env := w.now.Env
	if env == nil {
		env = e.globals()
	}
	newFn, err := surrogate.Execute(e.L, proto, env)
	if err != nil {
		return err
	}
	if err := closure.Transplant(w.anchor.Def.String(), w.now, newFn); err != nil {
		return err
	}

	w.now = newFn
	w.generation = gen
	w.anchor.FirstLine = defn.FirstLine
	w.anchor.LastLine = defn.LastLine
	e.registry.Add(unit)
	e.cache.Invalidate(w.anchor.Path)
	return nil
}

// ReloadModule re-executes a whole source file. The chunk runs against a
// copy of the globals so a failing reload leaves the program untouched;
// on success the copy is written back. Module-level code can check
// IsRestartingModule (or hotrestart.is_restarting_module from Lua) to skip
// one-shot side effects, and wrap calls made during the reload rebind the
// existing wrappers to the fresh definitions.
func (e *Engine) ReloadModule(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fn, err := e.load(string(data), path)
	if err != nil {
		return err
	}

	L := e.L
	globals := e.globals()

	scratch := L.NewTable()
	globals.ForEach(func(k, v lua.LValue) {
		scratch.RawSet(k, v)
	})
	// Globals defined after the copy still resolve during the reload.
	mt := L.NewTable()
	L.SetField(mt, "__index", globals)
	L.SetMetatable(scratch, mt)
	fn.Env = scratch

	e.mu.Lock()
	e.restartDepth++
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.restartDepth--
		e.mu.Unlock()
	}()

	L.Push(fn)
	if err := L.PCall(0, 0, nil); err != nil {
		return err
	}

	scratch.ForEach(func(k, v lua.LValue) {
		globals.RawSet(k, v)
	})
	e.cache.Invalidate(path)
	e.rebindAfterReload(path)
	return nil
}

// rebindAfterReload points existing wrappers for a reloaded file at the
// fresh definitions. Wraps already refreshed by wrap calls inside the
// module are skipped; the rest are resolved by their definition path in the
// globals, and the wrapper is put back in that slot so held references keep
// going through it.
func (e *Engine) rebindAfterReload(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	globals := e.globals()
	for _, w := range e.byAnchor {
		if w.anchor.Path != path {
			continue
		}
		if w.rebound {
			w.rebound = false
			w.reloadErr = nil
			continue
		}
		v, ok := resolvePath(globals, w.anchor.Def)
		if !ok {
			continue
		}
		fn, isFn := v.(*lua.LFunction)
		if !isFn || fn.IsG || fn == w.wrapper {
			continue
		}
		delete(e.byBase, w.base)
		w.base = fn
		w.now = fn
		w.generation = 0
		w.reloadErr = nil
		e.byBase[fn] = w
		setPath(globals, w.anchor.Def, w.wrapper)
	}
}

// resolvePath walks a definition path through nested tables.
func resolvePath(root *lua.LTable, def source.DefPath) (lua.LValue, bool) {
	var cur lua.LValue = root
	for _, seg := range def {
		tbl, ok := cur.(*lua.LTable)
		if !ok {
			return nil, false
		}
		cur = tbl.RawGetString(seg)
	}
	if cur == lua.LNil {
		return nil, false
	}
	return cur, true
}

// setPath stores a value at a definition path, when every intermediate
// segment is a table.
func setPath(root *lua.LTable, def source.DefPath, v lua.LValue) {
	cur := root
	for _, seg := range def[:len(def)-1] {
		next, ok := cur.RawGetString(seg).(*lua.LTable)
		if !ok {
			return
		}
		cur = next
	}
	cur.RawSetString(def[len(def)-1], v)
}
