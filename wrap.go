package relive

import (
	"context"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"

	"github.com/dshills/relive/internal/debugger"
	"github.com/dshills/relive/internal/source"
)

// wrapped is the per-function state behind one wrapper: the original
// compiled generation, the current generation, and where the definition
// lives on disk.
type wrapped struct {
	anchor     source.Anchor
	base       *lua.LFunction
	now        *lua.LFunction
	wrapper    *lua.LFunction
	generation int
	propagate  func(lua.LValue) bool
	reloadErr  error
	failedAt   time.Time

	// rebound marks wraps refreshed by a wrap call during the current
	// module reload, so the post-reload sweep leaves them alone.
	rebound bool
}

// WrapOptions tunes a single wrap.
type WrapOptions struct {
	// Propagate, when it returns true for an error value, re-raises the
	// error immediately instead of opening a session. Use it for errors
	// that are control flow, not bugs.
	Propagate func(errObj lua.LValue) bool
}

// Wrap returns an edit-and-continue wrapper for a Lua function. Wrapping is
// idempotent: wrapping a wrapper, or the same function twice, returns the
// existing wrapper. During a module reload, wrapping a redefinition of an
// already-wrapped function rebinds the existing wrapper to the new code so
// held references stay current.
func (e *Engine) Wrap(v lua.LValue) (lua.LValue, error) {
	return e.WrapWith(v, WrapOptions{})
}

// WrapWith is Wrap with options. Class tables are delegated to WrapClass.
func (e *Engine) WrapWith(v lua.LValue, opts WrapOptions) (lua.LValue, error) {
	if tbl, ok := v.(*lua.LTable); ok {
		e.WrapClass(tbl)
		return tbl, nil
	}
	fn, ok := v.(*lua.LFunction)
	if !ok || fn.IsG {
		return v, &WrapError{Err: ErrNotLuaFunction}
	}
	return e.wrapFunction(fn, opts, "")
}

// wrapFunction does the work of WrapWith for a plain Lua function. hint is
// the field name the function was found under, when the caller knows it; it
// disambiguates definitions that share a starting line.
func (e *Engine) wrapFunction(fn *lua.LFunction, opts WrapOptions, hint string) (lua.LValue, error) {
	e.mu.Lock()
	if e.noWrap[fn] {
		e.mu.Unlock()
		return fn, nil
	}
	if _, isWrapper := e.wraps[fn]; isWrapper {
		e.mu.Unlock()
		return fn, nil
	}
	if w, ok := e.byBase[fn]; ok {
		e.mu.Unlock()
		return w.wrapper, nil
	}
	restarting := e.restartDepth > 0
	e.mu.Unlock()

	anchor, err := e.anchorFor(fn, hint)
	if err != nil {
		return fn, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	key := anchorKey(anchor)
	if restarting {
		if w, ok := e.byAnchor[key]; ok {
			// Same definition, fresh compile: rebind rather than stack a
			// second wrapper.
			delete(e.byBase, w.base)
			w.base = fn
			w.now = fn
			w.generation = 0
			w.anchor = anchor
			w.rebound = true
			e.byBase[fn] = w
			return w.wrapper, nil
		}
	}

	w := &wrapped{anchor: anchor, base: fn, now: fn, propagate: opts.Propagate}
	w.wrapper = e.L.NewFunction(e.invoke(w))
	e.wraps[w.wrapper] = w
	e.byBase[fn] = w
	e.byAnchor[key] = w
	return w.wrapper, nil
}

// NoWrap marks a function so Wrap, WrapClass, and WrapModule leave it
// alone, and returns it unchanged.
func (e *Engine) NoWrap(v lua.LValue) lua.LValue {
	if fn, ok := v.(*lua.LFunction); ok && !fn.IsG {
		e.mu.Lock()
		e.noWrap[fn] = true
		e.mu.Unlock()
	}
	return v
}

// WrapClass wraps every function-valued field of a class table in place.
// Unwrappable fields are left as they are with a warning.
func (e *Engine) WrapClass(tbl *lua.LTable) {
	type entry struct {
		key string
		fn  *lua.LFunction
	}
	var entries []entry
	tbl.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			return
		}
		if fn, ok := v.(*lua.LFunction); ok && !fn.IsG {
			entries = append(entries, entry{key: string(name), fn: fn})
		}
	})
	for _, en := range entries {
		wrapper, err := e.wrapFunction(en.fn, WrapOptions{}, en.key)
		if err != nil {
			e.warnf("cannot wrap %s: %v", en.key, err)
			continue
		}
		tbl.RawSetString(en.key, wrapper)
	}
}

// WrapModule wraps every function in env that was compiled from the given
// chunk, both top-level functions and methods of top-level tables. Functions
// from other files, builtins, and NoWrap'd functions are skipped. A nil env
// means the global table.
func (e *Engine) WrapModule(path string, env *lua.LTable) {
	if env == nil {
		env = e.globals()
	}
	type slot struct {
		owner *lua.LTable
		key   string
		fn    *lua.LFunction
	}
	var slots []slot
	collect := func(owner *lua.LTable, k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			return
		}
		if fn, ok := v.(*lua.LFunction); ok && !fn.IsG && fn.Proto.SourceName == path {
			slots = append(slots, slot{owner: owner, key: string(name), fn: fn})
		}
	}
	env.ForEach(func(k, v lua.LValue) {
		collect(env, k, v)
		if sub, ok := v.(*lua.LTable); ok {
			sub.ForEach(func(sk, sv lua.LValue) {
				collect(sub, sk, sv)
			})
		}
	})
	for _, s := range slots {
		wrapper, err := e.wrapFunction(s.fn, WrapOptions{}, s.key)
		if err != nil {
			e.warnf("cannot wrap %s: %v", s.key, err)
			continue
		}
		s.owner.RawSetString(s.key, wrapper)
	}
}

// anchorFor resolves a compiled function back to its definition in source.
// File-backed chunks go through the parse cache: WrapModule anchors every
// function in a file, and one parse serves them all.
func (e *Engine) anchorFor(fn *lua.LFunction, hint string) (source.Anchor, error) {
	name := fn.Proto.SourceName
	var chunk []ast.Stmt

	e.mu.Lock()
	text, inMem := e.memSource[name]
	e.mu.Unlock()
	if inMem {
		parsed, err := source.Parse(text, name)
		if err != nil {
			return source.Anchor{}, &WrapError{Source: name, Err: err}
		}
		chunk = parsed
	} else {
		_, parsed, err := e.cache.Load(name)
		if err != nil {
			return source.Anchor{}, &WrapError{Source: name, Err: err}
		}
		chunk = parsed
	}

	defn, err := source.FindByDefinedLine(chunk, name, fn.Proto.LineDefined, hint)
	if err != nil {
		return source.Anchor{}, &WrapError{Source: name, Err: err}
	}
	return source.Anchor{
		Path:      name,
		Def:       defn.Path.Clone(),
		FirstLine: defn.FirstLine,
		LastLine:  defn.LastLine,
	}, nil
}

func anchorKey(a source.Anchor) string {
	return a.Path + "\x00" + a.Def.String()
}

// invoke builds the wrapper body: run the current generation, and on error
// hold the stack for a post-mortem, reload on continue, and re-run with the
// original arguments until the call succeeds or the user gives up.
func (e *Engine) invoke(w *wrapped) lua.LGFunction {
	return func(L *lua.LState) int {
		nargs := L.GetTop()
		args := make([]lua.LValue, nargs)
		for i := 0; i < nargs; i++ {
			args[i] = L.Get(i + 1)
		}

		for {
			rets, tb, errObj, perr := e.protectedCall(L, w.now, args)
			if perr == nil {
				for _, r := range rets {
					L.Push(r)
				}
				return len(rets)
			}
			w.failedAt = time.Now()

			if e.shouldPropagate(w, errObj) {
				L.Error(errObj, 0)
				return 0
			}

			switch e.postMortem(w, tb, errObj) {
			case debugger.DecisionContinue:
				e.continueReload(w)
			case debugger.DecisionFullReload:
				if err := e.ReloadModule(w.anchor.Path); err != nil {
					w.reloadErr = err
				} else {
					w.reloadErr = nil
				}
			case debugger.DecisionQuit:
				e.RequestExit()
				L.Error(errObj, 0)
				return 0
			default:
				L.Error(errObj, 0)
				return 0
			}
		}
	}
}

// protectedCall runs fn on L with the given arguments, capturing the stack
// at error time from inside the message handler, before the unwind. L is the
// state the wrapper was invoked on, so a call made from a coroutine reads
// its arguments and runs its body on the same stack.
func (e *Engine) protectedCall(L *lua.LState, fn *lua.LFunction, args []lua.LValue) (rets []lua.LValue, tb *debugger.Traceback, errObj lua.LValue, err error) {
	var captured *debugger.Traceback
	handler := L.NewFunction(func(L *lua.LState) int {
		captured = debugger.Capture(L, L.Get(1))
		L.Push(L.Get(1))
		return 1
	})

	base := L.GetTop()
	L.Push(fn)
	for _, a := range args {
		L.Push(a)
	}
	if perr := L.PCall(len(args), lua.MultRet, handler); perr != nil {
		L.SetTop(base)
		obj := lua.LValue(lua.LNil)
		if apiErr, ok := perr.(*lua.ApiError); ok {
			obj = apiErr.Object
		}
		return nil, captured, obj, perr
	}
	n := L.GetTop() - base
	rets = make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		rets[i] = L.Get(base + 1 + i)
	}
	L.SetTop(base)
	return rets, nil, nil, nil
}

func (e *Engine) shouldPropagate(w *wrapped, errObj lua.LValue) bool {
	e.mu.Lock()
	exit := e.exitAll
	reraise := e.reraiseOnce
	e.reraiseOnce = false
	e.mu.Unlock()
	if exit || reraise {
		return true
	}
	return w.propagate != nil && w.propagate(errObj)
}

// continueReload refreshes the wrapped definition from disk. Failures are
// remembered and shown on the next session instead of killing the retry
// loop.
func (e *Engine) continueReload(w *wrapped) {
	e.mu.Lock()
	reload := e.reloadOnContinue
	watch := e.watch
	e.mu.Unlock()
	if !reload {
		return
	}
	if watch {
		e.waitForEdit(w)
	}
	if err := e.reloadFunction(w); err != nil {
		w.reloadErr = err
		return
	}
	w.reloadErr = nil
}

// waitForEdit blocks until the failed file changes, unless it already
// changed after the failure.
func (e *Engine) waitForEdit(w *wrapped) {
	info, err := os.Stat(w.anchor.Path)
	if err == nil && info.ModTime().After(w.failedAt) {
		return
	}
	if e.watcher == nil {
		watcher, werr := source.NewWatcher()
		if werr != nil {
			e.warnf("cannot watch %s: %v", w.anchor.Path, werr)
			return
		}
		e.watcher = watcher
	}
	e.warnf("waiting for %s to change", w.anchor.Path)
	if _, err := e.watcher.Wait(context.Background(), w.anchor.Path); err != nil {
		e.warnf("watch %s: %v", w.anchor.Path, err)
	}
}

func (e *Engine) postMortem(w *wrapped, tb *debugger.Traceback, errObj lua.LValue) debugger.Decision {
	e.mu.Lock()
	first := e.firstSession
	e.firstSession = false
	override := e.backendOverride
	e.mu.Unlock()

	backend, err := debugger.Select(e.backends, override)
	if err != nil {
		e.warnf("%v; aborting call to %s", err, w.anchor.Def)
		return debugger.DecisionAbort
	}

	s := &debugger.Session{
		Def:          w.anchor.Def.String(),
		File:         w.anchor.Path,
		Err:          errObj.String(),
		ReloadErr:    w.reloadErr,
		Traceback:    tb,
		SourceLookup: e.lookupSource,
		Eval: func(frame int, expr string) (string, error) {
			return e.evalInFrame(tb, frame, expr)
		},
		First: first,
	}
	dec, err := backend.PostMortem(s)
	if err != nil {
		e.warnf("debugger session failed: %v; aborting call", err)
		return debugger.DecisionAbort
	}
	return dec
}
