package relive

import (
	lua "github.com/yuin/gopher-lua"
)

// classPrelude is the minimal class helper the delegation-call rewrite
// targets: cls.super holds the parent, instances delegate through __index,
// and calling the class constructs an instance.
const classPrelude = `
local hotrestart = hotrestart
function hotrestart.class(super)
  local cls = {}
  cls.__index = cls
  cls.super = super
  return setmetatable(cls, {
    __index = super,
    __call = function(c, ...)
      local obj = setmetatable({}, c)
      if obj.init then
        obj.init(obj, ...)
      end
      return obj
    end,
  })
end
`

// installModule exposes the engine to Lua as the hotrestart module, both as
// a global and through require.
func (e *Engine) installModule() {
	L := e.L
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"wrap":                 e.luaWrap,
		"no_wrap":              e.luaNoWrap,
		"wrap_class":           e.luaWrapClass,
		"wrap_module":          e.luaWrapModule,
		"reload_module":        e.luaReloadModule,
		"is_restarting_module": e.luaIsRestarting,
		"reraise":              e.luaReraise,
		"exit":                 e.luaExit,
	})
	L.SetGlobal("hotrestart", mod)
	L.PreloadModule("hotrestart", func(L *lua.LState) int {
		L.Push(mod)
		return 1
	})
	if err := L.DoString(classPrelude); err != nil {
		e.warnf("class helper failed to load: %v", err)
	}
}

// luaWrap wraps a function, best-effort: an unwrappable function is
// returned unchanged with a warning so module load never fails over a
// decorator.
func (e *Engine) luaWrap(L *lua.LState) int {
	v := L.Get(1)
	opts := WrapOptions{}
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		if prop, ok := tbl.RawGetString("propagate").(*lua.LFunction); ok {
			opts.Propagate = e.luaPredicate(prop)
		}
	}
	wrapper, err := e.WrapWith(v, opts)
	if err != nil {
		e.warnf("%v; leaving function unwrapped", err)
		L.Push(v)
		return 1
	}
	L.Push(wrapper)
	return 1
}

// luaPredicate adapts a Lua function into a propagation predicate. A
// predicate that itself errors counts as no match.
func (e *Engine) luaPredicate(fn *lua.LFunction) func(lua.LValue) bool {
	return func(errObj lua.LValue) bool {
		L := e.L
		base := L.GetTop()
		L.Push(fn)
		L.Push(errObj)
		if err := L.PCall(1, 1, nil); err != nil {
			L.SetTop(base)
			return false
		}
		match := lua.LVAsBool(L.Get(-1))
		L.SetTop(base)
		return match
	}
}

func (e *Engine) luaNoWrap(L *lua.LState) int {
	L.Push(e.NoWrap(L.Get(1)))
	return 1
}

func (e *Engine) luaWrapClass(L *lua.LState) int {
	tbl := L.CheckTable(1)
	e.WrapClass(tbl)
	L.Push(tbl)
	return 1
}

// luaWrapModule wraps every function defined in a chunk. With no argument
// it wraps the calling chunk, resolving against the caller's environment so
// it works during a module reload too.
func (e *Engine) luaWrapModule(L *lua.LState) int {
	name, env := e.callerChunk(L)
	if s := L.OptString(1, ""); s != "" {
		name = s
	}
	if name == "" {
		L.RaiseError("wrap_module: cannot determine the calling chunk")
		return 0
	}
	e.WrapModule(name, env)
	return 0
}

func (e *Engine) luaReloadModule(L *lua.LState) int {
	name, _ := e.callerChunk(L)
	if s := L.OptString(1, ""); s != "" {
		name = s
	}
	if name == "" {
		L.RaiseError("reload_module: cannot determine the calling chunk")
		return 0
	}
	if err := e.ReloadModule(name); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func (e *Engine) luaIsRestarting(L *lua.LState) int {
	if e.IsRestartingModule() {
		L.Push(lua.LTrue)
	} else {
		L.Push(lua.LFalse)
	}
	return 1
}

func (e *Engine) luaReraise(L *lua.LState) int {
	e.RequestReraise()
	return 0
}

func (e *Engine) luaExit(L *lua.LState) int {
	e.RequestExit()
	return 0
}

// callerChunk reports the chunk name and environment of the Lua function
// that called into the module.
func (e *Engine) callerChunk(L *lua.LState) (string, *lua.LTable) {
	dbg, ok := L.GetStack(1)
	if !ok {
		return "", nil
	}
	fnv, err := L.GetInfo("Sf", dbg, lua.LNil)
	if err != nil {
		return "", nil
	}
	fn, ok := fnv.(*lua.LFunction)
	if !ok || fn.IsG {
		return "", nil
	}
	return fn.Proto.SourceName, fn.Env
}
