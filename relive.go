// Package relive adds edit-and-continue debugging to an embedded Lua
// interpreter.
//
// A wrapped function that raises an error drops the program into a
// post-mortem debugger on the still-live stack. The user edits the source
// file on disk and continues; only the failed definition is re-parsed,
// re-compiled, and re-run in place with the original arguments and the
// original captured variables. The rest of the program keeps its state.
package relive

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dshills/relive/internal/debugger"
	"github.com/dshills/relive/internal/source"
	"github.com/dshills/relive/internal/surrogate"
)

// Fidelity selects how reloaded code identifies its source in stack traces.
type Fidelity = surrogate.Fidelity

// Fidelity modes.
const (
	FidelityOriginal  = surrogate.FidelityOriginal
	FidelitySurrogate = surrogate.FidelitySurrogate
)

// Engine owns the edit-and-continue machinery for one Lua state. It is not
// itself goroutine-safe beyond what the underlying LState allows: all Lua
// execution must happen on one goroutine, and the engine rides along with it.
// Wrapped functions may be called from coroutines of that state; the failing
// call re-runs on the coroutine's stack, while reloads and debugger
// evaluation run on the main state.
type Engine struct {
	L *lua.LState

	out             io.Writer
	in              io.Reader
	backends        []debugger.Backend
	backendOverride string
	remote          *debugger.Remote

	cache    *source.Cache
	registry *surrogate.Registry
	watcher  *source.Watcher
	watch    bool

	mu               sync.Mutex
	fidelity         Fidelity
	reloadOnContinue bool
	firstSession     bool
	exitAll          bool
	reraiseOnce      bool
	restartDepth     int

	wraps    map[*lua.LFunction]*wrapped // keyed by wrapper
	byBase   map[*lua.LFunction]*wrapped // keyed by current base
	byAnchor map[string]*wrapped         // keyed by file + def path
	noWrap   map[*lua.LFunction]bool

	// memSource holds text for chunks loaded from strings rather than
	// files, so the debugger can still list them.
	memSource map[string]string
}

// Option configures an Engine.
type Option func(*Engine)

// WithOutput directs debugger and warning output. Defaults to stderr.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) { e.out = w }
}

// WithInput sets the stream the plain REPL backend reads from. Defaults to
// stdin.
func WithInput(r io.Reader) Option {
	return func(e *Engine) { e.in = r }
}

// WithBackends replaces the default debugger backend list. Order is the
// selection preference.
func WithBackends(backends ...debugger.Backend) Option {
	return func(e *Engine) { e.backends = backends }
}

// WithDebugger forces a backend by name, like the RELIVE_DEBUGGER
// environment variable.
func WithDebugger(name string) Option {
	return func(e *Engine) { e.backendOverride = name }
}

// WithRemoteAddr enables the TCP JSON backend on addr.
func WithRemoteAddr(addr string) Option {
	return func(e *Engine) { e.remote = debugger.NewRemote(addr) }
}

// WithFidelity sets the initial reload fidelity mode.
func WithFidelity(f Fidelity) Option {
	return func(e *Engine) { e.fidelity = f }
}

// WithReloadOnContinue sets whether "continue" re-reads source before
// re-running. Enabled by default; disabling it turns continue into a plain
// retry.
func WithReloadOnContinue(on bool) Option {
	return func(e *Engine) { e.reloadOnContinue = on }
}

// WithWatch makes "continue" wait for the next filesystem change to the
// failed file when it has not been edited yet, instead of immediately
// re-running unchanged code.
func WithWatch(on bool) Option {
	return func(e *Engine) { e.watch = on }
}

// WithHelpBanner controls the one-time help banner shown when the first
// post-mortem session opens. On by default.
func WithHelpBanner(on bool) Option {
	return func(e *Engine) { e.firstSession = on }
}

// New creates an Engine for L.
func New(L *lua.LState, opts ...Option) *Engine {
	e := &Engine{
		L:                L,
		out:              os.Stderr,
		in:               os.Stdin,
		cache:            source.NewCache(64),
		registry:         surrogate.NewRegistry(),
		fidelity:         FidelityOriginal,
		reloadOnContinue: true,
		firstSession:     true,
		wraps:            make(map[*lua.LFunction]*wrapped),
		byBase:           make(map[*lua.LFunction]*wrapped),
		byAnchor:         make(map[string]*wrapped),
		noWrap:           make(map[*lua.LFunction]bool),
		memSource:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.backends == nil {
		e.backends = []debugger.Backend{
			debugger.NewTerm(),
			debugger.NewREPL(e.in, e.out),
		}
	}
	if e.remote != nil {
		e.backends = append(e.backends, e.remote)
	}
	e.installModule()
	return e
}

// Close releases engine resources. The LState stays open; it belongs to the
// caller.
func (e *Engine) Close() error {
	var err error
	if e.remote != nil {
		err = e.remote.Close()
	}
	if e.watcher != nil {
		if werr := e.watcher.Close(); err == nil {
			err = werr
		}
	}
	return err
}

// SetFidelity switches the reload fidelity mode for subsequent reloads.
func (e *Engine) SetFidelity(f Fidelity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fidelity = f
}

// SetReloadOnContinue toggles source reloading on continue.
func (e *Engine) SetReloadOnContinue(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reloadOnContinue = on
}

// RequestExit stops all retry loops: every wrapped call in flight re-raises
// instead of opening further sessions. Call it from the debugger to let the
// program unwind and exit.
func (e *Engine) RequestExit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exitAll = true
}

// RequestReraise makes the next failing wrapped call propagate its error
// without opening a session. One-shot.
func (e *Engine) RequestReraise() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reraiseOnce = true
}

// IsRestartingModule reports whether a full module reload is executing.
// Module-level code can branch on it to skip side effects that must not run
// twice.
func (e *Engine) IsRestartingModule() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restartDepth > 0
}

// DoFile loads and runs a Lua file with delegation-call rewriting applied,
// registering its text so wrapped definitions inside it can be anchored.
func (e *Engine) DoFile(path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return e.run(string(text), path)
}

// DoString runs Lua source held in memory under the given chunk name. Code
// loaded this way can be wrapped and debugged, but not reloaded from disk.
func (e *Engine) DoString(text, name string) error {
	e.mu.Lock()
	e.memSource[name] = text
	e.mu.Unlock()
	return e.run(text, name)
}

func (e *Engine) run(text, name string) error {
	fn, err := e.load(text, name)
	if err != nil {
		return err
	}
	e.L.Push(fn)
	return e.L.PCall(0, lua.MultRet, nil)
}

func (e *Engine) load(text, name string) (*lua.LFunction, error) {
	chunk, err := source.Parse(text, name)
	if err != nil {
		return nil, err
	}
	if err := surrogate.RewriteAll(chunk); err != nil {
		return nil, err
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, err
	}
	return e.L.NewFunctionFromProto(proto), nil
}

// lookupSource resolves a chunk name to text: synthetic reload units first,
// then in-memory chunks, then disk.
func (e *Engine) lookupSource(name string) (string, bool) {
	if text, ok := e.registry.Source(name); ok {
		return text, true
	}
	e.mu.Lock()
	text, ok := e.memSource[name]
	e.mu.Unlock()
	if ok {
		return text, true
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// evalInFrame evaluates an expression against a captured frame: frame
// locals and captured variables shadow globals, writes stay in the scratch
// environment.
func (e *Engine) evalInFrame(tb *debugger.Traceback, frame int, expr string) (string, error) {
	f, ok := tb.Lookup(frame)
	if !ok {
		return "", &EvalError{Expr: expr, Err: errNoFrame}
	}

	name := "(eval)"
	chunk, err := parse.Parse(strings.NewReader("return "+expr), name)
	if err != nil {
		// Statements are allowed too: `p x = 1` style assignment.
		chunk, err = parse.Parse(strings.NewReader(expr), name)
		if err != nil {
			return "", &EvalError{Expr: expr, Err: err}
		}
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return "", &EvalError{Expr: expr, Err: err}
	}

	L := e.L
	env := L.NewTable()
	for _, v := range f.Locals {
		if v.Raw != nil {
			env.RawSetString(v.Name, v.Raw)
		}
	}
	for _, v := range f.Upvalues {
		if v.Raw != nil {
			env.RawSetString(v.Name, v.Raw)
		}
	}
	// Reads see frame variables first, then globals; assignments to names
	// that are not frame variables land in the real globals so the debugger
	// can fix program state.
	mt := L.NewTable()
	L.SetField(mt, "__index", e.globals())
	L.SetField(mt, "__newindex", e.globals())
	L.SetMetatable(env, mt)

	fn := L.NewFunctionFromProto(proto)
	fn.Env = env

	base := L.GetTop()
	L.Push(fn)
	if perr := L.PCall(0, lua.MultRet, nil); perr != nil {
		L.SetTop(base)
		return "", &EvalError{Expr: expr, Err: perr}
	}
	n := L.GetTop() - base
	if n == 0 {
		return "nil", nil
	}
	parts := make([]string, 0, n)
	for i := base + 1; i <= base+n; i++ {
		parts = append(parts, debugger.RenderValue(L.Get(i)))
	}
	L.SetTop(base)
	return strings.Join(parts, "\t"), nil
}

func (e *Engine) globals() *lua.LTable {
	return e.L.G.Global
}

func (e *Engine) warnf(format string, args ...interface{}) {
	if e.out == nil {
		return
	}
	fmt.Fprintf(e.out, "relive: "+format+"\n", args...)
}
