package debugger

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const helpText = `post-mortem commands:
  bt            show the captured stack
  up / down     move one frame outward / inward
  frame N       jump to frame N
  locals        show the current frame's locals and captured variables
  p EXPR        evaluate EXPR in the current frame
  list          show source around the current line
  continue, c   reload the edited definition and re-run the call
  abort, a      re-raise the error to the caller
  reload, R     re-execute the whole module, then re-run the call
  quit, q       stop retrying and unwind
  help, h       show this message`

const banner = `edit-and-continue session: fix the source on disk, then "continue"
to re-run only the failed function with the new code.`

// REPL is the plain line-oriented backend. It works on any byte stream,
// which also makes it the scriptable backend for tests.
type REPL struct {
	In  io.Reader
	Out io.Writer
}

// NewREPL creates a REPL backend over the given streams.
func NewREPL(in io.Reader, out io.Writer) *REPL {
	return &REPL{In: in, Out: out}
}

// Name implements Backend.
func (r *REPL) Name() string { return "repl" }

// Available implements Backend. A REPL only needs its streams.
func (r *REPL) Available() bool { return r.In != nil && r.Out != nil }

// PostMortem implements Backend. EOF on input aborts: an exhausted script
// or closed pipe must not spin forever.
func (r *REPL) PostMortem(s *Session) (Decision, error) {
	loop := newCmdLoop(s, r.Out)
	loop.intro()

	sc := bufio.NewScanner(r.In)
	for {
		fmt.Fprint(r.Out, "(relive) ")
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return DecisionAbort, err
			}
			fmt.Fprintln(r.Out, "eof, aborting")
			return DecisionAbort, nil
		}
		if dec, done := loop.exec(sc.Text()); done {
			return dec, nil
		}
	}
}

// cmdLoop is the command interpreter shared by the interactive backends.
type cmdLoop struct {
	s     *Session
	out   io.Writer
	frame int
}

func newCmdLoop(s *Session, out io.Writer) *cmdLoop {
	return &cmdLoop{s: s, out: out, frame: innermostLua(s.Traceback)}
}

// innermostLua skips leading builtin frames so the session opens on code the
// user can actually edit.
func innermostLua(tb *Traceback) int {
	if tb == nil {
		return 0
	}
	for i, f := range tb.Frames {
		if !f.IsGo {
			return i
		}
	}
	return 0
}

func (c *cmdLoop) intro() {
	if c.s.First {
		fmt.Fprintln(c.out, banner)
	}
	if c.s.ReloadErr != nil {
		fmt.Fprintf(c.out, "previous reload failed: %v\n", c.s.ReloadErr)
	}
	fmt.Fprintf(c.out, "error in %s: %s\n", c.s.Def, c.s.Err)
	if f, ok := c.currentFrame(); ok {
		fmt.Fprintf(c.out, "  at %s\n", f.Title())
	}
}

func (c *cmdLoop) currentFrame() (*Frame, bool) {
	if c.s.Traceback == nil {
		return nil, false
	}
	return c.s.Traceback.Lookup(c.frame)
}

// exec runs one command line. done reports that a decision was reached.
func (c *cmdLoop) exec(line string) (dec Decision, done bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "continue", "c":
		return DecisionContinue, true
	case "abort", "a":
		return DecisionAbort, true
	case "reload", "R":
		return DecisionFullReload, true
	case "quit", "q":
		return DecisionQuit, true
	case "help", "h":
		fmt.Fprintln(c.out, helpText)
	case "bt", "where":
		c.backtrace()
	case "up", "u":
		c.move(1)
	case "down", "d":
		c.move(-1)
	case "frame", "f":
		c.jump(args)
	case "locals":
		c.locals()
	case "p", "print":
		c.eval(strings.TrimSpace(strings.TrimPrefix(line, cmd)))
	case "list", "l":
		c.list()
	default:
		fmt.Fprintf(c.out, "unknown command %q (try help)\n", cmd)
	}
	return 0, false
}

func (c *cmdLoop) backtrace() {
	tb := c.s.Traceback
	if tb == nil || len(tb.Frames) == 0 {
		fmt.Fprintln(c.out, "no stack captured")
		return
	}
	for i := range tb.Frames {
		marker := "  "
		if i == c.frame {
			marker = "> "
		}
		fmt.Fprintf(c.out, "%s#%d %s\n", marker, i, tb.Frames[i].Title())
	}
}

func (c *cmdLoop) move(delta int) {
	c.jumpTo(c.frame + delta)
}

func (c *cmdLoop) jump(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: frame N")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(c.out, "usage: frame N")
		return
	}
	c.jumpTo(n)
}

func (c *cmdLoop) jumpTo(n int) {
	f, ok := func() (*Frame, bool) {
		if c.s.Traceback == nil {
			return nil, false
		}
		return c.s.Traceback.Lookup(n)
	}()
	if !ok {
		fmt.Fprintf(c.out, "no frame %d\n", n)
		return
	}
	c.frame = n
	fmt.Fprintf(c.out, "#%d %s\n", n, f.Title())
}

func (c *cmdLoop) locals() {
	f, ok := c.currentFrame()
	if !ok {
		fmt.Fprintln(c.out, "no frame selected")
		return
	}
	if f.IsGo {
		fmt.Fprintln(c.out, "builtin frame has no locals")
		return
	}
	for _, v := range f.Locals {
		fmt.Fprintf(c.out, "  %s = %s\n", v.Name, v.Value)
	}
	for _, v := range f.Upvalues {
		fmt.Fprintf(c.out, "  %s = %s (captured)\n", v.Name, v.Value)
	}
	if len(f.Locals) == 0 && len(f.Upvalues) == 0 {
		fmt.Fprintln(c.out, "  (none)")
	}
}

func (c *cmdLoop) eval(expr string) {
	if expr == "" {
		fmt.Fprintln(c.out, "usage: p EXPR")
		return
	}
	if c.s.Eval == nil {
		fmt.Fprintln(c.out, "evaluation unavailable")
		return
	}
	out, err := c.s.Eval(c.frame, expr)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, out)
}

const listContext = 5

func (c *cmdLoop) list() {
	f, ok := c.currentFrame()
	if !ok || f.IsGo {
		fmt.Fprintln(c.out, "no source for this frame")
		return
	}
	if c.s.SourceLookup == nil {
		fmt.Fprintln(c.out, "source unavailable")
		return
	}
	text, ok := c.s.SourceLookup(f.Source)
	if !ok {
		fmt.Fprintf(c.out, "source unavailable for %s\n", f.Source)
		return
	}
	lines := strings.Split(text, "\n")
	lo := f.CurrentLine - listContext
	if lo < 1 {
		lo = 1
	}
	hi := f.CurrentLine + listContext
	if hi > len(lines) {
		hi = len(lines)
	}
	for n := lo; n <= hi; n++ {
		marker := "   "
		if n == f.CurrentLine {
			marker = "-> "
		}
		fmt.Fprintf(c.out, "%s%4d  %s\n", marker, n, lines[n-1])
	}
}
