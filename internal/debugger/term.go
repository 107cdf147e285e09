package debugger

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	frameStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	bannerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

// Term is the raw-terminal backend: line editing and history via
// golang.org/x/term, styled output via lipgloss. Preferred when stdin is a
// tty.
type Term struct {
	in  *os.File
	out *os.File
}

// NewTerm creates a terminal backend over stdin/stdout.
func NewTerm() *Term {
	return &Term{in: os.Stdin, out: os.Stdout}
}

// Name implements Backend.
func (t *Term) Name() string { return "term" }

// Available implements Backend.
func (t *Term) Available() bool {
	return t.in != nil && term.IsTerminal(int(t.in.Fd()))
}

// PostMortem implements Backend.
func (t *Term) PostMortem(s *Session) (Decision, error) {
	fd := int(t.in.Fd())
	prev, err := term.MakeRaw(fd)
	if err != nil {
		// Fall back to the plain stream REPL rather than refusing the
		// session.
		return NewREPL(t.in, t.out).PostMortem(s)
	}
	defer term.Restore(fd, prev)

	tty := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{t.in, t.out}, "(relive) ")

	loop := newCmdLoop(s, tty)
	t.intro(tty, loop, s)

	for {
		line, err := tty.ReadLine()
		if err != nil {
			fmt.Fprintln(tty, "eof, aborting")
			return DecisionAbort, nil
		}
		if dec, done := loop.exec(line); done {
			return dec, nil
		}
	}
}

func (t *Term) intro(tty *term.Terminal, loop *cmdLoop, s *Session) {
	if s.First {
		fmt.Fprintln(tty, bannerStyle.Render(banner))
	}
	if s.ReloadErr != nil {
		fmt.Fprintln(tty, errStyle.Render(fmt.Sprintf("previous reload failed: %v", s.ReloadErr)))
	}
	fmt.Fprintln(tty, errStyle.Render(fmt.Sprintf("error in %s: %s", s.Def, s.Err)))
	if f, ok := loop.currentFrame(); ok {
		fmt.Fprintln(tty, frameStyle.Render("  at "+f.Title()))
	}
}
