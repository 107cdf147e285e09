package debugger

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Remote is the machine backend: newline-delimited JSON over TCP, meant for
// editor and IDE integrations. Each post-mortem announces itself as an event
// and then answers requests until the client sends a decision.
//
// Requests are objects with a "command" field:
//
//	{"command":"stack"}
//	{"command":"locals","frame":0}
//	{"command":"evaluate","frame":0,"expression":"x + 1"}
//	{"command":"source","name":"account.lua"}
//	{"command":"continue"} | {"command":"abort"} | {"command":"reload"} | {"command":"quit"}
type Remote struct {
	addr string

	mu sync.Mutex
	ln net.Listener
}

// NewRemote creates a remote backend listening on addr once the first
// session opens. An empty addr disables the backend.
func NewRemote(addr string) *Remote {
	return &Remote{addr: addr}
}

// Name implements Backend.
func (r *Remote) Name() string { return "remote" }

// Available implements Backend.
func (r *Remote) Available() bool { return r.addr != "" }

// Listen binds the listener eagerly and returns the bound address, which
// matters when addr requests an ephemeral port.
func (r *Remote) Listen() (net.Addr, error) {
	ln, err := r.listener()
	if err != nil {
		return nil, err
	}
	return ln.Addr(), nil
}

// Close stops listening.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	err := r.ln.Close()
	r.ln = nil
	return err
}

func (r *Remote) listener() (net.Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln != nil {
		return r.ln, nil
	}
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return nil, err
	}
	r.ln = ln
	return ln, nil
}

// PostMortem implements Backend. It blocks until a client connects and
// sends a decision command. A dropped connection aborts the call rather
// than retrying silently.
func (r *Remote) PostMortem(s *Session) (Decision, error) {
	ln, err := r.listener()
	if err != nil {
		return DecisionAbort, err
	}
	conn, err := ln.Accept()
	if err != nil {
		return DecisionAbort, err
	}
	defer conn.Close()
	return r.serve(conn, s)
}

func (r *Remote) serve(conn net.Conn, s *Session) (Decision, error) {
	w := bufio.NewWriter(conn)
	if err := writeJSON(w, stoppedEvent(s)); err != nil {
		return DecisionAbort, err
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		req := sc.Text()
		if !gjson.Valid(req) {
			if err := writeJSON(w, errorResponse("invalid json")); err != nil {
				return DecisionAbort, err
			}
			continue
		}
		cmd := gjson.Get(req, "command").String()
		switch cmd {
		case "continue":
			return DecisionContinue, nil
		case "abort":
			return DecisionAbort, nil
		case "reload":
			return DecisionFullReload, nil
		case "quit":
			return DecisionQuit, nil
		}
		resp, err := r.handle(cmd, req, s)
		if err != nil {
			resp = errorResponse(err.Error())
		}
		if err := writeJSON(w, resp); err != nil {
			return DecisionAbort, err
		}
	}
	return DecisionAbort, sc.Err()
}

func (r *Remote) handle(cmd, req string, s *Session) (string, error) {
	switch cmd {
	case "stack":
		return stackResponse(s), nil
	case "locals":
		frame := int(gjson.Get(req, "frame").Int())
		return localsResponse(s, frame)
	case "evaluate":
		frame := int(gjson.Get(req, "frame").Int())
		expr := gjson.Get(req, "expression").String()
		if s.Eval == nil {
			return "", fmt.Errorf("evaluation unavailable")
		}
		out, err := s.Eval(frame, expr)
		if err != nil {
			return "", err
		}
		resp, _ := sjson.Set(`{"type":"evaluate"}`, "result", out)
		return resp, nil
	case "source":
		name := gjson.Get(req, "name").String()
		if s.SourceLookup == nil {
			return "", fmt.Errorf("source unavailable")
		}
		text, ok := s.SourceLookup(name)
		if !ok {
			return "", fmt.Errorf("source unavailable for %s", name)
		}
		resp, _ := sjson.Set(`{"type":"source"}`, "text", text)
		resp, _ = sjson.Set(resp, "name", name)
		return resp, nil
	default:
		return "", fmt.Errorf("unknown command %q", cmd)
	}
}

func stoppedEvent(s *Session) string {
	out := `{"type":"stopped"}`
	out, _ = sjson.Set(out, "def", s.Def)
	out, _ = sjson.Set(out, "file", s.File)
	out, _ = sjson.Set(out, "error", s.Err)
	if s.ReloadErr != nil {
		out, _ = sjson.Set(out, "reloadError", s.ReloadErr.Error())
	}
	return out
}

func stackResponse(s *Session) string {
	out := `{"type":"stack","frames":[]}`
	if s.Traceback == nil {
		return out
	}
	for i := range s.Traceback.Frames {
		f := &s.Traceback.Frames[i]
		entry := `{}`
		entry, _ = sjson.Set(entry, "index", i)
		entry, _ = sjson.Set(entry, "name", f.Name)
		entry, _ = sjson.Set(entry, "source", f.Source)
		entry, _ = sjson.Set(entry, "line", f.CurrentLine)
		entry, _ = sjson.Set(entry, "builtin", f.IsGo)
		out, _ = sjson.SetRaw(out, "frames.-1", entry)
	}
	return out
}

func localsResponse(s *Session, frame int) (string, error) {
	if s.Traceback == nil {
		return "", fmt.Errorf("no stack captured")
	}
	f, ok := s.Traceback.Lookup(frame)
	if !ok {
		return "", fmt.Errorf("no frame %d", frame)
	}
	out := `{"type":"locals","locals":[],"upvalues":[]}`
	for _, v := range f.Locals {
		entry, _ := sjson.Set(`{}`, "name", v.Name)
		entry, _ = sjson.Set(entry, "value", v.Value)
		out, _ = sjson.SetRaw(out, "locals.-1", entry)
	}
	for _, v := range f.Upvalues {
		entry, _ := sjson.Set(`{}`, "name", v.Name)
		entry, _ = sjson.Set(entry, "value", v.Value)
		out, _ = sjson.SetRaw(out, "upvalues.-1", entry)
	}
	return out, nil
}

func errorResponse(msg string) string {
	out, _ := sjson.Set(`{"type":"error"}`, "message", msg)
	return out
}

func writeJSON(w *bufio.Writer, line string) error {
	if _, err := w.WriteString(line + "\n"); err != nil {
		return err
	}
	return w.Flush()
}
