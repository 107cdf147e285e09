package source

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcherOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.lua")
	if err := os.WriteFile(path, []byte("function f() end\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	var mu sync.Mutex
	var got []Event
	w.OnChange(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	if err := w.Add(path); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if err := os.WriteFile(path, []byte("function f() return 1 end\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no change event received")
}

func TestWatcherWait(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.lua")
	if err := os.WriteFile(path, []byte("a = 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.WriteFile(path, []byte("a = 2\n"), 0o644)
	}()

	ev, err := w.Wait(ctx, path)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	abs, _ := filepath.Abs(path)
	if ev.Path != abs {
		t.Errorf("Wait() path = %q, want %q", ev.Path, abs)
	}
}

func TestWatcherWaitCancelled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.lua")
	if err := os.WriteFile(path, []byte("a = 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := w.Wait(ctx, path); err != context.DeadlineExceeded {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestWatcherClosed(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.Add("nope.lua"); err != ErrWatcherClosed {
		t.Errorf("Add() after Close error = %v, want ErrWatcherClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
