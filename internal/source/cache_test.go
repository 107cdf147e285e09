package source

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestCacheLoadReusesParse(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mod.lua", "function f() return 1 end\n")

	c := NewCache(4)
	_, chunk1, err := c.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	_, chunk2, err := c.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(chunk1) == 0 || &chunk1[0] != &chunk2[0] {
		t.Error("Load() should reuse the cached chunk for unchanged content")
	}
}

func TestCacheDetectsContentChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mod.lua", "function f() return 1 end\n")

	c := NewCache(4)
	_, chunk1, err := c.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	writeFile(t, dir, "mod.lua", "function f() return 2 end\n")
	_, chunk2, err := c.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(chunk1) > 0 && len(chunk2) > 0 && &chunk1[0] == &chunk2[0] {
		t.Error("Load() should reparse after content change")
	}
}

func TestCacheInvalidate(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mod.lua", "function f() return 1 end\n")

	c := NewCache(4)
	if _, _, err := c.Load(path); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	c.Invalidate(path)
	if c.Len() != 0 {
		t.Errorf("Len() after Invalidate = %d, want 0", c.Len())
	}
}

func TestCacheEviction(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(2)
	for _, name := range []string{"a.lua", "b.lua", "c.lua"} {
		path := writeFile(t, dir, name, "function f() return 1 end\n")
		if _, _, err := c.Load(path); err != nil {
			t.Fatalf("Load(%s) error: %v", name, err)
		}
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2 after eviction", c.Len())
	}
}

func TestCacheDefinitionsFor(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mod.lua", "function f() return 1 end\nfunction g() return 2 end\n")

	c := NewCache(4)
	defs, err := c.DefinitionsFor(path)
	if err != nil {
		t.Fatalf("DefinitionsFor() error: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("DefinitionsFor() = %d defs, want 2", len(defs))
	}
	defs2, err := c.DefinitionsFor(path)
	if err != nil {
		t.Fatalf("DefinitionsFor() error: %v", err)
	}
	if defs[0] != defs2[0] {
		t.Error("DefinitionsFor() should reuse the cached index")
	}
}

func TestCacheMissingFile(t *testing.T) {
	c := NewCache(4)
	if _, _, err := c.Load(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}
