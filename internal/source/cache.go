package source

import (
	"os"
	"sync"

	"github.com/yuin/gopher-lua/ast"
)

// DefaultCacheSize bounds the number of cached parses.
const DefaultCacheSize = 32

type cacheEntry struct {
	text  string
	chunk []ast.Stmt
	defs  []*Definition
}

// Cache memoizes parsed chunks keyed by file path and content, so wrapping
// every function of a module parses the file once. Entries are invalidated
// when file content changes and evicted beyond a fixed bound.
//
// Cached chunks are shared; callers must treat them as read-only. Reload
// pipelines that rewrite nodes parse fresh text instead.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string
	max     int
}

// NewCache creates a parse cache with the given capacity.
// A non-positive capacity falls back to DefaultCacheSize.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		max:     max,
	}
}

// Load reads, parses, and indexes the file, reusing the cached parse when
// the content is unchanged.
func (c *Cache) Load(path string) (string, []ast.Stmt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, &LocateError{Path: path, Reason: ErrSourceRead, Err: err}
	}
	text := string(data)

	c.mu.Lock()
	if e, ok := c.entries[path]; ok && e.text == text {
		chunk := e.chunk
		c.mu.Unlock()
		return text, chunk, nil
	}
	c.mu.Unlock()

	chunk, err := Parse(text, path)
	if err != nil {
		return text, nil, err
	}

	c.mu.Lock()
	c.store(path, &cacheEntry{text: text, chunk: chunk})
	c.mu.Unlock()
	return text, chunk, nil
}

// DefinitionsFor returns the definition index for the file, computing and
// caching it on first use.
func (c *Cache) DefinitionsFor(path string) ([]*Definition, error) {
	_, chunk, err := c.Load(path)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		// Evicted between Load and here; index without caching.
		return Definitions(chunk), nil
	}
	if e.defs == nil {
		e.defs = Definitions(e.chunk)
	}
	return e.defs, nil
}

// Invalidate drops the cached parse for a file.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; !ok {
		return
	}
	delete(c.entries, path)
	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// store inserts an entry, evicting the oldest beyond capacity.
// Caller holds the mutex.
func (c *Cache) store(path string, e *cacheEntry) {
	if _, ok := c.entries[path]; !ok {
		c.order = append(c.order, path)
	}
	c.entries[path] = e
	for len(c.order) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}
