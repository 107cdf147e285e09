package surrogate

import "sync"

// Registry retains the text of synthetic-source units so debugger listings
// can show the code a stale or current generation was compiled from. Entries
// are keyed by synthetic name and kept for the lifetime of the engine; a
// long session accumulates one small entry per reload.
type Registry struct {
	mu    sync.RWMutex
	units map[string]*Unit
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]*Unit)}
}

// Add records a unit under its synthetic name.
func (r *Registry) Add(u *Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[u.SyntheticName] = u
}

// Lookup returns the unit registered under name, if any.
func (r *Registry) Lookup(name string) (*Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[name]
	return u, ok
}

// Source returns the registered text for name. The second result reports
// whether the name is a known synthetic source.
func (r *Registry) Source(name string) (string, bool) {
	u, ok := r.Lookup(name)
	if !ok {
		return "", false
	}
	return u.Text, true
}

// Len reports the number of registered units.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}
