package debugger

import (
	"fmt"
	"os"
)

// EnvBackend names the environment variable that overrides backend
// selection. Accepted values are backend names or "auto".
const EnvBackend = "RELIVE_DEBUGGER"

// Select picks the backend for a session: an explicit name wins, otherwise
// the first available backend in the given preference order.
func Select(backends []Backend, override string) (Backend, error) {
	if override == "" {
		override = os.Getenv(EnvBackend)
	}
	if override != "" && override != "auto" {
		for _, b := range backends {
			if b.Name() == override {
				if !b.Available() {
					return nil, fmt.Errorf("debugger backend %q is not available here", override)
				}
				return b, nil
			}
		}
		return nil, fmt.Errorf("unknown debugger backend %q", override)
	}
	for _, b := range backends {
		if b.Available() {
			return b, nil
		}
	}
	return nil, ErrNoBackend
}
