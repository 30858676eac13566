//go:build taskresdebug

package taskres

import "fmt"

// assertf panics with a formatted message if cond is false. Only compiled
// in with -tags taskresdebug, mirroring HQASSERT's debug-only semantics
// in the original C: release builds (the default) pay nothing for these
// checks beyond the boolean test itself.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("taskres: assertion failed: "+format, args...))
	}
}
