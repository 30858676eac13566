//go:build !taskresdebug

package taskres

// assertf is a no-op in release builds; see debug.go for the
// -tags taskresdebug build, which panics on a false condition.
func assertf(cond bool, format string, args ...any) {}
