//go:build !linux && !darwin

package logger

// isTerminal is a conservative fallback for platforms without termios.
func isTerminal(uintptr) bool {
	return false
}
