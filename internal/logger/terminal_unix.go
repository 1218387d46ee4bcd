//go:build linux || darwin

package logger

import "golang.org/x/sys/unix"

// isTerminal reports whether the file descriptor refers to a terminal.
func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), ioctlTermiosReq)
	return err == nil
}
