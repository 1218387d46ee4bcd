//go:build linux

package logger

import "golang.org/x/sys/unix"

const ioctlTermiosReq = unix.TCGETS
