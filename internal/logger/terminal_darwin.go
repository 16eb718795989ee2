//go:build darwin

package logger

import "golang.org/x/sys/unix"

const termiosRequest = unix.TIOCGETA
