//go:build !linux && !darwin

package logger

// Color detection is unix-only; elsewhere we play it safe.
func isTerminal(fd uintptr) bool { return false }
