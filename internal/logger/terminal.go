package logger

import "golang.org/x/term"

// isTerminal reports whether the file descriptor is attached to a
// terminal, which decides whether log output gets ANSI colors.
func isTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}
