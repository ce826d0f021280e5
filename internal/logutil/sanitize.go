package logutil

import "strings"

// Sanitize strips newlines and other control characters from user-provided
// strings before they are written to the log, so a hostile hostname or path
// cannot forge log entries.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return ' '
		}
		if r < 32 {
			return -1
		}
		return r
	}, s)
}

// Truncate shortens s to at most n bytes, appending "..." when it was cut.
// Used for command strings in log lines.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
