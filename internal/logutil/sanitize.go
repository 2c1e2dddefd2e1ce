package logutil

import "strings"

// maxLogValueLen bounds how much of a single value reaches the log.
const maxLogValueLen = 512

// SanitizeForLog removes newlines and control characters from user-provided
// strings to prevent log injection attacks where attackers could inject
// fake log entries by including newline characters. Values longer than
// maxLogValueLen are truncated with a "..." marker.
func SanitizeForLog(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		// Drop C0 controls and DEL; ESC is how terminal escapes sneak in.
		if r >= 32 && r != 0x7f {
			result.WriteRune(r)
		}
	}
	out := result.String()
	if len(out) > maxLogValueLen {
		out = out[:maxLogValueLen] + "..."
	}
	return out
}

// Truncate returns at most the last n bytes of s, prefixed with "..." when
// anything was cut. Used for diagnostic buffer excerpts.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
