// Package utils provides shared helpers for logging, text, and vectors.
package utils

import "strings"

// Truncate shortens s to at most maxLen runes, appending "..." when anything was cut.
// maxLen <= 0 returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// Preview collapses all whitespace runs in s to single spaces and truncates the result.
func Preview(s string, maxLen int) string {
	return Truncate(strings.Join(strings.Fields(s), " "), maxLen)
}
