// Package logutil keeps untrusted strings safe to embed in log lines.
package logutil

import "strings"

// SanitizeForLog flattens line breaks and tabs to spaces and drops other
// control characters, so remote-supplied text cannot forge log entries.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case r < 32:
			return -1
		default:
			return r
		}
	}, s)
}
