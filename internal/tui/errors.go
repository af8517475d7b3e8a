package tui

import "strings"

// humanMessage extracts the innermost message from a wrapped failure string.
// "storage: create project: database is locked" → "Database is locked"
func humanMessage(msg string) string {
	if msg == "" {
		return ""
	}
	if idx := strings.LastIndex(msg, ": "); idx != -1 && idx+2 < len(msg) {
		msg = msg[idx+2:]
	}
	if len(msg) > 0 {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}
	return msg
}
