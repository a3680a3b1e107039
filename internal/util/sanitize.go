// Package util contains small internal helpers shared across packages.
package util

import "strings"

// SanitizeKey restricts an identifier to [A-Za-z0-9_-] so it is safe to use
// as a file name component. Any other rune becomes '_', preventing path
// traversal through user-supplied node ids or conversation names.
func SanitizeKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
