// Package util provides small helpers shared across the library.
package util

// SafeTruncate safely truncates a string to maxLen characters without
// panicking. Returns the original string if it is shorter than maxLen.
// Used when logging credential prefixes, where only the first few
// characters may be shown.
//
// If maxLen is negative, it is treated as 0 and returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
