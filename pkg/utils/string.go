package utils

// Truncate shortens s to maxLen bytes, appending an ellipsis when it cut
// anything. Used for transcript previews in logs.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
