package device

import (
	"strings"
)

// NormalizeUUID converts a UUID string to the internal lookup format (lowercase, no dashes).
// A leading 0x is stripped, so "0x2902", "2902" and "2902" all normalize the same way.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	return strings.ReplaceAll(u, "-", "")
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
