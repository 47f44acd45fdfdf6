package utils

import "strings"

// TrimCandidate strips the "a=" and "candidate:" prefixes browsers put in
// front of an ICE candidate line.
func TrimCandidate(candidate string) string {
	c := strings.TrimSpace(candidate)
	c = strings.TrimPrefix(c, "a=")
	return strings.TrimPrefix(c, "candidate:")
}
