// utils/validator.go - Input sanitizing
package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// SanitizeInput removes potentially harmful characters
func SanitizeInput(input string) string {
	// Remove leading/trailing spaces
	input = strings.TrimSpace(input)

	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	return input
}

// SafePathSegment turns an identifier into a single object-key segment.
func SafePathSegment(input string) string {
	seg := unsafePathChars.ReplaceAllString(SanitizeInput(input), "_")
	seg = strings.Trim(seg, "_")
	if seg == "" {
		return "unknown"
	}
	return seg
}

// DownloadFilename strips directories and quoting characters so the name can be used
// inside a Content-Disposition header.
func DownloadFilename(name, fallback string) string {
	name = filepath.Base(strings.ReplaceAll(SanitizeInput(name), `\`, "/"))
	name = strings.Map(func(r rune) rune {
		if r == '"' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return fallback
	}
	return name
}
