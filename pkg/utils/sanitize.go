package utils

import (
	"regexp"
	"strings"
)

var (
	invalidFilenameChars   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	consecutiveUnderscores = regexp.MustCompile(`_+`)
)

const maxFilenameLength = 100

// SanitizeFilename turns a site key or host into a safe single path component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ ")

	if len(sanitized) > maxFilenameLength {
		sanitized = strings.Trim(sanitized[:maxFilenameLength], "_ ")
	}
	if sanitized == "" {
		return "untitled"
	}
	return sanitized
}
