package interchange

import (
	"regexp"
	"strings"
)

var (
	resourcePathPart = regexp.MustCompile(`^[\w\-.]+$`)

	reservedFileNames = map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true,
	}
)

// ValidResourcePath reports whether p may be used as a file path inside a Common Cartridge:
// relative, no parent references, no empty parts, no reserved names, only word characters, dots and dashes.
func ValidResourcePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "..") || strings.Contains(p, "//") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if reservedFileNames[strings.ToUpper(part)] || !resourcePathPart.MatchString(part) {
			return false
		}
	}
	return true
}
