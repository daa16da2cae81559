package domain

import (
	"path"
	"strings"
)

// CleanSourceKey normalizes a slash-separated source key. Keys that are
// empty, absolute or climb out of their root are rejected.
func CleanSourceKey(key string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	clean := path.Clean(trimmed)
	if trimmed == "" || clean == "." || path.IsAbs(clean) || clean == ".." ||
		strings.HasPrefix(clean, "../") || hasVolumeName(clean) {
		return "", &ValidationError{
			Field:      "source",
			Value:      key,
			Constraint: "relative to the source root",
			Message:    "source escapes its root directory",
		}
	}
	return clean, nil
}

// hasVolumeName reports a Windows drive prefix such as "C:".
func hasVolumeName(p string) bool {
	return len(p) >= 2 && p[1] == ':' &&
		(('a' <= p[0] && p[0] <= 'z') || ('A' <= p[0] && p[0] <= 'Z'))
}
