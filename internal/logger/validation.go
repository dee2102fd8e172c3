package logger

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FilenameValidationError explains why a log filename pattern was rejected.
type FilenameValidationError struct {
	Pattern    string
	Reason     string
	Suggestion string
}

func (e *FilenameValidationError) Error() string {
	msg := fmt.Sprintf("filename pattern %q %s", e.Pattern, e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (try %q)", e.Suggestion)
	}
	return msg
}

// Characters rejected on at least one supported platform.
const invalidFilenameChars = `<>:"|?*`

// ValidateFilenamePattern checks that pattern is a bare filename that is
// valid on every platform. Directories belong in the directory setting.
func ValidateFilenamePattern(pattern string) error {
	if pattern == "" {
		return nil
	}

	if strings.ContainsAny(pattern, `/\`) {
		sep := "'/'"
		if strings.Contains(pattern, `\`) {
			sep = `'\'`
		}
		return &FilenameValidationError{
			Pattern:    pattern,
			Reason:     "contains path separator " + sep,
			Suggestion: filepath.Base(strings.ReplaceAll(pattern, `\`, "/")),
		}
	}

	if bad := findInvalidChars(pattern); len(bad) > 0 {
		quoted := make([]string, len(bad))
		for i, r := range bad {
			quoted[i] = fmt.Sprintf("'%c'", r)
		}
		return &FilenameValidationError{
			Pattern:    pattern,
			Reason:     "contains invalid characters " + strings.Join(quoted, ", "),
			Suggestion: strings.Map(func(r rune) rune {
				if strings.ContainsRune(invalidFilenameChars, r) || r < 32 {
					return '-'
				}
				return r
			}, pattern),
		}
	}

	if strings.Trim(pattern, ". ") == "" {
		return &FilenameValidationError{Pattern: pattern, Reason: "has no usable name", Suggestion: defaultFilenamePattern}
	}
	return nil
}

func findInvalidChars(name string) []rune {
	var bad []rune
	seen := make(map[rune]bool)
	for _, r := range name {
		if (strings.ContainsRune(invalidFilenameChars, r) || r < 32) && !seen[r] {
			seen[r] = true
			bad = append(bad, r)
		}
	}
	return bad
}
