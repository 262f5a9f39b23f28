// Package strings normalizes free-text lists that arrive from collaborators
// (authorization reasons, credential codes, compliance flags).
package strings

import (
	"strings"
)

// DedupeAndTrim trims each value and drops blanks and repeats, keeping the
// first occurrence.
//
//	DedupeAndTrim([]string{"  expired CPR ", "expired CPR", ""})
//	// []string{"expired CPR"}
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimUpper is DedupeAndTrim for code-like values that compare
// case-insensitively. Values are returned upper-cased.
//
//	DedupeAndTrimUpper([]string{"cpr", " CPR", "tb_test"})
//	// []string{"CPR", "TB_TEST"}
func DedupeAndTrimUpper(values []string) []string {
	return dedupe(values, func(s string) string {
		return strings.ToUpper(strings.TrimSpace(s))
	})
}

func dedupe(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		n := normalize(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
