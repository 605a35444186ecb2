package executor

import "strings"

// NormalizeOutput canonicalizes program output before comparison: CRLF and
// bare CR become LF, surrounding whitespace is stripped, and trailing empty
// lines disappear with it. The transformation is idempotent, so expected
// outputs that were stored already-normalized compare unchanged.
func NormalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

// OutputsMatch reports whether actual and expected stdout are equal after
// normalization.
func OutputsMatch(actual, expected string) bool {
	return NormalizeOutput(actual) == NormalizeOutput(expected)
}
