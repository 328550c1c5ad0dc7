package evaluator

import "strings"

// Normalize converts CRLF to LF, strips trailing whitespace from every line and
// drops trailing blank lines. Everything else is kept byte for byte.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\f\v")
	}
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}

// Match reports whether actual equals expected after normalization.
func Match(actual, expected string) bool {
	return Normalize(actual) == Normalize(expected)
}
