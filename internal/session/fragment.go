package session

import "strings"

// SplitSentences cuts text into sentence fragments for incremental
// synthesis. A boundary is '.', '!' or '?' followed by whitespace; the
// trailing remainder is its own fragment. Blank input yields nil.
func SplitSentences(text string) []string {
	var out []string
	rest := strings.TrimSpace(text)
	for rest != "" {
		idx := sentenceBoundary(rest)
		if idx < 0 {
			out = append(out, rest)
			break
		}
		out = append(out, rest[:idx+1])
		rest = strings.TrimLeft(rest[idx+1:], " \t\n\r")
	}
	return out
}

func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
