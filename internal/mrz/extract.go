package mrz

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Filler is the MRZ padding and separator character.
const Filler = '<'

const (
	minCandidateLength = 20
	maxCandidateLength = 100
	minFillers         = 2
)

// Extract selects the lines of OCR text that look like MRZ lines.
//
// A line is kept when it contains at least one MRZ character, its
// whitespace-free length is within [20, 100] and it either holds two or more
// fillers or is exactly 30, 36 or 44 characters long. Order is preserved.
func Extract(text string) []string {
	var candidates []string
	for _, raw := range splitLines(text) {
		line := strings.ToUpper(stripWhitespace(strings.TrimSpace(raw)))
		if isCandidate(line) {
			candidates = append(candidates, line)
		}
	}
	return candidates
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// isCandidate measures length in characters, not bytes.
func isCandidate(line string) bool {
	n := utf8.RuneCountInString(line)
	if n < minCandidateLength || n > maxCandidateLength {
		return false
	}
	if strings.IndexFunc(line, isMRZRune) < 0 {
		return false
	}
	if strings.Count(line, string(Filler)) >= minFillers {
		return true
	}
	return n == 30 || n == 36 || n == 44
}

func isMRZRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == Filler
}
