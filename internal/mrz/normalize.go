package mrz

import (
	"regexp"
	"strings"
)

const (
	td3Width = 44
	td1Width = 30

	// maxNormalizePasses bounds the fixed-point loop; every pass either
	// turns a letter into a filler or pads, so real input settles in two.
	maxNormalizePasses = 8
)

var (
	// P or I followed by a filler look-alike and three letters/fillers.
	leadingTypeRe = regexp.MustCompile(`^[PI][SLCK][A-Z<]{3}`)
	// a filler, a misread second filler, then the next name letter.
	separatorRe = regexp.MustCompile(`<[CL][A-Z]`)
	// trailing run of fillers and their look-alikes.
	trailingRunRe = regexp.MustCompile(`[LCK<]{3,}$`)
)

// Normalize repairs the filler/letter confusions OCR typically makes on an
// MRZ line and pads lines that lost their trailing fillers. It never fails:
// if a repair panics the line is returned unchanged.
//
// The ordered rule chain is applied until the line stops changing, which
// makes Normalize idempotent.
func Normalize(line string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = line
		}
	}()

	current := line
	for i := 0; i < maxNormalizePasses; i++ {
		next := normalizePass(current)
		if next == current {
			break
		}
		current = next
	}
	return current
}

// NormalizeAll normalizes every line, preserving order.
func NormalizeAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = Normalize(l)
	}
	return out
}

func normalizePass(line string) string {
	line = repairLeadingType(line)
	line = repairSeparators(line)
	line = repairTrailingFillers(line)
	return repairLength(line)
}

func repairLeadingType(line string) string {
	if !leadingTypeRe.MatchString(line) {
		return line
	}
	return line[:1] + string(Filler) + line[2:]
}

func repairSeparators(line string) string {
	// Matches can overlap ("<CLA"), so rescan until nothing is left.
	for separatorRe.MatchString(line) {
		line = separatorRe.ReplaceAllStringFunc(line, func(m string) string {
			return "<<" + m[2:]
		})
	}
	return line
}

func repairTrailingFillers(line string) string {
	loc := trailingRunRe.FindStringIndex(line)
	if loc == nil {
		return line
	}
	run := line[loc[0]:]
	if !strings.ContainsAny(run, "LCK") {
		return line
	}
	return line[:loc[0]] + strings.Repeat(string(Filler), len(run))
}

func repairLength(line string) string {
	n := len(line)
	switch {
	case strings.HasPrefix(line, "P<") && n > td1Width && n < td3Width:
		return padRight(line, td3Width)
	case strings.HasPrefix(line, "I<") && n > minCandidateLength && n < td1Width:
		return padRight(line, td1Width)
	}
	return line
}

func padRight(line string, width int) string {
	if len(line) >= width {
		return line
	}
	return line + strings.Repeat(string(Filler), width-len(line))
}
