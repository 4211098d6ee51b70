package ocr

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fillerLookalikes are glyphs engines commonly emit for the MRZ filler.
var fillerLookalikes = map[rune]bool{
	'«': true,
	'‹': true,
	'〈': true,
	'＜': true,
	'≪': true,
}

// CleanText folds OCR output onto the MRZ repertoire: accents are removed
// via NFKD, filler look-alikes become '<' and letters are upper-cased. Line
// structure is preserved.
func CleanText(text string) string {
	t := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			if fillerLookalikes[r] {
				return '<'
			}
			return r
		}),
		norm.NFC,
	)
	out, _, err := transform.String(t, text)
	if err != nil {
		out = text
	}
	return strings.ToUpper(out)
}
