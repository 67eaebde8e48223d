package fieldmap

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes a raw header into its comparable form:
// lower-cased, NBSP/underscore/hyphen runs turned into single spaces,
// punctuation and symbols removed, whitespace collapsed and trimmed.
//
// Letters and digits of every script survive. Input is composed to NFC
// first so precomposed and decomposed letters agree; combining marks left
// over after composition are dropped like any other non-letter, which keeps
// the result idempotent.
func Normalize(raw string) string {
	s := norm.NFC.String(strings.TrimSpace(raw))
	// cases.Caser is stateful, so one per call.
	s = cases.Lower(language.Und).String(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case r == ' ' || r == '_' || r == '-' || unicode.IsSpace(r):
			pendingSpace = true
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	// Dropping punctuation can bring composable letters together (Hangul jamo).
	return norm.NFC.String(b.String())
}
