package slip

import (
	"regexp"
	"strings"
)

var tokenStripRe = regexp.MustCompile(`[^A-Za-z0-9-]+`)

// Tokenize collapses line breaks, splits on whitespace, and strips every
// character that is not alphanumeric or '-' from each token. Empty tokens
// are discarded; document order is preserved.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := tokenStripRe.ReplaceAllString(f, ""); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// NormalizeReference strips a user-entered reference down to its comparable
// form: alphanumerics and '-' only, uppercased.
func NormalizeReference(ref string) string {
	return strings.ToUpper(tokenStripRe.ReplaceAllString(ref, ""))
}

// DetectReference finds the token most likely to be the payment reference.
//
// When enteredRef is non-empty, tokens are scanned in document order and the
// first one related to the entered reference by a two-way substring test
// wins. The test runs both directions because OCR cropping and zero-padding
// routinely truncate one side or the other.
//
// With no anchor (or no anchored hit) the single longest token is returned,
// ties broken by first occurrence: transaction references tend to be the
// longest alphanumeric run on a slip. Returns nil only when the text yields
// no tokens at all.
func DetectReference(ocrText, enteredRef string) *string {
	tokens := Tokenize(ocrText)
	if len(tokens) == 0 {
		return nil
	}

	if entered := NormalizeReference(enteredRef); entered != "" {
		for _, tok := range tokens {
			up := strings.ToUpper(tok)
			if strings.Contains(entered, up) || strings.Contains(up, entered) {
				t := tok
				return &t
			}
		}
	}

	longest := tokens[0]
	for _, tok := range tokens[1:] {
		if len(tok) > len(longest) {
			longest = tok
		}
	}
	return &longest
}

// ReferencesMatch applies the same case-insensitive two-way substring rule
// to a detected token and the user-entered reference. Either side being
// empty after normalization is a non-match.
func ReferencesMatch(detected, entered string) bool {
	d := NormalizeReference(detected)
	e := NormalizeReference(entered)
	if d == "" || e == "" {
		return false
	}
	return strings.Contains(d, e) || strings.Contains(e, d)
}
