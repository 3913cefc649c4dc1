// Package slip implements the pure validation heuristics for bank-transfer
// slips: amount normalization and reconciliation, reference detection, and
// slip-type classification. The package performs no I/O so the same logic
// backs both the synchronous verdict shown to the submitter and the
// authoritative record reviewed by staff.
package slip

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Tolerance is the fixed absolute tolerance for amount reconciliation,
// chosen to absorb OCR digit and rounding noise on small transaction amounts.
const Tolerance = 1.0

var (
	amountStripRe = regexp.MustCompile(`[^0-9.\-]`)

	// amountShapeRe matches currency-amount-shaped numbers: digits grouped in
	// 1-3s separated by comma or space, or a plain decimal with 1-2 places.
	amountShapeRe = regexp.MustCompile(`\d{1,3}(?:[ ,]\d{3})+(?:\.\d{1,2})?|\d+\.\d{1,2}`)

	bareNumberRe = regexp.MustCompile(`\d+(?:\.\d{1,2})?`)
)

// amountLineKeywords mark lines likely to carry the transaction amount.
var amountLineKeywords = []string{"amount", "total", "paid", "mvr"}

// ParseAmount normalizes a free-form numeric string (thousands separators,
// currency symbols, surrounding garbage) into a comparable number. It returns
// nil when no finite number can be recovered and never fails any other way.
func ParseAmount(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.Join(strings.Fields(s), "")
	s = amountStripRe.ReplaceAllString(s, "")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}

// AmountsMatch compares a detected amount against an expected amount within
// Tolerance. A nil result means the comparison could not be made because one
// side is unknown; that is distinct from a definite mismatch.
func AmountsMatch(detected, expected *float64) *bool {
	if detected == nil || expected == nil {
		return nil
	}
	ok := math.Abs(*detected-*expected) <= Tolerance
	return &ok
}

// ReconcileAmounts parses both raw operands through ParseAmount and compares
// them. Unparseable input degrades to nil rather than an error, consistent
// with the parser's no-fail contract.
func ReconcileAmounts(detectedRaw, expectedRaw string) *bool {
	return AmountsMatch(ParseAmount(detectedRaw), ParseAmount(expectedRaw))
}

// ExtractAmount scans OCR text for the most plausible transaction amount.
// Lines carrying an amount keyword ("Amount: MVR 1,250.00") win over a bare
// amount-shaped number elsewhere in the document.
func ExtractAmount(text string) *float64 {
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range amountLineKeywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			if m := amountShapeRe.FindString(line); m != "" {
				return ParseAmount(m)
			}
			if m := bareNumberRe.FindString(line); m != "" {
				return ParseAmount(m)
			}
		}
	}
	if m := amountShapeRe.FindString(text); m != "" {
		return ParseAmount(m)
	}
	return nil
}
