package slip

import (
	"strings"
)

// MinConfidence is the OCR confidence floor below which text is never
// trusted to represent a slip, regardless of content.
const MinConfidence = 60.0

const (
	minStructuredLength = 20
	minAlnumRatio       = 0.35
)

// negativePhrases indicate the OCR engine itself reported failure. They are
// checked before any keyword so that an engine apology containing "deposit"
// or "transfer" cannot slip through.
var negativePhrases = []string{
	"does not contain",
	"no text",
	"no visible",
	"not contain any visible",
	"unable to read",
	"could not",
}

// negativeKeywords mark document types known to not be transfer slips.
var negativeKeywords = []string{
	"invoice",
	"note",
	"photo",
	"random",
}

// positiveKeywords are terms expected on a genuine bank-transfer slip.
var positiveKeywords = []string{
	"deposit",
	"transfer",
	"transaction",
	"amount",
	"mvr",
	"usd",
	"bank",
	"account",
	"reference",
}

// Classification is the outcome of the slip-type gate, carrying the name of
// the rule that decided so rejections stay explainable to staff.
type Classification struct {
	Accepted bool   `json:"accepted"`
	Rule     string `json:"rule"`
}

type document struct {
	text       string
	lower      string
	confidence *float64
}

// classifierRule is one entry in the ordered decision list. The first rule
// whose match fires decides; rules later in the list are unreachable once an
// earlier one matches.
type classifierRule struct {
	name   string
	accept bool
	match  func(d *document) bool
}

// classifierRules is ordered from most certain rejection to weakest positive
// evidence. The order is load-bearing: a negative phrase must beat a positive
// keyword, and the confidence gate beats everything.
var classifierRules = []classifierRule{
	{"low_confidence", false, func(d *document) bool {
		return d.confidence != nil && *d.confidence < MinConfidence
	}},
	{"empty_text", false, func(d *document) bool {
		return strings.TrimSpace(d.text) == ""
	}},
	{"ocr_failure_phrase", false, func(d *document) bool {
		return containsAny(d.lower, negativePhrases)
	}},
	{"negative_keyword", false, func(d *document) bool {
		return containsAny(d.lower, negativeKeywords)
	}},
	{"positive_keyword", true, func(d *document) bool {
		return containsAny(d.lower, positiveKeywords)
	}},
	{"unstructured_text", false, func(d *document) bool {
		total, alnum := charStats(d.text)
		return total < minStructuredLength || float64(alnum)/float64(total) < minAlnumRatio
	}},
	{"amount_pattern", true, func(d *document) bool {
		return amountShapeRe.MatchString(d.text)
	}},
	{"no_evidence", false, func(d *document) bool {
		return true
	}},
}

// Classify runs the ordered rule list over OCR output and returns the first
// decision reached. confidence is the OCR engine's 0-100 score, nil when the
// engine reported none.
func Classify(text string, confidence *float64) Classification {
	d := &document{
		text:       text,
		lower:      strings.ToLower(text),
		confidence: confidence,
	}
	for _, r := range classifierRules {
		if r.match(d) {
			return Classification{Accepted: r.accept, Rule: r.name}
		}
	}
	// The final catch-all rule always matches.
	return Classification{Accepted: false, Rule: "no_evidence"}
}

// IsPaymentSlip reports whether OCR output plausibly represents a bank
// transfer slip.
func IsPaymentSlip(text string, confidence *float64) bool {
	return Classify(text, confidence).Accepted
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// charStats counts non-whitespace and alphanumeric characters.
func charStats(text string) (total, alnum int) {
	for _, r := range text {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
		case (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			total++
			alnum++
		default:
			total++
		}
	}
	return total, alnum
}
