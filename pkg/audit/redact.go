package audit

import "regexp"

type piiRule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
}

// Longer numeric patterns run first so a card number is not half-eaten by
// the phone rule.
var piiRules = []piiRule{
	{"credit_card", regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`), "[CARD]"},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[EMAIL]"},
	{"phone", regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`), "[PHONE]"},
}

// Redact replaces emails, phone numbers, SSNs and card numbers with
// placeholders and returns the kinds it found.
func Redact(text string) (string, []string) {
	var found []string
	for _, r := range piiRules {
		if r.pattern.MatchString(text) {
			text = r.pattern.ReplaceAllString(text, r.replacement)
			found = append(found, r.name)
		}
	}
	return text, found
}
