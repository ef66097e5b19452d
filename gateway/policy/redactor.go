package policy

import (
	"regexp"
)

// redactionRule pairs a PII pattern with its replacement placeholder.
type redactionRule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
}

// Redactor scrubs PII from text destined for the audit log. It operates
// on copies only; the live request is never mutated.
type Redactor struct {
	rules []redactionRule
}

// NewRedactor creates a redactor with the default rule set: email-like,
// phone-like and national-id-like tokens.
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []redactionRule{
			{
				name:        "email",
				pattern:     regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
				replacement: "[EMAIL_REDACTED]",
			},
			{
				name:        "ssn",
				pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
				replacement: "[SSN_REDACTED]",
			},
			{
				name:        "phone",
				pattern:     regexp.MustCompile(`\b(\+?\d{1,3}[-. ]?)?(\(?\d{3}\)?[-. ]?)\d{3}[-. ]?\d{4}\b`),
				replacement: "[PHONE_REDACTED]",
			},
			{
				name:        "credit_card",
				pattern:     regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
				replacement: "[CARD_REDACTED]",
			},
		},
	}
}

// Redact returns a copy of text with all PII tokens replaced. The input
// is returned unchanged when nothing matches.
func (r *Redactor) Redact(text string) string {
	out := text
	for _, rule := range r.rules {
		out = rule.pattern.ReplaceAllString(out, rule.replacement)
	}
	return out
}

// ContainsPII reports whether text matches any redaction rule, and which.
func (r *Redactor) ContainsPII(text string) (bool, []string) {
	var matched []string
	for _, rule := range r.rules {
		if rule.pattern.MatchString(text) {
			matched = append(matched, rule.name)
		}
	}
	return len(matched) > 0, matched
}
