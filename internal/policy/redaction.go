package policy

import "regexp"

// Voice transcripts in a finance assistant routinely carry spoken card and
// account numbers. They are masked before a turn is ever persisted; only the
// live pipeline sees the raw text.
var (
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern    = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	phonePattern   = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	accountPattern = regexp.MustCompile(`(?i)\b(account|acct|routing)(\s+number)?\s*[:#]?\s*\d{6,17}\b`)
)

// RedactTranscript masks high-risk identifiers in a conversation turn.
func RedactTranscript(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	next = accountPattern.ReplaceAllString(out, "[REDACTED_ACCOUNT]")
	changed = changed || next != out
	out = next

	// Card redaction runs before phone so long digit runs are not
	// misclassified as phone numbers.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}
