package moderation

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// leetFold maps the common look-alike substitutions seen in filter evasion
// attempts back to their letters.
var leetFold = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"8", "b",
	"$", "s",
	"@", "a",
	"!", "i",
	"+", "t",
)

// Normalize folds text into a canonical form for pattern matching: NFKC
// normalization, lower-casing, leetspeak folding, and whitespace collapse.
// Callers keep the raw text alongside; patterns run against both so digit
// folding cannot hide digit-based matches (phone numbers, card numbers).
func Normalize(text string) string {
	t := norm.NFKC.String(text)
	t = strings.ToLower(t)
	t = leetFold.Replace(t)
	return strings.Join(strings.Fields(t), " ")
}

// CollapseSpacing removes all whitespace, defeating "s e x"-style spacing
// evasion for word matching.
func CollapseSpacing(text string) string {
	return strings.Join(strings.Fields(text), "")
}
