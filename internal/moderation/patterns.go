package moderation

import "regexp"

// Illegal-content patterns are checked against every trust tier with no
// override: contraband trade, weapons manufacture, sexual content involving
// minors, self-harm instruction, trafficking of personal data.
var illegalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:buy|sell|score|order)(?:ing)?\s+(?:drugs|meth|cocaine|heroin|fentanyl)\b`),
	regexp.MustCompile(`(?i)\b(?:drugs|meth|cocaine|heroin|fentanyl)\s+(?:for sale|dealer|supplier)\b`),
	regexp.MustCompile(`(?i)\bhow\s+to\s+(?:make|build|manufacture)\s+(?:a\s+)?(?:bomb|explosive|gun|firearm|weapon)s?\b`),
	regexp.MustCompile(`(?i)\b(?:child|minor|underage|preteen)\w*\s*(?:porn\w*|sexual|sex|nude)\b`),
	regexp.MustCompile(`(?i)\b(?:suicide|self[- ]?harm|kill(?:ing)?\s+(?:myself|yourself))\s*(?:method|instruction|how[- ]?to|guide)s?\b`),
	regexp.MustCompile(`(?i)\bhow\s+to\s+(?:kill|murder)\s+(?:myself|someone|a person)\b`),
	regexp.MustCompile(`(?i)\b(?:sell|buy|leak|dump)(?:ing)?\s+(?:personal\s+data|identity|ssn|id\s+numbers?)\b`),
}

// Personal-information detectors. Each carries the category reported back to
// the caller. Matched against the raw text: normalization must not be able
// to hide digits.
var piiPatterns = []struct {
	category string
	re       *regexp.Regexp
}{
	// card and national id run before phone: the phone pattern would
	// otherwise match inside their longer digit runs
	{"card", regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)},
	{"national_id", regexp.MustCompile(`\b\d{6}-?\d{7}\b`)},
	{"phone", regexp.MustCompile(`\b\d{3}[-.]?\d{3,4}[-.]?\d{4}\b`)},
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
}

// Strict-tier keyword fallback, applied after the external classifier for
// unverified users only.
var bannedWords = []string{
	"gore",
	"snuff",
	"bestiality",
	"incest",
	"rape",
}

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:kill|murder|torture|mutilate)\b`),
	regexp.MustCompile(`(?i)\b(?:sex|porn|erotic|nude|nsfw)\b`),
	regexp.MustCompile(`(?i)\b(?:hate|slur|racial abuse)\b`),
	regexp.MustCompile(`(?i)\b(?:illegal|black market|smuggl\w+)\b`),
}
