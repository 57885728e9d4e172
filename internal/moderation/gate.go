package moderation

import (
	"context"
	"log"
	"strings"
)

// Tier is the trust tier governing moderation strictness.
type Tier int

const (
	// TierMinor is the strict policy for unverified users.
	TierMinor Tier = iota
	// TierVerified is the relaxed policy for adult-verified users.
	TierVerified
)

const minorsSexualCategory = "sexual/minors"

// Result of evaluating one text. MaskedText is best-effort and advisory
// only, never a security boundary; it is set when a strict-tier keyword
// match produced a displayable masked variant.
type Result struct {
	Blocked    bool
	Reason     string
	Category   string
	MaskedText string
}

// Gate runs the layered moderation pipeline over user input and model
// output alike. Stages short-circuit on the first block.
type Gate struct {
	classifier Classifier
	// failOpen: when the external classifier is unreachable, treat the text
	// as not flagged instead of blocking. This trades caution for
	// availability and is deliberately a visible, configured policy; every
	// outage is logged.
	failOpen bool
}

func NewGate(classifier Classifier, failOpen bool) *Gate {
	return &Gate{classifier: classifier, failOpen: failOpen}
}

func (g *Gate) Evaluate(ctx context.Context, text string, tier Tier) Result {
	normalized := Normalize(text)
	spaced := CollapseSpacing(normalized)

	// 1. Illegal content blocks every tier unconditionally.
	for _, re := range illegalPatterns {
		if re.MatchString(text) || re.MatchString(normalized) || re.MatchString(spaced) {
			return Result{Blocked: true, Reason: "illegal content detected", Category: "illegal"}
		}
	}

	// 2. Personal information always blocks and names the category.
	// Raw text only: normalization folds digits into letters.
	for _, p := range piiPatterns {
		if p.re.MatchString(text) {
			return Result{
				Blocked:  true,
				Reason:   "personal information detected: " + p.category,
				Category: p.category,
			}
		}
	}

	// 3. Spam.
	if isSpam(text) {
		return Result{Blocked: true, Reason: "detected as spam", Category: "spam"}
	}

	// 4. External category classifier.
	if g.classifier != nil {
		cls, err := g.classifier.Classify(ctx, text)
		switch {
		case err != nil:
			if !g.failOpen {
				log.Printf("moderation classifier outage, fail-closed policy blocks: %v", err)
				return Result{Blocked: true, Reason: "moderation temporarily unavailable", Category: "unavailable"}
			}
			// Fail-open: outage treated as not flagged. Loud on purpose.
			log.Printf("moderation classifier outage, fail-open policy passes: %v", err)
		case cls.Flagged:
			if r := g.applyClassification(cls, tier); r.Blocked {
				return r
			}
		}
	}

	// 5. Keyword/pattern fallback, strict tier only.
	if tier == TierMinor {
		if r := checkStrictKeywords(text, normalized, spaced); r.Blocked {
			return r
		}
	}

	return Result{}
}

// applyClassification maps flagged categories to a verdict per tier. The
// verified tier permits sexual categories except sexual content involving
// minors, which blocks for everyone.
func (g *Gate) applyClassification(cls *Classification, tier Tier) Result {
	for category, flagged := range cls.Categories {
		if !flagged {
			continue
		}
		if category == minorsSexualCategory {
			return Result{Blocked: true, Reason: "inappropriate content detected", Category: category}
		}
		if tier == TierVerified && strings.HasPrefix(category, "sexual") {
			continue
		}
		return Result{Blocked: true, Reason: "inappropriate content detected", Category: category}
	}
	return Result{}
}

// isSpam flags a single character repeated 10+ times, or any token longer
// than 2 characters appearing 5+ times.
func isSpam(text string) bool {
	if hasCharRun(text, 10) {
		return true
	}

	counts := make(map[string]int)
	for _, word := range strings.Fields(text) {
		if len(word) <= 2 {
			continue
		}
		counts[word]++
		if counts[word] >= 5 {
			return true
		}
	}
	return false
}

// hasCharRun reports whether any rune repeats n or more times in a row.
func hasCharRun(text string, n int) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run >= n {
			return true
		}
	}
	return false
}

func checkStrictKeywords(raw, normalized, spaced string) Result {
	for _, word := range bannedWords {
		if strings.Contains(normalized, word) || strings.Contains(spaced, word) {
			return Result{
				Blocked:    true,
				Reason:     "inappropriate language detected",
				Category:   "banned_word",
				MaskedText: maskWord(raw, word),
			}
		}
	}

	for _, re := range suspiciousPatterns {
		if re.MatchString(raw) || re.MatchString(normalized) || re.MatchString(spaced) {
			return Result{
				Blocked:    true,
				Reason:     "inappropriate content detected",
				Category:   "suspicious",
				MaskedText: re.ReplaceAllStringFunc(raw, mask),
			}
		}
	}
	return Result{}
}

func mask(match string) string {
	return strings.Repeat("*", len([]rune(match)))
}

func maskWord(text, word string) string {
	masked := text
	lower := strings.ToLower(masked)
	for {
		idx := strings.Index(lower, word)
		if idx < 0 {
			return masked
		}
		masked = masked[:idx] + strings.Repeat("*", len(word)) + masked[idx+len(word):]
		lower = strings.ToLower(masked)
	}
}
