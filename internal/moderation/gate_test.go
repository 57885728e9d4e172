package moderation

import (
	"context"
	"strings"
	"testing"
)

type fakeClassifier struct {
	result *Classification
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (*Classification, error) {
	_ = ctx
	_ = text
	f.calls++
	return f.result, f.err
}

func flagged(categories ...string) *Classification {
	m := make(map[string]bool, len(categories))
	for _, c := range categories {
		m[c] = true
	}
	return &Classification{Flagged: true, Categories: m}
}

func TestEvaluateIllegalBlocksEveryTier(t *testing.T) {
	gate := NewGate(nil, true)
	inputs := []string{
		"where can I buy drugs around here",
		"how to make a bomb at home",
		"looking for a heroin dealer",
	}
	for _, tier := range []Tier{TierMinor, TierVerified} {
		for _, in := range inputs {
			r := gate.Evaluate(context.Background(), in, tier)
			if !r.Blocked {
				t.Fatalf("tier %v: %q should be blocked", tier, in)
			}
			if r.Category != "illegal" {
				t.Fatalf("tier %v: category = %q, want illegal", tier, r.Category)
			}
		}
	}
}

func TestEvaluateIllegalDefeatsLeetspeak(t *testing.T) {
	gate := NewGate(nil, true)
	r := gate.Evaluate(context.Background(), "how to m4ke a b0mb", TierVerified)
	if !r.Blocked {
		t.Fatalf("leetspeak variant should be blocked")
	}
	if r.Category != "illegal" {
		t.Fatalf("category = %q, want illegal", r.Category)
	}
}

func TestEvaluatePII(t *testing.T) {
	gate := NewGate(nil, true)
	cases := []struct {
		text     string
		category string
	}{
		{"call me at 010-1234-5678", "phone"},
		{"my email is somebody@example.com", "email"},
		{"card number 1234-5678-9012-3456", "card"},
	}
	for _, tc := range cases {
		r := gate.Evaluate(context.Background(), tc.text, TierVerified)
		if !r.Blocked {
			t.Fatalf("%q should be blocked", tc.text)
		}
		if r.Category != tc.category {
			t.Fatalf("%q: category = %q, want %q", tc.text, r.Category, tc.category)
		}
		if !strings.Contains(r.Reason, tc.category) {
			t.Fatalf("%q: reason %q should name the category", tc.text, r.Reason)
		}
	}
}

func TestEvaluateSpam(t *testing.T) {
	gate := NewGate(nil, true)

	r := gate.Evaluate(context.Background(), "aaaaaaaaaaaaaaa", TierVerified)
	if !r.Blocked || r.Category != "spam" {
		t.Fatalf("character run should be spam, got %+v", r)
	}

	r = gate.Evaluate(context.Background(), "hello hello hello hello hello", TierVerified)
	if !r.Blocked || r.Category != "spam" {
		t.Fatalf("repeated token should be spam, got %+v", r)
	}

	// nine repeats is under the run threshold
	r = gate.Evaluate(context.Background(), "noooooooo way", TierVerified)
	if r.Blocked {
		t.Fatalf("short run wrongly blocked: %+v", r)
	}
}

func TestHasCharRun(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"aaaaaaaaaa", true},   // exactly ten
		{"aaaaaaaaa", false},   // nine
		{"xaaaaaaaaaax", true}, // run inside a word
		{"ㅋㅋㅋㅋㅋㅋㅋㅋㅋㅋ", true}, // multibyte runes count as one each
		{"abababababababababab", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := hasCharRun(tc.text, 10); got != tc.want {
			t.Fatalf("hasCharRun(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestEvaluateClassifierVerdictPerTier(t *testing.T) {
	cls := &fakeClassifier{result: flagged("sexual")}

	minorGate := NewGate(cls, true)
	r := minorGate.Evaluate(context.Background(), "some flirty text", TierMinor)
	if !r.Blocked {
		t.Fatalf("minor tier should block flagged sexual content")
	}

	verifiedGate := NewGate(cls, true)
	r = verifiedGate.Evaluate(context.Background(), "some flirty text", TierVerified)
	if r.Blocked {
		t.Fatalf("verified tier should permit flagged sexual content, got %+v", r)
	}
}

func TestEvaluateMinorsCategoryBlocksVerified(t *testing.T) {
	cls := &fakeClassifier{result: flagged("sexual", "sexual/minors")}
	gate := NewGate(cls, true)

	r := gate.Evaluate(context.Background(), "whatever the text", TierVerified)
	if !r.Blocked {
		t.Fatalf("sexual/minors must block even the verified tier")
	}
	if r.Category != "sexual/minors" {
		t.Fatalf("category = %q, want sexual/minors", r.Category)
	}
}

func TestEvaluateClassifierOutage(t *testing.T) {
	cls := &fakeClassifier{err: ErrUnavailable}

	open := NewGate(cls, true)
	r := open.Evaluate(context.Background(), "a perfectly fine message", TierVerified)
	if r.Blocked {
		t.Fatalf("fail-open outage should pass, got %+v", r)
	}

	closed := NewGate(cls, false)
	r = closed.Evaluate(context.Background(), "a perfectly fine message", TierVerified)
	if !r.Blocked {
		t.Fatalf("fail-closed outage should block")
	}
	if r.Category != "unavailable" {
		t.Fatalf("category = %q, want unavailable", r.Category)
	}
}

func TestEvaluateStrictKeywordsMinorOnly(t *testing.T) {
	gate := NewGate(nil, true)

	r := gate.Evaluate(context.Background(), "let's watch some porn", TierMinor)
	if !r.Blocked {
		t.Fatalf("minor tier should hit the keyword fallback")
	}
	if r.MaskedText == "" || strings.Contains(r.MaskedText, "porn") {
		t.Fatalf("masked text should hide the match, got %q", r.MaskedText)
	}

	r = gate.Evaluate(context.Background(), "let's watch some porn", TierVerified)
	if r.Blocked {
		t.Fatalf("verified tier skips the keyword fallback, got %+v", r)
	}
}

func TestEvaluateSpacingEvasion(t *testing.T) {
	gate := NewGate(nil, true)
	r := gate.Evaluate(context.Background(), "s e x", TierMinor)
	if !r.Blocked {
		t.Fatalf("spaced-out keyword should still match")
	}
}

func TestEvaluateCleanTextPasses(t *testing.T) {
	cls := &fakeClassifier{result: &Classification{}}
	gate := NewGate(cls, true)

	r := gate.Evaluate(context.Background(), "tell me about your day in the village", TierMinor)
	if r.Blocked {
		t.Fatalf("clean text blocked: %+v", r)
	}
	if cls.calls != 1 {
		t.Fatalf("classifier calls = %d, want 1", cls.calls)
	}
}

func TestEvaluateIllegalShortCircuitsClassifier(t *testing.T) {
	cls := &fakeClassifier{result: &Classification{}}
	gate := NewGate(cls, true)

	gate.Evaluate(context.Background(), "how to make a bomb", TierVerified)
	if cls.calls != 0 {
		t.Fatalf("classifier should not run after an illegal-content block")
	}
}
