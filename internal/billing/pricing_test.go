package billing

import "testing"

func TestCost(t *testing.T) {
	cases := []struct {
		name     string
		provider string
		tokens   int
		length   int
		want     float64
	}{
		{"openai base", "openai", 1000, 500, 1.0},
		{"anthropic long response", "anthropic", 1000, 2500, 2.3},
		{"grok medium response", "grok", 1000, 1500, 1.4},
		{"ollama cheap", "ollama", 1000, 500, 0.5},
		{"unknown provider uses default rate", "mystery", 1000, 500, 1.0},
		{"tiny turn hits the floor", "openai", 10, 20, 0.5},
		{"zero tokens still costs the floor", "openai", 0, 0, 0.5},
		{"multiplier boundary at 1000 chars", "openai", 1000, 1000, 1.0},
		{"multiplier boundary at 1001 chars", "openai", 1000, 1001, 1.2},
		{"multiplier boundary at 2000 chars", "openai", 1000, 2000, 1.2},
		{"multiplier boundary at 2001 chars", "openai", 1000, 2001, 1.5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Cost(tc.provider, tc.tokens, tc.length)
			if got != tc.want {
				t.Fatalf("Cost(%q, %d, %d) = %v, want %v", tc.provider, tc.tokens, tc.length, got, tc.want)
			}
		})
	}
}

func TestRoundHalfUp1(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{2.25, 2.3},
		{2.24, 2.2},
		{0.5, 0.5},
		{1.05, 1.1},
	}
	for _, tc := range cases {
		if got := roundHalfUp1(tc.in); got != tc.want {
			t.Fatalf("roundHalfUp1(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
