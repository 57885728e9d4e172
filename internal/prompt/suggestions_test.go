package prompt

import "testing"

func TestParseSuggestions(t *testing.T) {
	reply := `*She looks up from her book.* Oh, you're back!

[SUGGESTIONS]
1. Ask what she's reading
2. Sit down next to her
3. Tell her about your day
[/SUGGESTIONS]`

	cleaned, suggestions := ParseSuggestions(reply)

	if cleaned != "*She looks up from her book.* Oh, you're back!" {
		t.Fatalf("cleaned = %q", cleaned)
	}
	want := []string{"Ask what she's reading", "Sit down next to her", "Tell her about your day"}
	if len(suggestions) != len(want) {
		t.Fatalf("got %d suggestions, want %d: %v", len(suggestions), len(want), suggestions)
	}
	for i := range want {
		if suggestions[i] != want[i] {
			t.Fatalf("suggestion[%d] = %q, want %q", i, suggestions[i], want[i])
		}
	}
}

func TestParseSuggestionsNoBlock(t *testing.T) {
	reply := "Just a plain reply with no block."
	cleaned, suggestions := ParseSuggestions(reply)
	if cleaned != reply {
		t.Fatalf("cleaned = %q, want reply unchanged", cleaned)
	}
	if suggestions != nil {
		t.Fatalf("suggestions = %v, want nil", suggestions)
	}
}

func TestParseSuggestionsUnnumberedLines(t *testing.T) {
	reply := `Reply text.
[SUGGESTIONS]
first option
second option
[/SUGGESTIONS]`

	cleaned, suggestions := ParseSuggestions(reply)
	if cleaned != "Reply text." {
		t.Fatalf("cleaned = %q", cleaned)
	}
	if len(suggestions) != 2 || suggestions[0] != "first option" || suggestions[1] != "second option" {
		t.Fatalf("suggestions = %v", suggestions)
	}
}

func TestParseSuggestionsEmptyBlock(t *testing.T) {
	reply := "Reply text.\n[SUGGESTIONS]\n[/SUGGESTIONS]"
	cleaned, suggestions := ParseSuggestions(reply)
	if cleaned != "Reply text." {
		t.Fatalf("cleaned = %q", cleaned)
	}
	if len(suggestions) != 0 {
		t.Fatalf("suggestions = %v, want none", suggestions)
	}
}
