package prompt

import (
	"regexp"
	"strings"
)

var (
	suggestionsBlock = regexp.MustCompile(`\[SUGGESTIONS\]([\s\S]*?)\[/SUGGESTIONS\]`)
	numberedPrefix   = regexp.MustCompile(`^\d+\.\s*`)
)

// ParseSuggestions extracts the delimited suggestions block from a model
// reply. It returns the reply with the block removed and the numbered lines
// as trimmed strings. A reply without a block comes back unchanged with no
// suggestions.
func ParseSuggestions(reply string) (string, []string) {
	m := suggestionsBlock.FindStringSubmatch(reply)
	if m == nil {
		return reply, nil
	}

	cleaned := strings.TrimSpace(suggestionsBlock.ReplaceAllString(reply, ""))

	var suggestions []string
	for _, line := range strings.Split(m[1], "\n") {
		line = strings.TrimSpace(numberedPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			suggestions = append(suggestions, line)
		}
	}

	return cleaned, suggestions
}
