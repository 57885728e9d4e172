package ai

import (
	"context"
	"fmt"
	"unicode/utf8"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is a completed generation. TokensUsed is the provider-reported
// total when available; otherwise it is the chars/4 estimate (see
// EstimateTokens) and must be treated as an approximation, not exact
// accounting.
type Result struct {
	Content    string
	TokensUsed int
}

// Provider is a single generation backend. Implementations must honor ctx
// cancellation and deadlines on every request.
type Provider interface {
	Generate(ctx context.Context, system string, messages []Message) (*Result, error)
}

// ProviderError wraps any upstream generation failure. Retry policy belongs
// to callers; nothing in this package retries.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// EstimateTokens approximates token usage as ceil(chars/4) for providers
// that do not report exact usage. Counted in runes so multibyte text is not
// over-estimated.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
