package billing

import "math"

// Base rate per 1000 API tokens, by provider. Unknown providers fall back
// to the default rate.
var baseRates = map[string]float64{
	"openai":    1.0,
	"anthropic": 1.5,
	"grok":      1.2,
	"ollama":    0.5,
}

const (
	defaultBaseRate = 1.0

	// MinTurnCost is the floor for any turn, and therefore the smallest
	// balance that lets a turn start.
	MinTurnCost = 0.5
)

// Cost computes the token cost of one turn: base rate × tokens/1000,
// scaled by a response-length multiplier (1.2 above 1000 characters, 1.5
// above 2000), floored at MinTurnCost and rounded half-up to one decimal
// place. responseLength is a rune count, not bytes.
func Cost(providerID string, apiTokensUsed int, responseLength int) float64 {
	rate, ok := baseRates[providerID]
	if !ok {
		rate = defaultBaseRate
	}

	multiplier := 1.0
	switch {
	case responseLength > 2000:
		multiplier = 1.5
	case responseLength > 1000:
		multiplier = 1.2
	}

	cost := rate * (float64(apiTokensUsed) / 1000.0) * multiplier
	if cost < MinTurnCost {
		cost = MinTurnCost
	}
	return roundHalfUp1(cost)
}

func roundHalfUp1(x float64) float64 {
	return math.Floor(x*10+0.5) / 10
}
