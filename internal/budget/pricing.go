package budget

import "strings"

type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// per million tokens
var pricing = map[string]ModelPricing{
	"claude-opus-4-5-20251101":  {15.00, 75.00},
	"claude-sonnet-4-20250514":  {3.00, 15.00},
	"claude-haiku-3-5-20241022": {0.80, 4.00},

	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"o1":          {15.00, 60.00},
	"o1-mini":     {3.00, 12.00},

	"kimi-k2-0711-preview": {1.00, 4.00},
}

func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		// local models are free; anything else gets a conservative guess
		if strings.HasPrefix(model, "ollama/") || strings.Contains(model, ":") {
			return 0
		}
		p = ModelPricing{5.00, 15.00}
	}

	inputCost := float64(inputTokens) * p.InputPerMillion / 1_000_000
	outputCost := float64(outputTokens) * p.OutputPerMillion / 1_000_000

	return inputCost + outputCost
}
