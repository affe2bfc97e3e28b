package gateway

import "storygate/internal/upstream"

// Token-priced models, CNY per 1K tokens.
var ModelPricingCNYPer1K = map[string]float64{
	"glm-4.6":    0.002,
	"glm-4.5v":   0.004,
	"glm-4-air":  0.0005,
	"glm-4-plus": 0.005,
}

// Call-priced models, CNY per generated asset.
var ModelPricingCNYPerCall = map[string]float64{
	"cogview-4-250304": 0.06,
	"cogview-4":        0.06,
	"cogvideox-3":      1.0,
}

func EstimateCostCNY(c upstream.Capability, model string, tokens int) float64 {
	if price, ok := ModelPricingCNYPerCall[model]; ok {
		return price
	}
	if c == upstream.CapabilityImage || c == upstream.CapabilityVideo {
		return 0
	}
	price, ok := ModelPricingCNYPer1K[model]
	if !ok {
		price = 0.002
	}
	return price * float64(tokens) / 1000.0
}
