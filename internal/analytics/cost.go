package analytics

// DefaultPricePer1K is charged for models missing from
// PricePer1K.
const DefaultPricePer1K = 0.01

// PricePer1K is the USD price per 1,000 tokens by model name.
var PricePer1K = map[string]float64{
	"gpt-4":             0.03,
	"gpt-4-turbo":       0.01,
	"gpt-3.5-turbo":     0.002,
	"claude-3-5-sonnet": 0.003,
	"claude-3":          0.015,
}

// EstimateCost returns the approximate USD cost of tokens on
// model. Unknown or empty model names use DefaultPricePer1K.
func EstimateCost(tokens int, model string) float64 {
	price, ok := PricePer1K[model]
	if !ok {
		price = DefaultPricePer1K
	}
	return float64(tokens) / 1000 * price
}
