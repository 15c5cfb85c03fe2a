package usecase

import (
	"math"
	"strings"
)

// Price is the USD cost per one million tokens.
type Price struct {
	InputPerM  float64
	OutputPerM float64
}

// defaultPrices is the static cost table keyed by provider class then model.
var defaultPrices = map[string]map[string]Price{
	"openai": {
		"gpt-4o":        {InputPerM: 2.50, OutputPerM: 10.00},
		"gpt-4o-mini":   {InputPerM: 0.15, OutputPerM: 0.60},
		"gpt-4.1":       {InputPerM: 2.00, OutputPerM: 8.00},
		"gpt-4.1-mini":  {InputPerM: 0.40, OutputPerM: 1.60},
		"gpt-4-turbo":   {InputPerM: 10.00, OutputPerM: 30.00},
		"gpt-3.5-turbo": {InputPerM: 0.50, OutputPerM: 1.50},
	},
	"anthropic": {
		"claude-3-5-sonnet-20241022": {InputPerM: 3.00, OutputPerM: 15.00},
		"claude-3-5-haiku-20241022":  {InputPerM: 0.80, OutputPerM: 4.00},
		"claude-3-opus-20240229":     {InputPerM: 15.00, OutputPerM: 75.00},
		"claude-sonnet-4-20250514":   {InputPerM: 3.00, OutputPerM: 15.00},
	},
	"gemini": {
		"gemini-2.0-flash":      {InputPerM: 0.10, OutputPerM: 0.40},
		"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
		"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
		"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	},
}

// Provider classes sharing a tokenizer family and price table.
const (
	classOpenAI    = "openai"
	classAnthropic = "anthropic"
	classLocal     = "local"
)

// providerClass maps a provider type onto its estimation class.
func providerClass(provider string) string {
	p := strings.ToLower(provider)
	switch {
	case strings.Contains(p, "openai"), strings.Contains(p, "gpt"):
		return classOpenAI
	case strings.Contains(p, "anthropic"), strings.Contains(p, "claude"), strings.Contains(p, "bedrock"):
		return classAnthropic
	case strings.Contains(p, "ollama"), strings.Contains(p, "local"), strings.Contains(p, "llama"):
		return classLocal
	default:
		return p
	}
}

// estimationFactor scales the chars/4 heuristic per provider class.
func estimationFactor(class string) float64 {
	switch class {
	case classOpenAI:
		return 0.9
	case classLocal:
		return 1.1
	default:
		return 1.0
	}
}

// Pricing estimates token counts and costs. The zero value is not usable;
// construct with NewPricing.
type Pricing struct {
	prices map[string]map[string]Price
}

// NewPricing creates a cost table seeded with the built-in prices.
func NewPricing() *Pricing {
	p := &Pricing{prices: make(map[string]map[string]Price, len(defaultPrices))}
	for provider, models := range defaultPrices {
		p.prices[provider] = make(map[string]Price, len(models))
		for model, price := range models {
			p.prices[provider][model] = price
		}
	}
	return p
}

// SetPrice adds or overrides the price of a provider/model pair.
func (p *Pricing) SetPrice(provider, model string, price Price) {
	class := providerClass(provider)
	if p.prices[class] == nil {
		p.prices[class] = make(map[string]Price)
	}
	p.prices[class][model] = price
}

// EstimateTokens approximates the token count of text as ceil(len/4) scaled
// by the provider factor. It is an upper-bound guess for pre-flight checks,
// not billed usage.
func (p *Pricing) EstimateTokens(text, provider string) int64 {
	if text == "" {
		return 0
	}
	base := math.Ceil(float64(len(text)) / 4)
	return int64(math.Ceil(base * estimationFactor(providerClass(provider))))
}

// EstimateCost returns the USD cost of a call. Unknown and local models are free.
func (p *Pricing) EstimateCost(provider, model string, inputTokens, outputTokens int64) float64 {
	class := providerClass(provider)
	if class == classLocal {
		return 0
	}
	price, ok := p.lookup(class, model)
	if !ok {
		return 0
	}
	return price.InputPerM*float64(inputTokens)/1_000_000 + price.OutputPerM*float64(outputTokens)/1_000_000
}

func (p *Pricing) lookup(class, model string) (Price, bool) {
	models := p.prices[class]
	// Bedrock ids look like "us.anthropic.claude-3-5-haiku-20241022-v1:0".
	if i := strings.Index(model, "anthropic."); i >= 0 {
		model = model[i+len("anthropic."):]
	}
	if price, ok := models[model]; ok {
		return price, true
	}
	// Versioned ids such as "gpt-4o-2024-08-06" fall back to their longest known prefix.
	var best string
	for name := range models {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Price{}, false
	}
	return models[best], true
}
