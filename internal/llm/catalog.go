package llm

import "sort"

// Provider names used in the catalog.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Pricing converts token counts to cost: (in*Input + out*Output) / Divisor.
type Pricing struct {
	Divisor float64 `json:"divisor"`
	Input   float64 `json:"input"`
	Output  float64 `json:"output"`
}

// Descriptor is the static description of a supported model.
type Descriptor struct {
	Name          string  `json:"-"`
	Provider      string  `json:"provider"`
	ContextWindow int     `json:"contextWindow"`
	Price         Pricing `json:"price"`
}

const perMillion = 1_000_000

// DefaultCatalog returns the built-in model table. Rates are per million tokens.
func DefaultCatalog() map[string]Descriptor {
	return map[string]Descriptor{
		"gpt-4o-mini": {
			Provider:      ProviderOpenAI,
			ContextWindow: 128000,
			Price:         Pricing{Divisor: perMillion, Input: 0.15, Output: 0.6},
		},
		"gpt-4o": {
			Provider:      ProviderOpenAI,
			ContextWindow: 128000,
			Price:         Pricing{Divisor: perMillion, Input: 2.25, Output: 10},
		},
		"claude-3-7-sonnet-20250219": {
			Provider:      ProviderAnthropic,
			ContextWindow: 200000,
			Price:         Pricing{Divisor: perMillion, Input: 3, Output: 15},
		},
		"claude-3-5-haiku-20241022": {
			Provider:      ProviderAnthropic,
			ContextWindow: 200000,
			Price:         Pricing{Divisor: perMillion, Input: 0.8, Output: 4},
		},
		"claude-3-opus-20240229": {
			Provider:      ProviderAnthropic,
			ContextWindow: 200000,
			Price:         Pricing{Divisor: perMillion, Input: 15, Output: 75},
		},
		"mock-echo": {
			Provider:      ProviderMock,
			ContextWindow: 8192,
			Price:         Pricing{Divisor: perMillion},
		},
	}
}

// sortedNames returns catalog keys in lexical order.
func sortedNames(catalog map[string]Descriptor) []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
