package pricing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OpenRouterModel is one entry of the OpenRouter /models listing. Prices
// are per token, encoded as strings.
type OpenRouterModel struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Pricing OpenRouterPricing `json:"pricing"`
}

type OpenRouterPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
	Request    string `json:"request,omitempty"`
	Image      string `json:"image,omitempty"`
}

// ParseOpenRouter decodes either {"data": [...]} or a bare array.
func ParseOpenRouter(body []byte) ([]OpenRouterModel, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var models []OpenRouterModel
		if err := json.Unmarshal(body, &models); err != nil {
			return nil, fmt.Errorf("decode models: %w", err)
		}
		return models, nil
	}
	var envelope struct {
		Data []OpenRouterModel `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("invalid response format from OpenRouter")
	}
	return envelope.Data, nil
}

// FromOpenRouter converts per-token prices to per-1K prices. Unparseable
// prices count as zero.
func FromOpenRouter(models []OpenRouterModel) Table {
	table := make(Table, len(models)*2)
	for _, m := range models {
		table.Add(m.ID, Price{
			Input:  perThousand(m.Pricing.Prompt),
			Output: perThousand(m.Pricing.Completion),
			Name:   m.Name,
		})
	}
	return table
}

func perThousand(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d.Mul(thousand)
}
