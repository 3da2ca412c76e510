package pricing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// Price is the cost per 1K tokens.
type Price struct {
	Input  decimal.Decimal `json:"input"`
	Output decimal.Decimal `json:"output"`
	Name   string          `json:"name,omitempty"`
}

// FallbackPrice applies to models missing from the table.
var FallbackPrice = Price{
	Input:  decimal.RequireFromString("0.002"),
	Output: decimal.RequireFromString("0.006"),
}

// Table maps lowercase model identifiers to prices.
type Table map[string]Price

// legacyAliases maps dated model names onto their undated price keys.
var legacyAliases = map[string]string{
	"gpt-4-turbo-2024-04-09":   "gpt-4-turbo",
	"gpt-4-0125-preview":       "gpt-4-turbo-preview",
	"gpt-4-1106-preview":       "gpt-4-turbo-preview",
	"gpt-4o-2024-08-06":        "gpt-4o",
	"gpt-4o-mini-2024-07-18":   "gpt-4o-mini",
	"gpt-3.5-turbo-0125":       "gpt-3.5-turbo",
	"claude-3-opus-20240229":   "claude-3-opus",
	"claude-3-sonnet-20240229": "claude-3-sonnet",
	"claude-3-haiku-20240307":  "claude-3-haiku",
	"gemini-1.5-pro-latest":    "gemini-1.5-pro",
	"gemini-1.5-flash-latest":  "gemini-1.5-flash",
}

// Add stores price under id and, for vendor-prefixed ids, under the bare
// model slug unless that slug is already taken.
func (t Table) Add(id string, price Price) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return
	}
	t[id] = price
	if idx := strings.LastIndex(id, "/"); idx >= 0 && idx < len(id)-1 {
		slug := id[idx+1:]
		if _, ok := t[slug]; !ok {
			t[slug] = price
		}
	}
}

// Normalize resolves model to a table key. Unknown names come back
// lowercased and trimmed; empty input returns "".
func (t Table) Normalize(model string) string {
	name := strings.ToLower(strings.TrimSpace(model))
	if name == "" {
		return ""
	}
	if _, ok := t[name]; ok {
		return name
	}
	if key := t.suffixMatch(name); key != "" {
		return key
	}
	if mapped, ok := legacyAliases[name]; ok {
		if _, ok := t[mapped]; ok {
			return mapped
		}
	}
	return name
}

func (t Table) suffixMatch(name string) string {
	suffix := "/" + name
	var matches []string
	for key := range t {
		if strings.HasSuffix(key, suffix) {
			matches = append(matches, key)
		}
	}
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

// Lookup returns the price for model after normalization.
func (t Table) Lookup(model string) (Price, bool) {
	key := t.Normalize(model)
	if key == "" {
		return Price{}, false
	}
	p, ok := t[key]
	return p, ok
}

// Cost prices the token counts for model, falling back to fallback when
// the model is unknown.
func (t Table) Cost(model string, inputTokens, outputTokens int64, fallback Price) decimal.Decimal {
	price, ok := t.Lookup(model)
	if !ok {
		price = fallback
	}
	return Compute(price, inputTokens, outputTokens)
}

// Compute is in/1000*input + out/1000*output.
func Compute(price Price, inputTokens, outputTokens int64) decimal.Decimal {
	in := decimal.NewFromInt(inputTokens).Div(thousand).Mul(price.Input)
	out := decimal.NewFromInt(outputTokens).Div(thousand).Mul(price.Output)
	return in.Add(out)
}

// Keys returns the sorted model keys.
func (t Table) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
