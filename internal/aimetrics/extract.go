// Package aimetrics derives LLM token usage from n8n execution run data.
package aimetrics

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/newflowio/elova/internal/pricing"
)

// ModelUsage is the usage attributed to one model within an execution.
type ModelUsage struct {
	Model        string `json:"model"`
	Provider     string `json:"provider,omitempty"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	TotalTokens  int64  `json:"totalTokens"`
	Calls        int    `json:"calls"`
}

// Usage aggregates every LLM call found in an execution. Model and Provider
// name the model that consumed the most tokens.
type Usage struct {
	InputTokens  int64        `json:"inputTokens"`
	OutputTokens int64        `json:"outputTokens"`
	TotalTokens  int64        `json:"totalTokens"`
	Model        string       `json:"model,omitempty"`
	Provider     string       `json:"provider,omitempty"`
	Calls        int          `json:"calls"`
	ByModel      []ModelUsage `json:"byModel,omitempty"`
}

func (u Usage) Empty() bool { return u.Calls == 0 && u.TotalTokens == 0 }

// Cost prices each model separately against table.
func (u Usage) Cost(table pricing.Table, fallback pricing.Price) decimal.Decimal {
	total := decimal.Zero
	for _, m := range u.ByModel {
		total = total.Add(table.Cost(m.Model, m.InputTokens, m.OutputTokens, fallback))
	}
	return total
}

type nodeInfo struct {
	typ   string
	model string
}

// Extract walks resultData.runData. data is the execution "data" document;
// workflowData, when present, supplies node types and configured models.
func Extract(data, workflowData []byte) Usage {
	if len(data) == 0 {
		return Usage{}
	}
	doc := gjson.ParseBytes(data)
	runData := doc.Get("resultData.runData")
	if !runData.Exists() {
		runData = doc.Get("data.resultData.runData")
	}
	if !runData.IsObject() {
		return Usage{}
	}

	nodes := nodeIndex(workflowData)
	if len(nodes) == 0 {
		nodes = nodeIndex([]byte(doc.Get("workflowData").Raw))
	}

	byModel := map[string]*ModelUsage{}
	var usage Usage
	runData.ForEach(func(name, runs gjson.Result) bool {
		node := nodes[name.String()]
		runs.ForEach(func(_, run gjson.Result) bool {
			for _, call := range callsInRun(run) {
				model := call.model
				if model == "" {
					model = modelFromRun(run)
				}
				if model == "" {
					model = node.model
				}
				model = strings.ToLower(strings.TrimSpace(model))
				provider := providerFromNodeType(node.typ)
				if provider == "" {
					provider = providerFromModel(model)
				}

				key := model + "|" + provider
				m, ok := byModel[key]
				if !ok {
					m = &ModelUsage{Model: model, Provider: provider}
					byModel[key] = m
				}
				m.InputTokens += call.input
				m.OutputTokens += call.output
				m.TotalTokens += call.total
				m.Calls++

				usage.InputTokens += call.input
				usage.OutputTokens += call.output
				usage.TotalTokens += call.total
				usage.Calls++
			}
			return true
		})
		return true
	})

	if len(byModel) == 0 {
		return Usage{}
	}
	usage.ByModel = make([]ModelUsage, 0, len(byModel))
	for _, m := range byModel {
		usage.ByModel = append(usage.ByModel, *m)
	}
	sort.Slice(usage.ByModel, func(i, j int) bool {
		a, b := usage.ByModel[i], usage.ByModel[j]
		if a.TotalTokens != b.TotalTokens {
			return a.TotalTokens > b.TotalTokens
		}
		return a.Model < b.Model
	})
	usage.Model = usage.ByModel[0].Model
	usage.Provider = usage.ByModel[0].Provider
	return usage
}

type call struct {
	input, output, total int64
	model                string
}

// callsInRun collects token counts from LangChain sub-node outputs
// (ai_languageModel) and from nodes that pass through an OpenAI-style
// usage block on their main output.
func callsInRun(run gjson.Result) []call {
	var calls []call
	collect := func(items gjson.Result) {
		items.ForEach(func(_, branch gjson.Result) bool {
			branch.ForEach(func(_, item gjson.Result) bool {
				if c, ok := callFromItem(item.Get("json")); ok {
					calls = append(calls, c)
				}
				return true
			})
			return true
		})
	}
	collect(run.Get("data.ai_languageModel"))
	collect(run.Get("data.main"))
	return calls
}

func callFromItem(j gjson.Result) (call, bool) {
	var c call
	switch {
	case j.Get("tokenUsage").Exists():
		u := j.Get("tokenUsage")
		c = call{input: u.Get("promptTokens").Int(), output: u.Get("completionTokens").Int(), total: u.Get("totalTokens").Int()}
	case j.Get("tokenUsageEstimate").Exists():
		u := j.Get("tokenUsageEstimate")
		c = call{input: u.Get("promptTokens").Int(), output: u.Get("completionTokens").Int(), total: u.Get("totalTokens").Int()}
	case j.Get("usage.prompt_tokens").Exists() || j.Get("usage.input_tokens").Exists():
		u := j.Get("usage")
		c = call{
			input:  firstInt(u, "prompt_tokens", "input_tokens"),
			output: firstInt(u, "completion_tokens", "output_tokens"),
			total:  u.Get("total_tokens").Int(),
		}
		c.model = j.Get("model").String()
	default:
		return call{}, false
	}
	if c.total == 0 {
		c.total = c.input + c.output
	}
	if c.model == "" {
		c.model = firstString(j, "response.llmOutput.model", "response.generations.0.0.generationInfo.model", "model")
	}
	return c, c.total > 0 || c.input > 0 || c.output > 0
}

// modelFromRun reads the options the sub-node was invoked with.
func modelFromRun(run gjson.Result) string {
	override := run.Get("inputOverride.ai_languageModel.0.0.json.options")
	return firstString(override, "model", "model_name", "modelName", "modelId")
}

func nodeIndex(workflowData []byte) map[string]nodeInfo {
	if len(workflowData) == 0 {
		return nil
	}
	nodes := gjson.GetBytes(workflowData, "nodes")
	if !nodes.IsArray() {
		return nil
	}
	out := make(map[string]nodeInfo)
	nodes.ForEach(func(_, n gjson.Result) bool {
		name := n.Get("name").String()
		if name == "" {
			return true
		}
		out[name] = nodeInfo{typ: n.Get("type").String(), model: ModelFromParameters(n.Get("parameters"))}
		return true
	})
	return out
}

// ModelFromParameters reads the configured model from node parameters;
// newer nodes wrap it in a resource locator ({"value": "..."}).
func ModelFromParameters(params gjson.Result) string {
	for _, path := range []string{"model", "modelName", "options.model", "modelId"} {
		v := params.Get(path)
		switch {
		case v.Type == gjson.String && v.String() != "":
			return v.String()
		case v.IsObject() && v.Get("value").String() != "":
			return v.Get("value").String()
		}
	}
	return ""
}

var nodeTypeProviders = []struct {
	marker   string
	provider string
}{
	{"azureopenai", "azure"},
	{"openrouter", "openrouter"},
	{"deepseek", "deepseek"},
	{"openai", "openai"},
	{"anthropic", "anthropic"},
	{"googlegemini", "google"},
	{"googlepalm", "google"},
	{"googlevertex", "google"},
	{"vertex", "google"},
	{"mistral", "mistral"},
	{"groq", "groq"},
	{"ollama", "ollama"},
	{"awsbedrock", "bedrock"},
	{"cohere", "cohere"},
	{"xai", "xai"},
}

func providerFromNodeType(typ string) string {
	t := strings.ToLower(typ)
	if t == "" {
		return ""
	}
	for _, p := range nodeTypeProviders {
		if strings.Contains(t, p.marker) {
			return p.provider
		}
	}
	return ""
}

func providerFromModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return "openai"
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	case strings.HasPrefix(model, "mistral"), strings.HasPrefix(model, "mixtral"):
		return "mistral"
	case strings.HasPrefix(model, "llama"):
		return "meta"
	case strings.HasPrefix(model, "deepseek"):
		return "deepseek"
	}
	return ""
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func firstInt(doc gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() {
			return v.Int()
		}
	}
	return 0
}
