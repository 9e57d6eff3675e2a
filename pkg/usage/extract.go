package usage

import (
	"encoding/json"
)

// TokenCounts are the raw token counts extracted from a usage payload.
type TokenCounts struct {
	Input  int
	Output int
	Cached int
}

// Total returns the sum of all extracted counts.
func (c TokenCounts) Total() int { return c.Input + c.Output + c.Cached }

// Field-naming variants seen from remote services, in precedence order. All
// tolerance for payload shape lives here so the policy stays auditable.
var (
	inputTokenFields  = []string{"input_tokens", "inputTokens", "prompt_tokens", "promptTokens", "inputTokenCount"}
	outputTokenFields = []string{"output_tokens", "outputTokens", "completion_tokens", "completionTokens", "outputTokenCount"}
	cachedTokenFields = []string{"cached_tokens", "cachedTokens", "cache_read_tokens", "cachedTokenCount"}
)

// ExtractTokens pulls token counts out of a response.done usage payload. The
// payload may be the usage object itself or an envelope with a "usage" key.
// A missing field counts as zero; only structurally invalid JSON fails.
func ExtractTokens(payload json.RawMessage) (TokenCounts, error) {
	var root map[string]any
	if err := json.Unmarshal(payload, &root); err != nil {
		return TokenCounts{}, err
	}
	fields := root
	if nested, ok := root["usage"].(map[string]any); ok {
		fields = nested
	}

	counts := TokenCounts{
		Input:  intField(fields, inputTokenFields...),
		Output: intField(fields, outputTokenFields...),
		Cached: cachedFrom(fields),
	}
	return counts, nil
}

// cachedFrom checks top-level cached fields first, then the nested input
// token detail blocks some services report instead.
func cachedFrom(fields map[string]any) int {
	if n := intField(fields, cachedTokenFields...); n > 0 {
		return n
	}
	for _, key := range []string{"input_token_details", "inputTokenDetails", "prompt_tokens_details"} {
		if details, ok := fields[key].(map[string]any); ok {
			if n := intField(details, cachedTokenFields...); n > 0 {
				return n
			}
		}
	}
	return 0
}

func intField(fields map[string]any, names ...string) int {
	for _, name := range names {
		value, ok := fields[name]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			return int(v)
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n)
			}
		}
	}
	return 0
}
