// Package pricing maps model names to per-1000-token rates used for cost
// derivation. Rates can be loaded from a remote source once per session; any
// failure falls back to the built-in table.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Rate holds USD prices per 1000 tokens.
type Rate struct {
	Input  float64 `json:"inputCost"`
	Output float64 `json:"outputCost"`
	Cached float64 `json:"cachedCost"`
}

// DefaultModel is the fallback table entry used for model names without an
// explicit rate.
const DefaultModel = "default"

const loadTimeout = 5 * time.Second

// Table resolves model names to rates. The zero value is unusable; build one
// with Defaults or Load.
type Table struct {
	rates map[string]Rate
}

// Defaults returns the built-in pricing table.
func Defaults() *Table {
	return &Table{rates: map[string]Rate{
		"gpt-4o":                  {Input: 0.0025, Output: 0.01, Cached: 0.00125},
		"gpt-4o-mini":             {Input: 0.00015, Output: 0.0006, Cached: 0.000075},
		"gpt-4o-realtime-preview": {Input: 0.005, Output: 0.02, Cached: 0.0025},
		"gpt-4o-mini-realtime-preview": {
			Input: 0.0006, Output: 0.0024, Cached: 0.0003,
		},
		DefaultModel: {Input: 0.0025, Output: 0.01, Cached: 0.00125},
	}}
}

// Rate returns the rate for model, falling back to the default entry.
func (t *Table) Rate(model string) Rate {
	if t == nil || len(t.rates) == 0 {
		return Defaults().rates[DefaultModel]
	}
	if rate, ok := t.rates[strings.TrimSpace(model)]; ok {
		return rate
	}
	return t.rates[DefaultModel]
}

// Models returns the model names with explicit rates, default entry included.
func (t *Table) Models() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.rates))
	for name := range t.rates {
		names = append(names, name)
	}
	return names
}

type remoteEntry struct {
	ModelName  string  `json:"modelName"`
	InputCost  float64 `json:"inputCost"`
	OutputCost float64 `json:"outputCost"`
	CachedCost float64 `json:"cachedCost"`
}

// Load fetches the pricing list from url. On any failure (unreachable,
// non-200, malformed, empty) it returns Defaults() along with the error so
// callers can log and continue.
func Load(ctx context.Context, client *http.Client, url string) (*Table, error) {
	fallback := Defaults()
	url = strings.TrimSpace(url)
	if url == "" {
		return fallback, nil
	}
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fallback, fmt.Errorf("build pricing request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fallback, fmt.Errorf("fetch pricing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fallback, fmt.Errorf("fetch pricing: status %d", resp.StatusCode)
	}

	var entries []remoteEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fallback, fmt.Errorf("decode pricing: %w", err)
	}

	rates := make(map[string]Rate, len(entries)+1)
	for _, entry := range entries {
		name := strings.TrimSpace(entry.ModelName)
		if name == "" {
			continue
		}
		rates[name] = Rate{Input: entry.InputCost, Output: entry.OutputCost, Cached: entry.CachedCost}
	}
	if len(rates) == 0 {
		return fallback, fmt.Errorf("pricing list is empty")
	}
	if _, ok := rates[DefaultModel]; !ok {
		rates[DefaultModel] = fallback.rates[DefaultModel]
	}
	return &Table{rates: rates}, nil
}
