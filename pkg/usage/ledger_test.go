package usage

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/vocalis-ai/voicelive/pkg/pricing"
)

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestExtractTokens_FieldVariants(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    TokenCounts
	}{
		{
			name:    "snake_case",
			payload: `{"input_tokens":1000,"output_tokens":500,"cached_tokens":200}`,
			want:    TokenCounts{Input: 1000, Output: 500, Cached: 200},
		},
		{
			name:    "camelCase",
			payload: `{"inputTokens":10,"outputTokens":20,"cachedTokens":5}`,
			want:    TokenCounts{Input: 10, Output: 20, Cached: 5},
		},
		{
			name:    "openai_prompt_completion",
			payload: `{"prompt_tokens":7,"completion_tokens":3}`,
			want:    TokenCounts{Input: 7, Output: 3},
		},
		{
			name:    "usage_envelope",
			payload: `{"usage":{"input_tokens":4,"output_tokens":6}}`,
			want:    TokenCounts{Input: 4, Output: 6},
		},
		{
			name:    "cached_in_detail_block",
			payload: `{"input_tokens":100,"output_tokens":1,"input_token_details":{"cached_tokens":40}}`,
			want:    TokenCounts{Input: 100, Output: 1, Cached: 40},
		},
		{
			name:    "missing_fields_are_zero",
			payload: `{"something_else":true}`,
			want:    TokenCounts{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractTokens(json.RawMessage(tt.payload))
			if err != nil {
				t.Fatalf("ExtractTokens() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("counts = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractTokens_InvalidJSON(t *testing.T) {
	if _, err := ExtractTokens(json.RawMessage(`[1,2,3`)); err == nil {
		t.Fatal("expected error")
	}
}

// The worked example: gpt-4o, 1000/500/200 tokens at 0.0025/0.01/0.00125 per
// 1000 tokens.
func TestLedger_CostScenario(t *testing.T) {
	ledger := NewLedger(pricing.Defaults(), nil)
	ledger.RecordPayload("gpt-4o", json.RawMessage(`{"input_tokens":1000,"output_tokens":500,"cached_tokens":200}`))

	entry, ok := ledger.Usage("gpt-4o")
	if !ok {
		t.Fatal("model entry missing")
	}
	if entry.Input != 800 || entry.Output != 500 || entry.Cached != 200 {
		t.Fatalf("usage = %+v", entry)
	}

	cost, ok := ledger.Cost("gpt-4o")
	if !ok {
		t.Fatal("cost entry missing")
	}
	if !approx(cost.Input, 0.002) || !approx(cost.Output, 0.005) || !approx(cost.Cached, 0.00025) {
		t.Fatalf("cost = %+v", cost)
	}
	if !approx(cost.Total, 0.00725) {
		t.Fatalf("total = %v, want 0.00725", cost.Total)
	}
}

func TestLedger_AccumulationNoDoubleCounting(t *testing.T) {
	ledger := NewLedger(pricing.Defaults(), nil)
	events := []string{
		`{"input_tokens":100,"output_tokens":50}`,
		`{"inputTokens":200,"outputTokens":75,"cachedTokens":20}`,
		`{"prompt_tokens":300,"completion_tokens":25}`,
	}
	for _, payload := range events {
		ledger.RecordPayload("gpt-4o", json.RawMessage(payload))
	}

	entry, _ := ledger.Usage("gpt-4o")
	// Cumulative input+output+cached equals the sum of per-event actual
	// contributions regardless of field naming.
	wantInput := 100 + (200 - 20) + 300
	if entry.Input != wantInput || entry.Output != 150 || entry.Cached != 20 {
		t.Fatalf("usage = %+v", entry)
	}
}

func TestLedger_CachedGreaterThanInputFloorsAtZero(t *testing.T) {
	ledger := NewLedger(pricing.Defaults(), nil)
	ledger.Record("gpt-4o", TokenCounts{Input: 10, Cached: 50})
	entry, _ := ledger.Usage("gpt-4o")
	if entry.Input != 0 || entry.Cached != 50 {
		t.Fatalf("usage = %+v", entry)
	}
}

func TestLedger_RecomputeIsIdempotent(t *testing.T) {
	ledger := NewLedger(pricing.Defaults(), nil)
	ledger.Record("gpt-4o", TokenCounts{Input: 1234, Output: 567, Cached: 89})
	first, _ := ledger.Cost("gpt-4o")
	ledger.Recompute()
	ledger.Recompute()
	second, _ := ledger.Cost("gpt-4o")
	if first != second {
		t.Fatalf("cost drifted across recomputation: %+v vs %+v", first, second)
	}
}

func TestLedger_ZeroUsageIsNotAnError(t *testing.T) {
	ledger := NewLedger(pricing.Defaults(), nil)
	ledger.RecordPayload("gpt-4o", json.RawMessage(`{}`))
	entry, ok := ledger.Usage("gpt-4o")
	if !ok {
		t.Fatal("zero usage should still create the model entry")
	}
	if entry != (ModelUsage{}) {
		t.Fatalf("usage = %+v", entry)
	}
}

func TestLedger_PerModelIsolationAndReset(t *testing.T) {
	ledger := NewLedger(pricing.Defaults(), nil)
	ledger.Record("gpt-4o", TokenCounts{Input: 100})
	ledger.Record("gpt-4o-mini", TokenCounts{Output: 100})

	if entries := ledger.Snapshot(); len(entries) != 2 {
		t.Fatalf("snapshot len = %d", len(entries))
	}
	if ledger.TotalCost() <= 0 {
		t.Fatal("expected positive total cost")
	}

	ledger.Reset()
	if entries := ledger.Snapshot(); len(entries) != 0 {
		t.Fatalf("snapshot after reset = %v", entries)
	}
}
