// Package usage accumulates per-model token consumption across a voice
// session and derives monetary cost from the pricing table. Costs are never
// stored independently: they are recomputed from usage on every change.
package usage

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/vocalis-ai/voicelive/pkg/pricing"
)

// ModelUsage is the per-model token accumulator. Input excludes cached
// tokens; within a session every field is monotonically non-decreasing.
type ModelUsage struct {
	Input  int
	Output int
	Cached int
}

// ModelCost is derived from ModelUsage and the pricing table, in USD.
type ModelCost struct {
	Input  float64
	Output float64
	Cached float64
	Total  float64
}

// Ledger tracks usage and derived cost per model name.
type Ledger struct {
	mu     sync.Mutex
	table  *pricing.Table
	logger *slog.Logger
	usage  map[string]ModelUsage
	costs  map[string]ModelCost
}

// NewLedger builds a ledger over the given pricing table. A nil table uses
// the built-in defaults; a nil logger uses slog.Default().
func NewLedger(table *pricing.Table, logger *slog.Logger) *Ledger {
	if table == nil {
		table = pricing.Defaults()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		table:  table,
		logger: logger,
		usage:  make(map[string]ModelUsage),
		costs:  make(map[string]ModelCost),
	}
}

// RecordPayload extracts token counts from a response.done usage payload and
// accumulates them under model. Malformed payloads are logged and dropped.
func (l *Ledger) RecordPayload(model string, payload json.RawMessage) {
	counts, err := ExtractTokens(payload)
	if err != nil {
		l.logger.Warn("usage payload is not valid json, dropping", "model", model, "err", err)
		return
	}
	if counts.Total() == 0 {
		// Valid but unhelpful; worth a diagnostic, not an error.
		l.logger.Debug("usage payload carried zero tokens", "model", model)
	}
	l.Record(model, counts)
}

// Record accumulates raw counts under model, attributing cached tokens
// separately: cost-bearing input is input minus cached, floored at zero.
func (l *Ledger) Record(model string, counts TokenCounts) {
	actualInput := counts.Input - counts.Cached
	if actualInput < 0 {
		actualInput = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.usage[model]
	entry.Input += actualInput
	entry.Output += counts.Output
	entry.Cached += counts.Cached
	l.usage[model] = entry
	l.costs[model] = l.deriveLocked(model, entry)
}

// deriveLocked recomputes cost for one model. Pure in its inputs, so
// repeated derivation on unchanged usage is drift-free.
func (l *Ledger) deriveLocked(model string, entry ModelUsage) ModelCost {
	rate := l.table.Rate(model)
	cost := ModelCost{
		Input:  float64(entry.Input) / 1000 * rate.Input,
		Output: float64(entry.Output) / 1000 * rate.Output,
		Cached: float64(entry.Cached) / 1000 * rate.Cached,
	}
	cost.Total = cost.Input + cost.Output + cost.Cached
	return cost
}

// Usage returns the accumulator for model and whether it exists.
func (l *Ledger) Usage(model string) (ModelUsage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.usage[model]
	return entry, ok
}

// Cost returns the derived cost for model and whether it exists.
func (l *Ledger) Cost(model string) (ModelCost, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cost, ok := l.costs[model]
	return cost, ok
}

// Recompute re-derives every model's cost from current usage. Idempotent.
func (l *Ledger) Recompute() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for model, entry := range l.usage {
		l.costs[model] = l.deriveLocked(model, entry)
	}
}

// Entry pairs a model name with its usage and cost for display.
type Entry struct {
	Model string
	Usage ModelUsage
	Cost  ModelCost
}

// Snapshot returns all entries sorted by model name.
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]Entry, 0, len(l.usage))
	for model, entry := range l.usage {
		entries = append(entries, Entry{Model: model, Usage: entry, Cost: l.costs[model]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Model < entries[j].Model })
	return entries
}

// TotalCost sums the derived total across all models.
func (l *Ledger) TotalCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum float64
	for _, cost := range l.costs {
		sum += cost.Total
	}
	return sum
}

// Reset clears all accumulators. Used on explicit history clear and, when
// the session policy asks for it, on reconnect.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage = make(map[string]ModelUsage)
	l.costs = make(map[string]ModelCost)
}
