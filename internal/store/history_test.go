package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vocalis-ai/voicelive/pkg/usage"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestSaveAndListSessions(t *testing.T) {
	h := openTestHistory(t)

	started := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	rec := SessionRecord{
		SessionID:     "sess-1",
		Model:         "gpt-4o",
		Endpoint:      "wss://example.test/voice",
		StartedAt:     started,
		EndedAt:       started.Add(2 * time.Minute),
		InputAudioMS:  30000,
		OutputAudioMS: 45000,
		TotalCost:     0.00725,
		Models: []usage.Entry{
			{
				Model: "gpt-4o",
				Usage: usage.ModelUsage{Input: 800, Output: 500, Cached: 200},
				Cost:  usage.ModelCost{Input: 0.002, Output: 0.005, Cached: 0.00025, Total: 0.00725},
			},
		},
	}
	if err := h.SaveSession(rec); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := h.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("sessions = %d, want 1", len(got))
	}
	if got[0].SessionID != "sess-1" {
		t.Fatalf("session id = %q, want sess-1", got[0].SessionID)
	}
	if !got[0].StartedAt.Equal(started) {
		t.Fatalf("started at = %v, want %v", got[0].StartedAt, started)
	}
	if got[0].OutputAudioMS != 45000 {
		t.Fatalf("output audio ms = %d, want 45000", got[0].OutputAudioMS)
	}
	if len(got[0].Models) != 1 {
		t.Fatalf("model entries = %d, want 1", len(got[0].Models))
	}
	entry := got[0].Models[0]
	if entry.Usage.Input != 800 || entry.Usage.Cached != 200 {
		t.Fatalf("usage = %+v, want input 800 cached 200", entry.Usage)
	}
	if entry.Cost.Total != 0.00725 {
		t.Fatalf("cost total = %v, want 0.00725", entry.Cost.Total)
	}
}

func TestSaveSessionReplacesExisting(t *testing.T) {
	h := openTestHistory(t)

	rec := SessionRecord{SessionID: "sess-1", Model: "gpt-4o", StartedAt: time.Now()}
	if err := h.SaveSession(rec); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	rec.TotalCost = 1.23
	if err := h.SaveSession(rec); err != nil {
		t.Fatalf("SaveSession replace: %v", err)
	}

	got, err := h.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("sessions = %d, want 1", len(got))
	}
	if got[0].TotalCost != 1.23 {
		t.Fatalf("total cost = %v, want 1.23", got[0].TotalCost)
	}
}

func TestListOrdersMostRecentFirst(t *testing.T) {
	h := openTestHistory(t)

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		err := h.SaveSession(SessionRecord{
			SessionID: id,
			Model:     "gpt-4o",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("SaveSession %s: %v", id, err)
		}
	}

	got, err := h.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("sessions = %d, want 3", len(got))
	}
	if got[0].SessionID != "new" || got[2].SessionID != "old" {
		t.Fatalf("order = [%s %s %s], want [new mid old]",
			got[0].SessionID, got[1].SessionID, got[2].SessionID)
	}
}

func TestTotalCostAndClear(t *testing.T) {
	h := openTestHistory(t)

	_ = h.SaveSession(SessionRecord{SessionID: "a", Model: "m", StartedAt: time.Now(), TotalCost: 0.5})
	_ = h.SaveSession(SessionRecord{SessionID: "b", Model: "m", StartedAt: time.Now(), TotalCost: 0.25})

	total, err := h.TotalCost()
	if err != nil {
		t.Fatalf("TotalCost: %v", err)
	}
	if total != 0.75 {
		t.Fatalf("total = %v, want 0.75", total)
	}

	if err := h.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	total, err = h.TotalCost()
	if err != nil {
		t.Fatalf("TotalCost after clear: %v", err)
	}
	if total != 0 {
		t.Fatalf("total after clear = %v, want 0", total)
	}
}
