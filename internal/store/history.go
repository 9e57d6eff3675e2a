// Package store provides SQLite-backed persistence of session usage history.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vocalis-ai/voicelive/pkg/usage"

	_ "modernc.org/sqlite" // register sqlite driver
)

// History persists finished sessions and their per-model usage breakdown.
type History struct {
	db *sql.DB
}

// Open opens or creates the history database at the given path.
func Open(dbPath string) (*History, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &History{db: db}, nil
}

// Close closes the history database.
func (h *History) Close() error {
	return h.db.Close()
}

// SessionRecord is one finished session.
type SessionRecord struct {
	SessionID     string
	Model         string
	Endpoint      string
	StartedAt     time.Time
	EndedAt       time.Time
	InputAudioMS  int64
	OutputAudioMS int64
	TotalCost     float64
	Models        []usage.Entry
}

// SaveSession stores a finished session and its model breakdown, replacing
// any previous record with the same session id.
func (h *History) SaveSession(rec SessionRecord) error {
	tx, err := h.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	startedAt := ""
	if !rec.StartedAt.IsZero() {
		startedAt = rec.StartedAt.UTC().Format(time.RFC3339)
	}
	endedAt := ""
	if !rec.EndedAt.IsZero() {
		endedAt = rec.EndedAt.UTC().Format(time.RFC3339)
	}

	_, err = tx.Exec(`INSERT OR REPLACE INTO sessions
		(session_id, model, endpoint, started_at, ended_at,
		 input_audio_ms, output_audio_ms, total_cost, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Model, rec.Endpoint, startedAt, endedAt,
		rec.InputAudioMS, rec.OutputAudioMS, rec.TotalCost, now,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM session_models WHERE session_id = ?", rec.SessionID)
	if err != nil {
		return err
	}

	for _, entry := range rec.Models {
		_, err = tx.Exec(`INSERT INTO session_models
			(session_id, model, input_tokens, output_tokens, cached_tokens,
			 input_cost, output_cost, cached_cost, total_cost)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.SessionID, entry.Model, entry.Usage.Input, entry.Usage.Output, entry.Usage.Cached,
			entry.Cost.Input, entry.Cost.Output, entry.Cost.Cached, entry.Cost.Total,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListSessions returns saved sessions, most recent first, with their model
// breakdowns attached.
func (h *History) ListSessions() ([]SessionRecord, error) {
	rows, err := h.db.Query(`SELECT
		session_id, model, endpoint, started_at, ended_at,
		input_audio_ms, output_audio_ms, total_cost
		FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var startedStr, endedStr string
		err := rows.Scan(
			&rec.SessionID, &rec.Model, &rec.Endpoint, &startedStr, &endedStr,
			&rec.InputAudioMS, &rec.OutputAudioMS, &rec.TotalCost,
		)
		if err != nil {
			return nil, err
		}
		if startedStr != "" {
			rec.StartedAt, _ = time.Parse(time.RFC3339, startedStr)
		}
		if endedStr != "" {
			rec.EndedAt, _ = time.Parse(time.RFC3339, endedStr)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	modelRows, err := h.db.Query(`SELECT
		session_id, model, input_tokens, output_tokens, cached_tokens,
		input_cost, output_cost, cached_cost, total_cost
		FROM session_models ORDER BY model`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = modelRows.Close() }()

	idx := make(map[string]int)
	for i, rec := range records {
		idx[rec.SessionID] = i
	}

	for modelRows.Next() {
		var sid string
		var entry usage.Entry
		err := modelRows.Scan(&sid, &entry.Model,
			&entry.Usage.Input, &entry.Usage.Output, &entry.Usage.Cached,
			&entry.Cost.Input, &entry.Cost.Output, &entry.Cost.Cached, &entry.Cost.Total)
		if err != nil {
			return nil, err
		}
		if i, ok := idx[sid]; ok {
			records[i].Models = append(records[i].Models, entry)
		}
	}

	return records, modelRows.Err()
}

// TotalCost sums the cost of every saved session.
func (h *History) TotalCost() (float64, error) {
	var total float64
	err := h.db.QueryRow("SELECT COALESCE(SUM(total_cost), 0) FROM sessions").Scan(&total)
	return total, err
}

// Clear removes all saved sessions.
func (h *History) Clear() error {
	_, err := h.db.Exec("DELETE FROM sessions")
	return err
}
