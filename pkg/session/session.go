// Package session owns the duplex voice channel: it parses inbound frames
// into audio and control messages, drives the session/response lifecycle
// state machine, forwards audio to the playback pipeline and usage events to
// the ledger, and exposes the small outbound command surface.
package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/vocalis-ai/voicelive/pkg/protocol"
	"github.com/vocalis-ai/voicelive/pkg/usage"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusSpeaking     Status = "speaking"
)

// Session is the live session negotiated with the remote service. Created on
// session.created, mutated by session.updated, destroyed on channel close or
// explicit stop.
type Session struct {
	ID               string
	Model            string
	Status           Status
	StartedAt        time.Time
	InputFormat      string
	OutputFormat     string
	InputSampleRate  int
	OutputSampleRate int
}

// ResponseStatus is the per-response lifecycle state.
type ResponseStatus string

const (
	ResponseInProgress ResponseStatus = "in_progress"
	ResponseCompleted  ResponseStatus = "completed"
)

// Response tracks one agent turn. A session has many sequential responses;
// at most one is current at a time.
type Response struct {
	ID     string
	Status ResponseStatus
	Usage  usage.TokenCounts
}

type sessionPayload struct {
	ID               string `json:"id"`
	Model            string `json:"model"`
	InputFormat      string `json:"input_audio_format"`
	OutputFormat     string `json:"output_audio_format"`
	InputSampleRate  int    `json:"input_sample_rate"`
	OutputSampleRate int    `json:"output_sample_rate"`
}

// applySessionPayload folds a session.created/updated payload into s.
// Sample rates default from the format when the remote side omits them.
func applySessionPayload(s *Session, raw json.RawMessage, now time.Time) {
	var payload sessionPayload
	if len(raw) > 0 {
		// Best effort: a payload that fails to parse leaves defaults alone.
		_ = json.Unmarshal(raw, &payload)
	}
	if payload.ID != "" {
		s.ID = payload.ID
	}
	if payload.Model != "" {
		s.Model = payload.Model
	}
	if payload.InputFormat != "" {
		s.InputFormat = payload.InputFormat
	}
	if payload.OutputFormat != "" {
		s.OutputFormat = payload.OutputFormat
	}
	if payload.InputSampleRate > 0 {
		s.InputSampleRate = payload.InputSampleRate
	} else if s.InputSampleRate == 0 {
		s.InputSampleRate = protocol.DefaultSampleRate(s.InputFormat)
	}
	if payload.OutputSampleRate > 0 {
		s.OutputSampleRate = payload.OutputSampleRate
	} else if s.OutputSampleRate == 0 {
		s.OutputSampleRate = protocol.DefaultSampleRate(s.OutputFormat)
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
}

type responsePayload struct {
	ID    string          `json:"id"`
	Usage json.RawMessage `json:"usage"`
}

func parseResponsePayload(raw json.RawMessage) responsePayload {
	var payload responsePayload
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	payload.ID = strings.TrimSpace(payload.ID)
	return payload
}
