package session

import "github.com/vocalis-ai/voicelive/pkg/protocol"

// Sinks are the narrow collaborator interfaces the engine reports through.
// All presentation (visualizer, transcript UI, status bar, trace panel) sits
// behind them; nil fields are simply skipped.
type Sinks struct {
	// Transcript receives recognized and synthesized text.
	Transcript func(role protocol.Role, text string)
	// Status receives human-readable session state changes.
	Status func(label string, state Status)
	// Trace receives raw protocol events for diagnostics.
	Trace func(role protocol.Role, event string, payload any)
	// Level receives the 0..1 energy signal driving the visualizer.
	Level func(level float64, role protocol.Role)
}

func (s Sinks) transcript(role protocol.Role, text string) {
	if s.Transcript != nil {
		s.Transcript(role, text)
	}
}

func (s Sinks) status(label string, state Status) {
	if s.Status != nil {
		s.Status(label, state)
	}
}

func (s Sinks) trace(role protocol.Role, event string, payload any) {
	if s.Trace != nil {
		s.Trace(role, event, payload)
	}
}

func (s Sinks) level(level float64, role protocol.Role) {
	if s.Level != nil {
		s.Level(level, role)
	}
}
