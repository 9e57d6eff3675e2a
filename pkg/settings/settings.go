// Package settings holds user-tunable session preferences and fans out
// change notifications, so the CLI surface and the engine wiring observe one
// consistent snapshot.
package settings

import "sync"

// Settings is the mutable preference set. Values are copied on read; the
// store owns the single authoritative copy.
type Settings struct {
	Model          string
	Voice          string
	Instructions   string
	Locale         string
	WelcomeMessage string
	AvatarEnabled  bool
	Muted          bool
}

// Store is a settings snapshot plus subscriber fan-out. Updates are applied
// under the lock; notifications are delivered best effort and never block
// the updater.
type Store struct {
	mu      sync.Mutex
	current Settings
	nextID  int
	subs    map[int]chan Settings
}

// NewStore starts from initial.
func NewStore(initial Settings) *Store {
	return &Store{
		current: initial,
		subs:    make(map[int]chan Settings),
	}
}

// Get returns the current snapshot.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update applies mutate to the snapshot and notifies subscribers. Returns
// the resulting snapshot.
func (s *Store) Update(mutate func(*Settings)) Settings {
	s.mu.Lock()
	mutate(&s.current)
	snapshot := s.current
	for _, ch := range s.subs {
		// A full subscriber misses this update and catches up on the next
		// one; settings are state, not a log.
		select {
		case ch <- snapshot:
		default:
		}
	}
	s.mu.Unlock()
	return snapshot
}

// Subscribe registers for change notifications. The cancel func releases
// the subscription; after cancel the channel stops receiving and is closed.
func (s *Store) Subscribe(buffer int) (<-chan Settings, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Settings, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		sub, ok := s.subs[id]
		delete(s.subs, id)
		s.mu.Unlock()
		if ok {
			close(sub)
		}
	}
	return ch, cancel
}
