package presence

import (
	"sync"

	"github.com/qiwen/lan-chat/internal/model/presence"
)

// Service owns the authoritative roster of connected participants. It is
// the only writer; clients receive read-only snapshots via broadcast.
type Service struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]presence.Participant
}

// NewService bootstraps an empty in-memory roster.
func NewService() *Service {
	return &Service{
		entries: make(map[string]presence.Participant),
	}
}

// Upsert adds a participant or replaces the entry with the same
// connection id. A replaced entry keeps its position in join order; a
// new one is appended.
func (s *Service) Upsert(p presence.Participant) {
	if p.ConnectionID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[p.ConnectionID]; !ok {
		s.order = append(s.order, p.ConnectionID)
	}
	s.entries[p.ConnectionID] = p
}

// Remove drops the participant for a closed connection. Removing an
// unknown id is a no-op.
func (s *Service) Remove(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[connectionID]; !ok {
		return
	}
	delete(s.entries, connectionID)
	for i, id := range s.order {
		if id == connectionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns the roster in join order. The returned slice is a
// copy and safe for the caller to retain.
func (s *Service) Snapshot() []presence.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]presence.Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

// Len reports the number of live participants.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
