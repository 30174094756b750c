package server

import (
	"sort"
	"sync"
)

// Registry is the shared set of live sessions.
//
// Readers get snapshots: the returned slices never change under the caller,
// so broadcasts may iterate while other workers add or remove sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // session ID -> session
	nextSeq  uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add inserts a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	s.seq = r.nextSeq
	r.sessions[s.ID] = s
}

// Remove deletes a session and reports whether it was present.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return false
	}
	delete(r.sessions, s.ID)
	return true
}

// Get retrieves a session by ID.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// FindAuthenticated returns the session logged in as username, or nil.
func (r *Registry) FindAuthenticated(username string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.Username() == username {
			return s
		}
	}
	return nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns all live sessions in connection order.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

// Members returns the authenticated sessions currently in room.
func (r *Registry) Members(room string) []*Session {
	var members []*Session
	for _, s := range r.Snapshot() {
		snap := s.Snapshot()
		if snap.Username != "" && snap.Room == room {
			members = append(members, s)
		}
	}
	return members
}

// Occupants returns the usernames of Members(room).
func (r *Registry) Occupants(room string) []string {
	members := r.Members(room)
	names := make([]string, 0, len(members))
	for _, s := range members {
		names = append(names, s.Username())
	}
	return names
}

// CountInRoom returns len(Members(room)).
func (r *Registry) CountInRoom(room string) int {
	return len(r.Members(room))
}
