// Package store keeps the staff client's in-memory view of sessions and
// of the open session's messages. All access is mutex-guarded; poll results
// are applied with a single swap.
package store

import (
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/models"
)

// SessionSnapshot is what an optimistic mutation needs to undo itself.
type SessionSnapshot struct {
	Prev    models.ChatSession
	Index   int
	Version uint64
}

type SessionStore struct {
	mu       sync.RWMutex
	sessions []models.ChatSession
	version  uint64
}

func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

// Replace swaps in a freshly fetched list.
func (s *SessionStore) Replace(list []models.ChatSession) {
	next := make([]models.ChatSession, len(list))
	for i := range list {
		next[i] = list[i].Clone()
	}
	s.mu.Lock()
	s.sessions = next
	s.version++
	s.mu.Unlock()
}

func (s *SessionStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// All returns the sessions in stored order.
func (s *SessionStore) All() []models.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatSession, len(s.sessions))
	for i := range s.sessions {
		out[i] = s.sessions[i].Clone()
	}
	return out
}

// List returns the sessions ordered for display: pinned first, then most
// recent activity first.
func (s *SessionStore) List() []models.ChatSession {
	out := s.All()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsPinned != out[j].IsPinned {
			return out[i].IsPinned
		}
		return out[i].Activity().After(out[j].Activity())
	})
	return out
}

func (s *SessionStore) Get(id primitive.ObjectID) (models.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.sessions[i].Clone(), true
	}
	return models.ChatSession{}, false
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Update applies fn to the session with the given id.
func (s *SessionStore) Update(id primitive.ObjectID, fn func(*models.ChatSession)) (SessionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return SessionSnapshot{}, false
	}
	snap := SessionSnapshot{Prev: s.sessions[i].Clone(), Index: i, Version: s.version}
	fn(&s.sessions[i])
	return snap, true
}

// Restore undoes an Update. When no poll replaced the list in between the
// previous value is put back as is; otherwise revert is applied to the
// current copy so fresher fields are kept.
func (s *SessionStore) Restore(snap SessionSnapshot, revert func(*models.ChatSession)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(snap.Prev.ID)
	if i < 0 {
		return
	}
	if snap.Version == s.version {
		s.sessions[i] = snap.Prev.Clone()
		return
	}
	if revert != nil {
		revert(&s.sessions[i])
	}
}

func (s *SessionStore) Remove(id primitive.ObjectID) (SessionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return SessionSnapshot{}, false
	}
	snap := SessionSnapshot{Prev: s.sessions[i], Index: i, Version: s.version}
	s.sessions = append(s.sessions[:i:i], s.sessions[i+1:]...)
	return snap, true
}

// Reinsert undoes a Remove. A list fetched after the removal already
// reflects the server, so nothing is inserted in that case.
func (s *SessionStore) Reinsert(snap SessionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Version != s.version || s.indexOf(snap.Prev.ID) >= 0 {
		return
	}
	i := snap.Index
	if i > len(s.sessions) {
		i = len(s.sessions)
	}
	s.sessions = append(s.sessions[:i], append([]models.ChatSession{snap.Prev}, s.sessions[i:]...)...)
}

func (s *SessionStore) indexOf(id primitive.ObjectID) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}
