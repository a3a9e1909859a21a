package store

import (
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/models"
)

type MessageSnapshot struct {
	Prev    models.ChatMessage
	Index   int
	Version uint64
}

// MessageStore holds the messages of the open session ordered by creation
// time. Messages with equal timestamps keep the order the server sent them in.
type MessageStore struct {
	mu        sync.RWMutex
	sessionID primitive.ObjectID
	messages  []models.ChatMessage
	version   uint64
}

func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

func (s *MessageStore) Replace(sessionID primitive.ObjectID, msgs []models.ChatMessage) {
	next := make([]models.ChatMessage, 0, len(msgs))
	for i := range msgs {
		if msgs[i].IsDeleted {
			continue
		}
		next = append(next, msgs[i].Clone())
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].CreatedAt.Before(next[j].CreatedAt)
	})
	s.mu.Lock()
	s.sessionID = sessionID
	s.messages = next
	s.version++
	s.mu.Unlock()
}

// Reset empties the store and binds it to another session.
func (s *MessageStore) Reset(sessionID primitive.ObjectID) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.messages = nil
	s.version++
	s.mu.Unlock()
}

func (s *MessageStore) SessionID() primitive.ObjectID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *MessageStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *MessageStore) List() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatMessage, len(s.messages))
	for i := range s.messages {
		out[i] = s.messages[i].Clone()
	}
	return out
}

func (s *MessageStore) Get(id primitive.ObjectID) (models.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.messages[i].Clone(), true
	}
	return models.ChatMessage{}, false
}

// Append adds a message sent from this client. Messages for another
// session and ids already present are ignored.
func (s *MessageStore) Append(msg models.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ChatID != s.sessionID || s.indexOf(msg.ID) >= 0 {
		return false
	}
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	s.messages = append(s.messages[:i], append([]models.ChatMessage{msg.Clone()}, s.messages[i:]...)...)
	return true
}

func (s *MessageStore) Update(id primitive.ObjectID, fn func(*models.ChatMessage)) (MessageSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return MessageSnapshot{}, false
	}
	snap := MessageSnapshot{Prev: s.messages[i].Clone(), Index: i, Version: s.version}
	fn(&s.messages[i])
	return snap, true
}

// Set overwrites a message in place, used to adopt the server copy after an edit.
func (s *MessageStore) Set(msg models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(msg.ID); i >= 0 {
		s.messages[i] = msg.Clone()
	}
}

// Restore undoes an Update unless a fetch replaced the list in between.
func (s *MessageStore) Restore(snap MessageSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Version != s.version {
		return
	}
	if i := s.indexOf(snap.Prev.ID); i >= 0 {
		s.messages[i] = snap.Prev.Clone()
	}
}

func (s *MessageStore) Remove(id primitive.ObjectID) (MessageSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return MessageSnapshot{}, false
	}
	snap := MessageSnapshot{Prev: s.messages[i], Index: i, Version: s.version}
	s.messages = append(s.messages[:i:i], s.messages[i+1:]...)
	return snap, true
}

// Reinsert puts a removed message back at its original position.
func (s *MessageStore) Reinsert(snap MessageSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Version != s.version || s.indexOf(snap.Prev.ID) >= 0 {
		return
	}
	i := snap.Index
	if i > len(s.messages) {
		i = len(s.messages)
	}
	s.messages = append(s.messages[:i], append([]models.ChatMessage{snap.Prev}, s.messages[i:]...)...)
}

func (s *MessageStore) indexOf(id primitive.ObjectID) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}
