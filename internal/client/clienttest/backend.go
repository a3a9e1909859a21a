// Package clienttest provides an in-memory support backend implementing client.API.
package clienttest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/client"
	"retail-ops/support-chat/internal/models"
)

var _ client.API = (*Backend)(nil)

// Backend is safe for concurrent use. Failures injected with Fail are
// returned by the named method until Recover is called.
type Backend struct {
	StaffID string
	// RenumberOnAccept gives an accepted session a new id, as a server-side merge does.
	RenumberOnAccept bool

	mu       sync.Mutex
	order    []primitive.ObjectID
	sessions map[primitive.ObjectID]*models.ChatSession
	messages map[primitive.ObjectID][]models.ChatMessage
	failures map[string]error
	calls    map[string]int
	fetches  map[primitive.ObjectID]int
	delays   map[string]time.Duration
}

func NewBackend(staffID string) *Backend {
	return &Backend{
		StaffID:  staffID,
		sessions: map[primitive.ObjectID]*models.ChatSession{},
		messages: map[primitive.ObjectID][]models.ChatMessage{},
		failures: map[string]error{},
		calls:    map[string]int{},
		fetches:  map[primitive.ObjectID]int{},
		delays:   map[string]time.Duration{},
	}
}

func (b *Backend) AddSession(s models.ChatSession) models.ChatSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	c := s.Clone()
	b.sessions[s.ID] = &c
	b.order = append(b.order, s.ID)
	return s
}

func (b *Backend) AddMessage(m models.ChatMessage) models.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	if m.Type == "" {
		m.Type = models.MessageText
	}
	b.messages[m.ChatID] = append(b.messages[m.ChatID], m)
	return m
}

// Session returns the backend's copy of a session.
func (b *Backend) Session(id primitive.ObjectID) (models.ChatSession, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return models.ChatSession{}, false
	}
	return s.Clone(), true
}

// Assign connects a session to another staff member behind the client's back.
func (b *Backend) Assign(id primitive.ObjectID, staffID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		s.Mode = models.ModeStaffConnected
		s.AssignedStaffID = models.StringPtr(staffID)
	}
}

func (b *Backend) Fail(method string, err error) {
	b.mu.Lock()
	b.failures[method] = err
	b.mu.Unlock()
}

func (b *Backend) Recover(method string) {
	b.mu.Lock()
	delete(b.failures, method)
	b.mu.Unlock()
}

// Delay makes the named method sleep before answering.
func (b *Backend) Delay(method string, d time.Duration) {
	b.mu.Lock()
	b.delays[method] = d
	b.mu.Unlock()
}

func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// Fetches counts GetMessages calls for one session.
func (b *Backend) Fetches(id primitive.ObjectID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches[id]
}

func (b *Backend) enter(ctx context.Context, method string) error {
	b.mu.Lock()
	b.calls[method]++
	d := b.delays[method]
	err := b.failures[method]
	b.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (b *Backend) ListWaitingSessions(ctx context.Context) ([]models.ChatSession, error) {
	if err := b.enter(ctx, "ListWaitingSessions"); err != nil {
		return nil, err
	}
	return b.filter(func(s *models.ChatSession) bool { return s.Mode == models.ModeWaitingStaff }), nil
}

func (b *Backend) ListMySessions(ctx context.Context) ([]models.ChatSession, error) {
	if err := b.enter(ctx, "ListMySessions"); err != nil {
		return nil, err
	}
	return b.filter(func(s *models.ChatSession) bool { return s.AssignedTo(b.StaffID) }), nil
}

func (b *Backend) filter(keep func(*models.ChatSession) bool) []models.ChatSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.ChatSession
	for _, id := range b.order {
		if s, ok := b.sessions[id]; ok && keep(s) {
			out = append(out, s.Clone())
		}
	}
	return out
}

func (b *Backend) GetMessages(ctx context.Context, sessionID primitive.ObjectID) ([]models.ChatMessage, error) {
	b.mu.Lock()
	b.fetches[sessionID]++
	b.mu.Unlock()
	if err := b.enter(ctx, "GetMessages"); err != nil {
		return nil, err
	}
	return b.visible(sessionID, ""), nil
}

func (b *Backend) SearchMessages(ctx context.Context, sessionID primitive.ObjectID, query string) ([]models.ChatMessage, error) {
	if err := b.enter(ctx, "SearchMessages"); err != nil {
		return nil, err
	}
	return b.visible(sessionID, query), nil
}

func (b *Backend) visible(sessionID primitive.ObjectID, query string) []models.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[sessionID]; !ok {
		return nil
	}
	var out []models.ChatMessage
	for _, m := range b.messages[sessionID] {
		if m.IsDeleted {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(query)) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

func (b *Backend) SendMessage(ctx context.Context, sessionID primitive.ObjectID, content string, msgType models.MessageType) (*models.ChatMessage, error) {
	if err := b.enter(ctx, "SendMessage"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	m := models.ChatMessage{
		ID:         primitive.NewObjectID(),
		ChatID:     sessionID,
		SenderID:   b.StaffID,
		SenderRole: models.RoleStaff,
		Content:    content,
		Type:       msgType,
		CreatedAt:  time.Now().UTC(),
	}
	b.messages[sessionID] = append(b.messages[sessionID], m)
	s.LastMessage = m.Summary()
	return &m, nil
}

func (b *Backend) EditMessage(ctx context.Context, messageID primitive.ObjectID, content string) (*models.ChatMessage, error) {
	if err := b.enter(ctx, "EditMessage"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.findMessage(messageID)
	if m == nil {
		return nil, models.ErrNotFound
	}
	now := time.Now().UTC()
	m.Content = content
	m.IsEdited = true
	m.UpdatedAt = &now
	out := m.Clone()
	return &out, nil
}

func (b *Backend) DeleteMessage(ctx context.Context, messageID primitive.ObjectID) error {
	if err := b.enter(ctx, "DeleteMessage"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.findMessage(messageID)
	if m == nil {
		return models.ErrNotFound
	}
	m.IsDeleted = true
	return nil
}

func (b *Backend) findMessage(id primitive.ObjectID) *models.ChatMessage {
	for chat := range b.messages {
		list := b.messages[chat]
		for i := range list {
			if list[i].ID == id && !list[i].IsDeleted {
				return &list[i]
			}
		}
	}
	return nil
}

func (b *Backend) MarkSessionRead(ctx context.Context, sessionID primitive.ObjectID) error {
	return b.mutate(ctx, "MarkSessionRead", sessionID, func(s *models.ChatSession) error {
		s.UnreadCount = 0
		return nil
	})
}

func (b *Backend) SetPinned(ctx context.Context, sessionID primitive.ObjectID, pinned bool) error {
	return b.mutate(ctx, "SetPinned", sessionID, func(s *models.ChatSession) error {
		s.IsPinned = pinned
		return nil
	})
}

func (b *Backend) SetMuted(ctx context.Context, sessionID primitive.ObjectID, muted bool) error {
	return b.mutate(ctx, "SetMuted", sessionID, func(s *models.ChatSession) error {
		s.IsMuted = muted
		return nil
	})
}

func (b *Backend) DeleteSession(ctx context.Context, sessionID primitive.ObjectID) error {
	if err := b.enter(ctx, "DeleteSession"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[sessionID]; !ok {
		return models.ErrNotFound
	}
	b.remove(sessionID)
	return nil
}

func (b *Backend) AcceptStaff(ctx context.Context, sessionID primitive.ObjectID) error {
	if err := b.enter(ctx, "AcceptStaff"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return models.ErrNotFound
	}
	if s.AssignedStaffID != nil {
		return &models.ConflictError{AssignedStaffID: *s.AssignedStaffID}
	}
	if s.Mode != models.ModeWaitingStaff {
		return fmt.Errorf("%w: accept from %s", models.ErrInvalidTransition, s.Mode)
	}
	s.Mode = models.ModeStaffConnected
	s.AssignedStaffID = models.StringPtr(b.StaffID)

	if b.RenumberOnAccept {
		moved := s.Clone()
		moved.ID = primitive.NewObjectID()
		msgs := b.messages[sessionID]
		for i := range msgs {
			msgs[i].ChatID = moved.ID
		}
		b.remove(sessionID)
		b.sessions[moved.ID] = &moved
		b.messages[moved.ID] = msgs
		b.order = append(b.order, moved.ID)
	}
	return nil
}

func (b *Backend) EndStaffChat(ctx context.Context, sessionID primitive.ObjectID) error {
	return b.mutate(ctx, "EndStaffChat", sessionID, func(s *models.ChatSession) error {
		if s.Mode != models.ModeStaffConnected {
			return fmt.Errorf("%w: end from %s", models.ErrInvalidTransition, s.Mode)
		}
		s.Mode = models.ModeAI
		s.AssignedStaffID = nil
		return nil
	})
}

func (b *Backend) mutate(ctx context.Context, method string, id primitive.ObjectID, fn func(*models.ChatSession) error) error {
	if err := b.enter(ctx, method); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	return fn(s)
}

func (b *Backend) remove(id primitive.ObjectID) {
	delete(b.sessions, id)
	delete(b.messages, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}
