// Package dispatcher applies staff actions to the local stores first and
// then confirms them with the server, undoing the local change on failure.
package dispatcher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/client"
	"retail-ops/support-chat/internal/models"
	"retail-ops/support-chat/internal/store"
)

const (
	ActionMarkRead      = "mark-read"
	ActionPin           = "pin"
	ActionMute          = "mute"
	ActionDeleteSession = "delete-session"
	ActionDeleteMessage = "delete-message"
	ActionEditMessage   = "edit-message"
	ActionSend          = "send"
)

// ActionError reports a user action the server refused or never answered.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

type Dispatcher struct {
	api      client.API
	sessions *store.SessionStore
	messages *store.MessageStore
	timeout  time.Duration

	background sync.WaitGroup
}

func New(api client.API, sessions *store.SessionStore, messages *store.MessageStore, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{api: api, sessions: sessions, messages: messages, timeout: timeout}
}

// MarkRead clears the unread badge of a session and tells the server in the
// background. A failed call is logged and the badge stays cleared. It
// reports whether anything was sent.
func (d *Dispatcher) MarkRead(id primitive.ObjectID) bool {
	s, ok := d.sessions.Get(id)
	if !ok || s.UnreadCount == 0 {
		return false
	}
	d.sessions.Update(id, func(s *models.ChatSession) { s.UnreadCount = 0 })

	d.background.Add(1)
	go func() {
		defer d.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.api.MarkSessionRead(ctx, id); err != nil {
			log.Printf("[MARK-READ] session %s: %v (badge left cleared)", id.Hex(), err)
		}
	}()
	return true
}

// Wait blocks until background mark-read calls have returned.
func (d *Dispatcher) Wait() {
	d.background.Wait()
}

func (d *Dispatcher) SetPinned(ctx context.Context, id primitive.ObjectID, pinned bool) error {
	snap, ok := d.sessions.Update(id, func(s *models.ChatSession) { s.IsPinned = pinned })
	if !ok {
		return d.fail(ActionPin, fmt.Errorf("session %s: %w", id.Hex(), models.ErrNotFound))
	}
	err := d.call(ctx, func(ctx context.Context) error { return d.api.SetPinned(ctx, id, pinned) })
	if err != nil {
		d.sessions.Restore(snap, func(s *models.ChatSession) { s.IsPinned = snap.Prev.IsPinned })
		return d.fail(ActionPin, err)
	}
	return nil
}

func (d *Dispatcher) SetMuted(ctx context.Context, id primitive.ObjectID, muted bool) error {
	snap, ok := d.sessions.Update(id, func(s *models.ChatSession) { s.IsMuted = muted })
	if !ok {
		return d.fail(ActionMute, fmt.Errorf("session %s: %w", id.Hex(), models.ErrNotFound))
	}
	err := d.call(ctx, func(ctx context.Context) error { return d.api.SetMuted(ctx, id, muted) })
	if err != nil {
		d.sessions.Restore(snap, func(s *models.ChatSession) { s.IsMuted = snap.Prev.IsMuted })
		return d.fail(ActionMute, err)
	}
	return nil
}

// DeleteSession removes a session for good. confirmed must be set by the
// caller after asking the user.
func (d *Dispatcher) DeleteSession(ctx context.Context, id primitive.ObjectID, confirmed bool) error {
	if !confirmed {
		return &ActionError{Action: ActionDeleteSession, Err: models.ErrConfirmationRequired}
	}
	snap, ok := d.sessions.Remove(id)
	if !ok {
		return d.fail(ActionDeleteSession, fmt.Errorf("session %s: %w", id.Hex(), models.ErrNotFound))
	}
	err := d.call(ctx, func(ctx context.Context) error { return d.api.DeleteSession(ctx, id) })
	if err != nil {
		d.sessions.Reinsert(snap)
		return d.fail(ActionDeleteSession, err)
	}
	return nil
}

func (d *Dispatcher) DeleteMessage(ctx context.Context, id primitive.ObjectID, confirmed bool) error {
	if !confirmed {
		return &ActionError{Action: ActionDeleteMessage, Err: models.ErrConfirmationRequired}
	}
	snap, ok := d.messages.Remove(id)
	if !ok {
		return d.fail(ActionDeleteMessage, fmt.Errorf("message %s: %w", id.Hex(), models.ErrNotFound))
	}
	err := d.call(ctx, func(ctx context.Context) error { return d.api.DeleteMessage(ctx, id) })
	if err != nil {
		d.messages.Reinsert(snap)
		return d.fail(ActionDeleteMessage, err)
	}
	return nil
}

func (d *Dispatcher) EditMessage(ctx context.Context, id primitive.ObjectID, content string) error {
	if err := models.ValidateContent(content); err != nil {
		return &ActionError{Action: ActionEditMessage, Err: err}
	}
	now := time.Now().UTC()
	snap, ok := d.messages.Update(id, func(m *models.ChatMessage) {
		m.Content = content
		m.IsEdited = true
		m.UpdatedAt = &now
	})
	if !ok {
		return d.fail(ActionEditMessage, fmt.Errorf("message %s: %w", id.Hex(), models.ErrNotFound))
	}

	var updated *models.ChatMessage
	err := d.call(ctx, func(ctx context.Context) error {
		var err error
		updated, err = d.api.EditMessage(ctx, id, content)
		return err
	})
	if err != nil {
		d.messages.Restore(snap)
		return d.fail(ActionEditMessage, err)
	}
	if updated != nil {
		d.messages.Set(*updated)
	}
	return nil
}

// Send posts a new message. It is not applied optimistically; the stored
// copy is the one the server returns.
func (d *Dispatcher) Send(ctx context.Context, sessionID primitive.ObjectID, content string, msgType models.MessageType) (*models.ChatMessage, error) {
	msg, err := d.Post(ctx, sessionID, content, msgType)
	if err != nil {
		return nil, err
	}
	d.messages.Append(*msg)
	return msg, nil
}

// Post validates and sends a message without touching the message store.
func (d *Dispatcher) Post(ctx context.Context, sessionID primitive.ObjectID, content string, msgType models.MessageType) (*models.ChatMessage, error) {
	if msgType == "" {
		msgType = models.MessageText
	}
	if err := models.ValidateContent(content); err != nil {
		return nil, &ActionError{Action: ActionSend, Err: err}
	}
	if !msgType.Valid() {
		return nil, &ActionError{Action: ActionSend, Err: fmt.Errorf("%w: unknown message type %q", models.ErrValidation, msgType)}
	}

	var msg *models.ChatMessage
	err := d.call(ctx, func(ctx context.Context) error {
		var err error
		msg, err = d.api.SendMessage(ctx, sessionID, content, msgType)
		return err
	})
	if err != nil {
		return nil, d.fail(ActionSend, err)
	}
	return msg, nil
}

func (d *Dispatcher) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return fn(ctx)
}

func (d *Dispatcher) fail(action string, err error) error {
	log.Printf("[ACTION] %s failed: %v", action, err)
	return &ActionError{Action: action, Err: err}
}
