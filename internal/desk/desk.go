// Package desk is the staff support dashboard: the session list, the open
// conversation and every action a staff member can take on them.
package desk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/client"
	"retail-ops/support-chat/internal/dispatcher"
	"retail-ops/support-chat/internal/models"
	"retail-ops/support-chat/internal/search"
	"retail-ops/support-chat/internal/store"
	"retail-ops/support-chat/internal/syncer"
)

const (
	actionAccept = "accept"
	actionEnd    = "end"
)

var ErrNoSession = errors.New("no session open")

type Config struct {
	Sync          syncer.Config
	ActionTimeout time.Duration
}

// SessionInvalidated is returned by a successful Accept. The accepted id may
// have been merged away on the server, so the selection was dropped and
// re-derived from a fresh list. Current is zero when nothing matched.
type SessionInvalidated struct {
	PreviousID primitive.ObjectID
	Current    primitive.ObjectID
}

type Desk struct {
	api      client.API
	staffID  string
	timeout  time.Duration
	sessions *store.SessionStore
	messages *store.MessageStore
	sched    *syncer.Scheduler
	search   *search.Controller
	actions  *dispatcher.Dispatcher

	mu       sync.Mutex
	ctx      context.Context
	selected primitive.ObjectID
}

func New(api client.API, staffID string, cfg Config) *Desk {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}
	sessions, messages := store.NewSessionStore(), store.NewMessageStore()
	sched := syncer.New(api, sessions, messages, cfg.Sync)
	return &Desk{
		api:      api,
		staffID:  staffID,
		timeout:  cfg.ActionTimeout,
		sessions: sessions,
		messages: messages,
		sched:    sched,
		search:   search.NewController(api, messages, sched),
		actions:  dispatcher.New(api, sessions, messages, cfg.ActionTimeout),
		ctx:      context.Background(),
	}
}

// Mount loads the session list once and starts polling it. Polls stop when
// ctx is cancelled or Unmount is called.
func (d *Desk) Mount(ctx context.Context) {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	d.refreshSessions(ctx)
	d.sched.StartSessions(ctx)
}

func (d *Desk) Unmount() {
	d.sched.Stop()
	d.actions.Wait()
}

// Open switches the conversation view to the given session.
func (d *Desk) Open(id primitive.ObjectID) error {
	if _, ok := d.sessions.Get(id); !ok {
		return fmt.Errorf("session %s: %w", id.Hex(), models.ErrNotFound)
	}
	d.search.Reset()

	d.mu.Lock()
	d.selected = id
	ctx := d.ctx
	d.mu.Unlock()

	d.sched.StopMessages()
	d.messages.Reset(id)
	d.sched.StartMessages(ctx, id)
	d.actions.MarkRead(id)
	return nil
}

// Close leaves the conversation view.
func (d *Desk) Close() {
	d.mu.Lock()
	d.selected = primitive.NilObjectID
	d.mu.Unlock()
	d.search.Reset()
	d.sched.StopMessages()
	d.messages.Reset(primitive.NilObjectID)
}

func (d *Desk) Selected() (primitive.ObjectID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected, !d.selected.IsZero()
}

// Accept takes over a waiting session. When another staff member got there
// first the error is a *models.ConflictError naming them.
func (d *Desk) Accept(ctx context.Context, id primitive.ObjectID) (*SessionInvalidated, error) {
	accepted, _ := d.sessions.Get(id)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.api.AcceptStaff(callCtx, id)
	cancel()
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			d.refreshSessions(ctx)
		}
		log.Printf("[ACTION] %s %s failed: %v", actionAccept, id.Hex(), err)
		return nil, &dispatcher.ActionError{Action: actionAccept, Err: err}
	}

	if cur, ok := d.Selected(); ok && cur == id {
		d.Close()
	}
	d.refreshSessions(ctx)

	result := &SessionInvalidated{PreviousID: id}
	if next, ok := d.findConnected(id, accepted.CustomerID); ok {
		result.Current = next
		if err := d.Open(next); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (d *Desk) findConnected(prev primitive.ObjectID, customerID string) (primitive.ObjectID, bool) {
	var found primitive.ObjectID
	for _, s := range d.sessions.All() {
		if s.Mode != models.ModeStaffConnected || !s.AssignedTo(d.staffID) {
			continue
		}
		if s.ID == prev {
			return s.ID, true
		}
		if customerID != "" && s.CustomerID == customerID && found.IsZero() {
			found = s.ID
		}
	}
	return found, !found.IsZero()
}

// End hands the session back to the assistant.
func (d *Desk) End(ctx context.Context, id primitive.ObjectID) error {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.api.EndStaffChat(callCtx, id)
	cancel()
	if err != nil {
		log.Printf("[ACTION] %s %s failed: %v", actionEnd, id.Hex(), err)
		return &dispatcher.ActionError{Action: actionEnd, Err: err}
	}
	if cur, ok := d.Selected(); ok && cur == id {
		d.Close()
	}
	d.refreshSessions(ctx)
	return nil
}

// Search filters the open conversation; an empty query returns to live view.
func (d *Desk) Search(ctx context.Context, query string) error {
	id, ok := d.Selected()
	if !ok {
		return ErrNoSession
	}
	if strings.TrimSpace(query) == "" {
		// the resumed poll must outlive this call
		return d.search.Apply(d.pollCtx(), id, "")
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.search.Apply(callCtx, id, query)
}

// Send posts to the open session and leaves search mode if it was on.
func (d *Desk) Send(ctx context.Context, content string, msgType models.MessageType) (*models.ChatMessage, error) {
	id, ok := d.Selected()
	if !ok {
		return nil, ErrNoSession
	}
	msg, err := d.actions.Post(ctx, id, content, msgType)
	if err != nil {
		return nil, err
	}
	// leave search first so the message never lands on a filtered result set
	d.search.Exit(d.pollCtx())
	d.messages.Append(*msg)
	return msg, nil
}

func (d *Desk) pollCtx() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx
}

func (d *Desk) SetPinned(ctx context.Context, id primitive.ObjectID, pinned bool) error {
	return d.actions.SetPinned(ctx, id, pinned)
}

func (d *Desk) SetMuted(ctx context.Context, id primitive.ObjectID, muted bool) error {
	return d.actions.SetMuted(ctx, id, muted)
}

func (d *Desk) DeleteSession(ctx context.Context, id primitive.ObjectID, confirmed bool) error {
	if err := d.actions.DeleteSession(ctx, id, confirmed); err != nil {
		return err
	}
	if cur, ok := d.Selected(); ok && cur == id {
		d.Close()
	}
	return nil
}

func (d *Desk) DeleteMessage(ctx context.Context, id primitive.ObjectID, confirmed bool) error {
	return d.actions.DeleteMessage(ctx, id, confirmed)
}

func (d *Desk) EditMessage(ctx context.Context, id primitive.ObjectID, content string) error {
	return d.actions.EditMessage(ctx, id, content)
}

func (d *Desk) Sessions() []models.ChatSession {
	return d.sessions.List()
}

func (d *Desk) Messages() []models.ChatMessage {
	return d.messages.List()
}

func (d *Desk) Timeline() []store.TimelineEntry {
	return store.BuildTimeline(d.messages.List())
}

func (d *Desk) SearchActive() bool {
	return d.search.Active()
}

func (d *Desk) Polling() bool {
	return d.sched.MessagePolling()
}

func (d *Desk) refreshSessions(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.sched.RefreshSessions(ctx); err != nil {
		log.Printf("[SYNC] session refresh failed: %v", err)
	}
}
