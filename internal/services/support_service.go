package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/assistant"
	"retail-ops/support-chat/internal/lifecycle"
	"retail-ops/support-chat/internal/models"
	"retail-ops/support-chat/internal/repository"
)

type SupportService interface {
	// customer side
	StartSession(ctx context.Context, customer models.Actor) (*models.ChatSession, error)
	CustomerSessions(ctx context.Context, customerID string) ([]models.ChatSession, error)
	CustomerMessages(ctx context.Context, customerID string, sessionID primitive.ObjectID) ([]models.ChatMessage, error)
	CustomerSend(ctx context.Context, customer models.Actor, sessionID primitive.ObjectID, content string, msgType models.MessageType) (*models.ChatMessage, error)
	RequestStaff(ctx context.Context, customerID string, sessionID primitive.ObjectID) error

	// staff side
	WaitingSessions(ctx context.Context, staffID string) ([]models.ChatSession, error)
	MySessions(ctx context.Context, staffID string) ([]models.ChatSession, error)
	Messages(ctx context.Context, sessionID primitive.ObjectID) ([]models.ChatMessage, error)
	SearchMessages(ctx context.Context, sessionID primitive.ObjectID, query string) ([]models.ChatMessage, error)
	StaffSend(ctx context.Context, staff models.Actor, sessionID primitive.ObjectID, content string, msgType models.MessageType, idempotencyKey string) (*models.ChatMessage, error)
	EditMessage(ctx context.Context, actor models.Actor, messageID primitive.ObjectID, content string) (*models.ChatMessage, error)
	DeleteMessage(ctx context.Context, actor models.Actor, messageID primitive.ObjectID) error
	MarkRead(ctx context.Context, sessionID primitive.ObjectID) error
	SetPinned(ctx context.Context, staffID string, sessionID primitive.ObjectID, pinned bool) error
	SetMuted(ctx context.Context, staffID string, sessionID primitive.ObjectID, muted bool) error
	DeleteSession(ctx context.Context, sessionID primitive.ObjectID) error
	// AcceptStaff returns the id the session lives under afterwards, which
	// differs from sessionID when it was merged into an earlier conversation.
	AcceptStaff(ctx context.Context, staffID string, sessionID primitive.ObjectID) (primitive.ObjectID, error)
	EndStaffChat(ctx context.Context, staffID string, sessionID primitive.ObjectID) error
}

type supportService struct {
	sessions  repository.SessionRepository
	messages  repository.MessageRepository
	prefs     repository.PreferenceRepository
	queue     QueueCache
	events    EventPublisher
	idem      IdempotencyStore
	assistant assistant.Responder
}

func NewSupportService(
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	prefs repository.PreferenceRepository,
	queue QueueCache,
	events EventPublisher,
	idem IdempotencyStore,
	responder assistant.Responder,
) SupportService {
	return &supportService{
		sessions:  sessions,
		messages:  messages,
		prefs:     prefs,
		queue:     queue,
		events:    events,
		idem:      idem,
		assistant: responder,
	}
}

// --- Customer side ---

func (s *supportService) StartSession(ctx context.Context, customer models.Actor) (*models.ChatSession, error) {
	session := &models.ChatSession{CustomerID: customer.ID, CustomerName: customer.Name}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *supportService) CustomerSessions(ctx context.Context, customerID string) ([]models.ChatSession, error) {
	return s.sessions.ListByCustomer(ctx, customerID)
}

func (s *supportService) CustomerMessages(ctx context.Context, customerID string, sessionID primitive.ObjectID) ([]models.ChatMessage, error) {
	if _, err := s.ownedSession(ctx, customerID, sessionID); err != nil {
		return nil, err
	}
	return s.messages.ListBySession(ctx, sessionID)
}

func (s *supportService) CustomerSend(ctx context.Context, customer models.Actor, sessionID primitive.ObjectID, content string, msgType models.MessageType) (*models.ChatMessage, error) {
	session, err := s.ownedSession(ctx, customer.ID, sessionID)
	if err != nil {
		return nil, err
	}
	msg := &models.ChatMessage{
		ChatID:     sessionID,
		SenderID:   customer.ID,
		SenderName: customer.Name,
		SenderRole: models.RoleCustomer,
		Content:    content,
		Type:       msgType,
	}
	if err := s.store(ctx, session, msg, 1); err != nil {
		return nil, err
	}
	if session.Mode == models.ModeAI {
		s.replyAsAssistant(ctx, session)
	}
	return msg, nil
}

func (s *supportService) RequestStaff(ctx context.Context, customerID string, sessionID primitive.ObjectID) error {
	session, err := s.ownedSession(ctx, customerID, sessionID)
	if err != nil {
		return err
	}
	probe := session.Clone()
	if err := lifecycle.Apply(&probe, lifecycle.RequestStaff, ""); err != nil {
		return err
	}
	ok, err := s.sessions.MarkWaiting(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: session is no longer in AI mode", models.ErrInvalidTransition)
	}
	s.queue.Invalidate(ctx)
	s.publish(ctx, SupportEvent{
		Role:      models.RoleStaff,
		EventType: EventStaffRequested,
		Title:     "Customer needs help",
		Message:   fmt.Sprintf("%s asked for a staff member", displayName(session)),
		ExtraData: map[string]string{"session_id": sessionID.Hex()},
	})
	return nil
}

func (s *supportService) ownedSession(ctx context.Context, customerID string, sessionID primitive.ObjectID) (*models.ChatSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CustomerID != customerID {
		return nil, fmt.Errorf("%w: session belongs to another customer", models.ErrForbidden)
	}
	return session, nil
}

func (s *supportService) replyAsAssistant(ctx context.Context, session *models.ChatSession) {
	history, err := s.messages.ListBySession(ctx, session.ID)
	if err != nil {
		log.Printf("[AI] Failed to load history for %s: %v", session.ID.Hex(), err)
		return
	}
	text, err := s.assistant.Reply(ctx, history)
	if err != nil {
		log.Printf("[AI] No reply for %s: %v", session.ID.Hex(), err)
		return
	}
	reply := &models.ChatMessage{
		ChatID:     session.ID,
		SenderID:   models.AISenderID,
		SenderName: "Assistant",
		SenderRole: models.RoleAI,
		Content:    text,
		Type:       models.MessageText,
	}
	if err := s.store(ctx, session, reply, 0); err != nil {
		log.Printf("[AI] Failed to store reply for %s: %v", session.ID.Hex(), err)
	}
}

// --- Staff side ---

func (s *supportService) WaitingSessions(ctx context.Context, staffID string) ([]models.ChatSession, error) {
	list, ok := s.queue.GetWaiting(ctx)
	if !ok {
		var err error
		list, err = s.sessions.ListByMode(ctx, models.ModeWaitingStaff)
		if err != nil {
			return nil, err
		}
		s.queue.SetWaiting(ctx, list)
	}
	return s.withPreferences(ctx, staffID, list)
}

func (s *supportService) MySessions(ctx context.Context, staffID string) ([]models.ChatSession, error) {
	list, err := s.sessions.ListAssigned(ctx, staffID)
	if err != nil {
		return nil, err
	}
	return s.withPreferences(ctx, staffID, list)
}

func (s *supportService) withPreferences(ctx context.Context, staffID string, list []models.ChatSession) ([]models.ChatSession, error) {
	ids := make([]primitive.ObjectID, len(list))
	for i := range list {
		ids[i] = list[i].ID
	}
	prefs, err := s.prefs.ForStaff(ctx, staffID, ids)
	if err != nil {
		return nil, err
	}
	for i := range list {
		p := prefs[list[i].ID]
		list[i].IsPinned = p.Pinned
		list[i].IsMuted = p.Muted
	}
	return list, nil
}

func (s *supportService) Messages(ctx context.Context, sessionID primitive.ObjectID) ([]models.ChatMessage, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.messages.ListBySession(ctx, sessionID)
}

func (s *supportService) SearchMessages(ctx context.Context, sessionID primitive.ObjectID, query string) ([]models.ChatMessage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is empty", models.ErrValidation)
	}
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.messages.Search(ctx, sessionID, query)
}

func (s *supportService) StaffSend(ctx context.Context, staff models.Actor, sessionID primitive.ObjectID, content string, msgType models.MessageType, idempotencyKey string) (*models.ChatMessage, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.AssignedTo(staff.ID) {
		return nil, fmt.Errorf("%w: session is not connected to you", models.ErrForbidden)
	}

	msg := &models.ChatMessage{
		ID:         primitive.NewObjectID(),
		ChatID:     sessionID,
		SenderID:   staff.ID,
		SenderName: staff.Name,
		SenderRole: models.RoleStaff,
		Content:    content,
		Type:       msgType,
	}
	if idempotencyKey != "" {
		key := staff.ID + ":" + idempotencyKey
		prev, fresh, err := s.idem.Reserve(ctx, key, msg.ID)
		if err != nil {
			log.Printf("[SUPPORT] Idempotency check failed, sending anyway: %v", err)
		} else if !fresh {
			existing, err := s.messages.GetByID(ctx, prev)
			if errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("%w: duplicate send in progress", models.ErrConflict)
			}
			return existing, err
		}
		if err := s.store(ctx, session, msg, 0); err != nil {
			s.idem.Release(ctx, key)
			return nil, err
		}
		return msg, nil
	}

	if err := s.store(ctx, session, msg, 0); err != nil {
		return nil, err
	}
	return msg, nil
}

// store validates and saves a message, then updates the session summary.
func (s *supportService) store(ctx context.Context, session *models.ChatSession, msg *models.ChatMessage, unreadInc int) error {
	if msg.Type == "" {
		msg.Type = models.MessageText
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return err
	}
	if err := s.sessions.SetLastMessage(ctx, session.ID, msg.Summary(), unreadInc); err != nil {
		return err
	}
	s.touch(ctx, session)
	return nil
}

func (s *supportService) EditMessage(ctx context.Context, actor models.Actor, messageID primitive.ObjectID, content string) (*models.ChatMessage, error) {
	if err := models.ValidateContent(content); err != nil {
		return nil, err
	}
	msg, err := s.liveMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actor.ID {
		return nil, fmt.Errorf("%w: only the sender can edit a message", models.ErrForbidden)
	}
	at := time.Now().UTC()
	if err := s.messages.UpdateContent(ctx, messageID, content, at); err != nil {
		return nil, err
	}
	msg.Content = content
	msg.IsEdited = true
	msg.UpdatedAt = &at

	s.refreshLastMessage(ctx, msg.ChatID)
	return msg, nil
}

func (s *supportService) DeleteMessage(ctx context.Context, actor models.Actor, messageID primitive.ObjectID) error {
	msg, err := s.liveMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != actor.ID {
		session, err := s.sessions.GetByID(ctx, msg.ChatID)
		if err != nil {
			return err
		}
		if !actor.IsStaff() || !session.AssignedTo(actor.ID) {
			return fmt.Errorf("%w: cannot delete another user's message", models.ErrForbidden)
		}
	}
	if err := s.messages.SoftDelete(ctx, messageID); err != nil {
		return err
	}
	s.refreshLastMessage(ctx, msg.ChatID)
	return nil
}

func (s *supportService) liveMessage(ctx context.Context, id primitive.ObjectID) (*models.ChatMessage, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, models.ErrNotFound
	}
	return msg, nil
}

// refreshLastMessage points the session summary at its newest live message.
func (s *supportService) refreshLastMessage(ctx context.Context, sessionID primitive.ObjectID) {
	latest, err := s.messages.Latest(ctx, sessionID)
	if err != nil {
		log.Printf("[SUPPORT] Failed to load latest message of %s: %v", sessionID.Hex(), err)
		return
	}
	var summary *models.LastMessage
	if latest != nil {
		summary = latest.Summary()
	}
	if err := s.sessions.SetLastMessage(ctx, sessionID, summary, 0); err != nil {
		log.Printf("[SUPPORT] Failed to update last message of %s: %v", sessionID.Hex(), err)
		return
	}
	if session, err := s.sessions.GetByID(ctx, sessionID); err == nil {
		s.touch(ctx, session)
	}
}

func (s *supportService) MarkRead(ctx context.Context, sessionID primitive.ObjectID) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.ResetUnread(ctx, sessionID); err != nil {
		return err
	}
	s.touch(ctx, session)
	return nil
}

func (s *supportService) SetPinned(ctx context.Context, staffID string, sessionID primitive.ObjectID, pinned bool) error {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return err
	}
	return s.prefs.SetPinned(ctx, staffID, sessionID, pinned)
}

func (s *supportService) SetMuted(ctx context.Context, staffID string, sessionID primitive.ObjectID, muted bool) error {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return err
	}
	return s.prefs.SetMuted(ctx, staffID, sessionID, muted)
}

func (s *supportService) DeleteSession(ctx context.Context, sessionID primitive.ObjectID) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	if err := s.messages.DeleteBySession(ctx, sessionID); err != nil {
		log.Printf("[SUPPORT] Failed to delete messages of %s: %v", sessionID.Hex(), err)
	}
	if err := s.prefs.DeleteBySession(ctx, sessionID); err != nil {
		log.Printf("[SUPPORT] Failed to delete preferences of %s: %v", sessionID.Hex(), err)
	}
	s.queue.Invalidate(ctx)
	s.publish(ctx, SupportEvent{
		UserID:    session.CustomerID,
		Role:      models.RoleCustomer,
		EventType: EventSessionDeleted,
		Message:   "Your support conversation was closed",
		ExtraData: map[string]string{"session_id": sessionID.Hex()},
	})
	return nil
}

func (s *supportService) AcceptStaff(ctx context.Context, staffID string, sessionID primitive.ObjectID) (primitive.ObjectID, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return primitive.NilObjectID, err
	}
	probe := session.Clone()
	if err := lifecycle.Apply(&probe, lifecycle.AcceptStaff, staffID); err != nil {
		return primitive.NilObjectID, err
	}

	claimed, err := s.sessions.Claim(ctx, sessionID, staffID)
	if err != nil {
		return primitive.NilObjectID, err
	}
	if !claimed {
		// lost a race; report what the session looks like now
		return primitive.NilObjectID, s.transitionError(ctx, sessionID, lifecycle.AcceptStaff, staffID)
	}
	s.queue.Invalidate(ctx)

	survivor := sessionID
	if merged, ok := s.mergeIntoPrior(ctx, session, staffID); ok {
		survivor = merged
	}

	s.publish(ctx, SupportEvent{
		UserID:    session.CustomerID,
		Role:      models.RoleCustomer,
		EventType: EventStaffConnected,
		Title:     "Support joined",
		Message:   "A staff member has joined your conversation",
		ExtraData: map[string]string{"session_id": survivor.Hex(), "staff_id": staffID},
	})
	return survivor, nil
}

// mergeIntoPrior folds a freshly accepted session into the customer's last
// conversation with the same staff member, if one is idle in AI mode.
func (s *supportService) mergeIntoPrior(ctx context.Context, session *models.ChatSession, staffID string) (primitive.ObjectID, bool) {
	prior, err := s.sessions.FindPrior(ctx, session.CustomerID, staffID, session.ID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Printf("[SUPPORT] Prior session lookup failed: %v", err)
		}
		return primitive.NilObjectID, false
	}
	absorbed, err := s.sessions.Absorb(ctx, prior.ID, staffID, session.UnreadCount, nil)
	if err != nil || !absorbed {
		if err != nil {
			log.Printf("[SUPPORT] Failed to reopen prior session %s: %v", prior.ID.Hex(), err)
		}
		return primitive.NilObjectID, false
	}
	if err := s.messages.Reassign(ctx, session.ID, prior.ID); err != nil {
		log.Printf("[SUPPORT] Failed to move messages into %s: %v", prior.ID.Hex(), err)
	}
	if err := s.sessions.Delete(ctx, session.ID); err != nil {
		log.Printf("[SUPPORT] Failed to drop merged session %s: %v", session.ID.Hex(), err)
	}
	if err := s.prefs.DeleteBySession(ctx, session.ID); err != nil {
		log.Printf("[SUPPORT] Failed to drop preferences of %s: %v", session.ID.Hex(), err)
	}
	s.refreshLastMessage(ctx, prior.ID)
	log.Printf("[SUPPORT] Session %s merged into %s", session.ID.Hex(), prior.ID.Hex())
	return prior.ID, true
}

func (s *supportService) EndStaffChat(ctx context.Context, staffID string, sessionID primitive.ObjectID) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	probe := session.Clone()
	if err := lifecycle.Apply(&probe, lifecycle.EndStaffChat, staffID); err != nil {
		return err
	}
	released, err := s.sessions.Release(ctx, sessionID, staffID)
	if err != nil {
		return err
	}
	if !released {
		return s.transitionError(ctx, sessionID, lifecycle.EndStaffChat, staffID)
	}
	s.publish(ctx, SupportEvent{
		UserID:    session.CustomerID,
		Role:      models.RoleCustomer,
		EventType: EventStaffEnded,
		Message:   "The staff member left; the assistant will continue helping you",
		ExtraData: map[string]string{"session_id": sessionID.Hex()},
	})
	return nil
}

// transitionError explains why a conditional update matched nothing.
func (s *supportService) transitionError(ctx context.Context, sessionID primitive.ObjectID, ev lifecycle.Event, staffID string) error {
	current, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := lifecycle.Apply(current, ev, staffID); err != nil {
		return err
	}
	return fmt.Errorf("%w: session changed concurrently", models.ErrInvalidTransition)
}

func (s *supportService) touch(ctx context.Context, session *models.ChatSession) {
	if session.Mode == models.ModeWaitingStaff {
		s.queue.Invalidate(ctx)
	}
}

func (s *supportService) publish(ctx context.Context, event SupportEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		log.Printf("[EVENTS] Failed to publish %s: %v", event.EventType, err)
	}
}

func displayName(s *models.ChatSession) string {
	if s.CustomerName != "" {
		return s.CustomerName
	}
	return "A customer"
}
