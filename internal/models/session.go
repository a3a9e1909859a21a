package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SessionMode string

const (
	ModeAI             SessionMode = "AI"
	ModeWaitingStaff   SessionMode = "WAITING_STAFF"
	ModeStaffConnected SessionMode = "STAFF_CONNECTED"
)

func (m SessionMode) Valid() bool {
	switch m {
	case ModeAI, ModeWaitingStaff, ModeStaffConnected:
		return true
	}
	return false
}

type LastMessage struct {
	Content    string    `bson:"content" json:"content"`
	SenderID   string    `bson:"sender_id" json:"sender_id"`
	SenderName string    `bson:"sender_name" json:"sender_name"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

type ChatSession struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CustomerID      string             `bson:"customer_id" json:"customer_id"`
	CustomerName    string             `bson:"customer_name" json:"customer_name"`
	Mode            SessionMode        `bson:"mode" json:"mode"`
	AssignedStaffID *string            `bson:"assigned_staff_id,omitempty" json:"assigned_staff_id,omitempty"`
	LastStaffID     string             `bson:"last_staff_id,omitempty" json:"-"`
	UnreadCount     int                `bson:"unread_count" json:"unread_count"`
	IsPinned        bool               `bson:"-" json:"is_pinned"`
	IsMuted         bool               `bson:"-" json:"is_muted"`
	LastMessage     *LastMessage       `bson:"last_message,omitempty" json:"last_message,omitempty"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}

// Validate checks the mode/assignee pairing: a session has an assignee
// exactly when a staff member is connected.
func (s *ChatSession) Validate() error {
	if !s.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrValidation, s.Mode)
	}
	if s.UnreadCount < 0 {
		return fmt.Errorf("%w: negative unread count", ErrValidation)
	}
	assigned := s.AssignedStaffID != nil
	if assigned != (s.Mode == ModeStaffConnected) {
		return fmt.Errorf("%w: mode %s with assignee=%v", ErrValidation, s.Mode, assigned)
	}
	return nil
}

func (s *ChatSession) AssignedTo(staffID string) bool {
	return s.AssignedStaffID != nil && *s.AssignedStaffID == staffID
}

// Activity is the time used to order sessions in a list.
func (s *ChatSession) Activity() time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.UpdatedAt
}

// Clone returns a deep copy so stores can hand out and restore snapshots.
func (s ChatSession) Clone() ChatSession {
	if s.AssignedStaffID != nil {
		v := *s.AssignedStaffID
		s.AssignedStaffID = &v
	}
	if s.LastMessage != nil {
		lm := *s.LastMessage
		s.LastMessage = &lm
	}
	return s
}

func StringPtr(s string) *string {
	return &s
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   string
	Name string
	Role string
}

func (a Actor) IsStaff() bool {
	switch a.Role {
	case RoleStaff, RoleManager, RoleAdmin:
		return true
	}
	return false
}
