package models

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
	MessageFile  MessageType = "FILE"
)

const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
	RoleAI       = "ai"
)

// AISenderID is the sender id stored on assistant replies.
const AISenderID = "ai-assistant"

type ChatMessage struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ChatID     primitive.ObjectID `bson:"chat_id" json:"chat_id"`
	SenderID   string             `bson:"sender_id" json:"sender_id"`
	SenderName string             `bson:"sender_name" json:"sender_name"`
	SenderRole string             `bson:"sender_role" json:"sender_role"`
	Content    string             `bson:"content" json:"content"`
	Type       MessageType        `bson:"type" json:"type"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt  *time.Time         `bson:"updated_at,omitempty" json:"updated_at"`
	IsEdited   bool               `bson:"is_edited" json:"is_edited"`
	IsDeleted  bool               `bson:"is_deleted" json:"is_deleted"`
}

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// ValidateContent rejects blank message bodies.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: message content is empty", ErrValidation)
	}
	return nil
}

func (m *ChatMessage) Validate() error {
	if err := ValidateContent(m.Content); err != nil {
		return err
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: unknown message type %q", ErrValidation, m.Type)
	}
	if m.IsEdited != (m.UpdatedAt != nil) {
		return fmt.Errorf("%w: edited flag does not match updated_at", ErrValidation)
	}
	return nil
}

func (m ChatMessage) Clone() ChatMessage {
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		m.UpdatedAt = &t
	}
	return m
}

func (m *ChatMessage) Summary() *LastMessage {
	return &LastMessage{
		Content:    m.Content,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		CreatedAt:  m.CreatedAt,
	}
}
