package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// SessionPreference holds per-staff flags for a session.
type SessionPreference struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SessionID primitive.ObjectID `bson:"session_id" json:"session_id"`
	StaffID   string             `bson:"staff_id" json:"staff_id"`
	Pinned    bool               `bson:"pinned" json:"pinned"`
	Muted     bool               `bson:"muted" json:"muted"`
}
