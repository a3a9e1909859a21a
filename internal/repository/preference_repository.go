package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"retail-ops/support-chat/internal/models"
)

const preferencesCollection = "support_session_prefs"

// PreferenceRepository stores pin and mute flags per staff member.
type PreferenceRepository interface {
	ForStaff(ctx context.Context, staffID string, sessionIDs []primitive.ObjectID) (map[primitive.ObjectID]models.SessionPreference, error)
	SetPinned(ctx context.Context, staffID string, sessionID primitive.ObjectID, pinned bool) error
	SetMuted(ctx context.Context, staffID string, sessionID primitive.ObjectID, muted bool) error
	DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) error
}

type preferenceRepository struct {
	col *mongo.Collection
}

func NewPreferenceRepository(db *mongo.Database) PreferenceRepository {
	return &preferenceRepository{col: db.Collection(preferencesCollection)}
}

func (r *preferenceRepository) ForStaff(ctx context.Context, staffID string, sessionIDs []primitive.ObjectID) (map[primitive.ObjectID]models.SessionPreference, error) {
	out := make(map[primitive.ObjectID]models.SessionPreference, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	cursor, err := r.col.Find(ctx, bson.M{"staff_id": staffID, "session_id": bson.M{"$in": sessionIDs}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var prefs []models.SessionPreference
	if err := cursor.All(ctx, &prefs); err != nil {
		return nil, err
	}
	for _, p := range prefs {
		out[p.SessionID] = p
	}
	return out, nil
}

func (r *preferenceRepository) SetPinned(ctx context.Context, staffID string, sessionID primitive.ObjectID, pinned bool) error {
	return r.upsert(ctx, staffID, sessionID, "pinned", pinned)
}

func (r *preferenceRepository) SetMuted(ctx context.Context, staffID string, sessionID primitive.ObjectID, muted bool) error {
	return r.upsert(ctx, staffID, sessionID, "muted", muted)
}

func (r *preferenceRepository) upsert(ctx context.Context, staffID string, sessionID primitive.ObjectID, field string, value bool) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"staff_id": staffID, "session_id": sessionID},
		bson.M{"$set": bson.M{field: value}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *preferenceRepository) DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) error {
	_, err := r.col.DeleteMany(ctx, bson.M{"session_id": sessionID})
	return err
}
