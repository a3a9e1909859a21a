package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"retail-ops/support-chat/internal/models"
)

const sessionsCollection = "support_sessions"

type SessionRepository interface {
	Create(ctx context.Context, s *models.ChatSession) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.ChatSession, error)
	ListByMode(ctx context.Context, mode models.SessionMode) ([]models.ChatSession, error)
	ListAssigned(ctx context.Context, staffID string) ([]models.ChatSession, error)
	ListByCustomer(ctx context.Context, customerID string) ([]models.ChatSession, error)
	// MarkWaiting moves an AI session to the waiting queue. false means the
	// session was not in AI mode.
	MarkWaiting(ctx context.Context, id primitive.ObjectID) (bool, error)
	// Claim assigns a waiting, unassigned session. Only one caller can win.
	Claim(ctx context.Context, id primitive.ObjectID, staffID string) (bool, error)
	Release(ctx context.Context, id primitive.ObjectID, staffID string) (bool, error)
	FindPrior(ctx context.Context, customerID, staffID string, exclude primitive.ObjectID) (*models.ChatSession, error)
	Absorb(ctx context.Context, target primitive.ObjectID, staffID string, unread int, last *models.LastMessage) (bool, error)
	SetLastMessage(ctx context.Context, id primitive.ObjectID, last *models.LastMessage, unreadInc int) error
	ResetUnread(ctx context.Context, id primitive.ObjectID) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

type sessionRepository struct {
	col *mongo.Collection
}

func NewSessionRepository(db *mongo.Database) SessionRepository {
	return &sessionRepository{col: db.Collection(sessionsCollection)}
}

func (r *sessionRepository) Create(ctx context.Context, s *models.ChatSession) error {
	now := time.Now().UTC()
	s.ID = primitive.NewObjectID()
	s.Mode = models.ModeAI
	s.AssignedStaffID = nil
	s.CreatedAt = now
	s.UpdatedAt = now
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *sessionRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.ChatSession, error) {
	var s models.ChatSession
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepository) ListByMode(ctx context.Context, mode models.SessionMode) ([]models.ChatSession, error) {
	return r.find(ctx, bson.M{"mode": mode})
}

func (r *sessionRepository) ListAssigned(ctx context.Context, staffID string) ([]models.ChatSession, error) {
	return r.find(ctx, bson.M{"mode": models.ModeStaffConnected, "assigned_staff_id": staffID})
}

func (r *sessionRepository) ListByCustomer(ctx context.Context, customerID string) ([]models.ChatSession, error) {
	return r.find(ctx, bson.M{"customer_id": customerID})
}

func (r *sessionRepository) find(ctx context.Context, filter bson.M) ([]models.ChatSession, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []models.ChatSession
	if err := cursor.All(ctx, &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = []models.ChatSession{}
	}
	return result, nil
}

func (r *sessionRepository) MarkWaiting(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "mode": models.ModeAI},
		bson.M{"$set": bson.M{"mode": models.ModeWaitingStaff, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *sessionRepository) Claim(ctx context.Context, id primitive.ObjectID, staffID string) (bool, error) {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "mode": models.ModeWaitingStaff, "assigned_staff_id": nil},
		bson.M{"$set": bson.M{
			"mode":              models.ModeStaffConnected,
			"assigned_staff_id": staffID,
			"updated_at":        time.Now().UTC(),
		}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *sessionRepository) Release(ctx context.Context, id primitive.ObjectID, staffID string) (bool, error) {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "mode": models.ModeStaffConnected, "assigned_staff_id": staffID},
		bson.M{
			"$set": bson.M{
				"mode":          models.ModeAI,
				"last_staff_id": staffID,
				"updated_at":    time.Now().UTC(),
			},
			"$unset": bson.M{"assigned_staff_id": ""},
		},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *sessionRepository) FindPrior(ctx context.Context, customerID, staffID string, exclude primitive.ObjectID) (*models.ChatSession, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	var s models.ChatSession
	err := r.col.FindOne(ctx, bson.M{
		"_id":           bson.M{"$ne": exclude},
		"customer_id":   customerID,
		"last_staff_id": staffID,
		"mode":          models.ModeAI,
	}, opts).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepository) Absorb(ctx context.Context, target primitive.ObjectID, staffID string, unread int, last *models.LastMessage) (bool, error) {
	set := bson.M{
		"mode":              models.ModeStaffConnected,
		"assigned_staff_id": staffID,
		"updated_at":        time.Now().UTC(),
	}
	if last != nil {
		set["last_message"] = last
	}
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": target, "mode": models.ModeAI},
		bson.M{"$set": set, "$inc": bson.M{"unread_count": unread}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *sessionRepository) SetLastMessage(ctx context.Context, id primitive.ObjectID, last *models.LastMessage, unreadInc int) error {
	update := bson.M{"$inc": bson.M{"unread_count": unreadInc}}
	if last != nil {
		update["$set"] = bson.M{"last_message": last, "updated_at": time.Now().UTC()}
	} else {
		update["$set"] = bson.M{"updated_at": time.Now().UTC()}
		update["$unset"] = bson.M{"last_message": ""}
	}
	res, err := r.col.UpdateByID(ctx, id, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *sessionRepository) ResetUnread(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.col.UpdateByID(ctx, id, bson.M{"$set": bson.M{"unread_count": 0}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *sessionRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}
