package repository

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"retail-ops/support-chat/internal/models"
)

const messagesCollection = "support_messages"

type MessageRepository interface {
	Create(ctx context.Context, m *models.ChatMessage) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.ChatMessage, error)
	ListBySession(ctx context.Context, sessionID primitive.ObjectID) ([]models.ChatMessage, error)
	Search(ctx context.Context, sessionID primitive.ObjectID, query string) ([]models.ChatMessage, error)
	UpdateContent(ctx context.Context, id primitive.ObjectID, content string, at time.Time) error
	SoftDelete(ctx context.Context, id primitive.ObjectID) error
	// Latest returns the newest non-deleted message, or nil.
	Latest(ctx context.Context, sessionID primitive.ObjectID) (*models.ChatMessage, error)
	Reassign(ctx context.Context, from, to primitive.ObjectID) error
	DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) error
}

type messageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) MessageRepository {
	return &messageRepository{col: db.Collection(messagesCollection)}
}

var chronological = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

func (r *messageRepository) Create(ctx context.Context, m *models.ChatMessage) error {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = nil
	m.IsEdited = false
	m.IsDeleted = false
	_, err := r.col.InsertOne(ctx, m)
	return err
}

func (r *messageRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.ChatMessage, error) {
	var m models.ChatMessage
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *messageRepository) ListBySession(ctx context.Context, sessionID primitive.ObjectID) ([]models.ChatMessage, error) {
	return r.find(ctx, bson.M{"chat_id": sessionID, "is_deleted": false})
}

func (r *messageRepository) Search(ctx context.Context, sessionID primitive.ObjectID, query string) ([]models.ChatMessage, error) {
	return r.find(ctx, bson.M{
		"chat_id":    sessionID,
		"is_deleted": false,
		"content":    primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"},
	})
}

func (r *messageRepository) find(ctx context.Context, filter bson.M) ([]models.ChatMessage, error) {
	cursor, err := r.col.Find(ctx, filter, options.Find().SetSort(chronological))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []models.ChatMessage
	if err := cursor.All(ctx, &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = []models.ChatMessage{}
	}
	return result, nil
}

func (r *messageRepository) UpdateContent(ctx context.Context, id primitive.ObjectID, content string, at time.Time) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "is_deleted": false},
		bson.M{"$set": bson.M{"content": content, "updated_at": at, "is_edited": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *messageRepository) SoftDelete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "is_deleted": false},
		bson.M{"$set": bson.M{"is_deleted": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *messageRepository) Latest(ctx context.Context, sessionID primitive.ObjectID) (*models.ChatMessage, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var m models.ChatMessage
	err := r.col.FindOne(ctx, bson.M{"chat_id": sessionID, "is_deleted": false}, opts).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *messageRepository) Reassign(ctx context.Context, from, to primitive.ObjectID) error {
	_, err := r.col.UpdateMany(ctx, bson.M{"chat_id": from}, bson.M{"$set": bson.M{"chat_id": to}})
	return err
}

func (r *messageRepository) DeleteBySession(ctx context.Context, sessionID primitive.ObjectID) error {
	_, err := r.col.DeleteMany(ctx, bson.M{"chat_id": sessionID})
	return err
}
