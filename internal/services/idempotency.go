package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IdempotencyStore remembers which message a send key produced.
type IdempotencyStore interface {
	// Reserve binds key to id. When the key was already bound it returns the
	// earlier id and false.
	Reserve(ctx context.Context, key string, id primitive.ObjectID) (primitive.ObjectID, bool, error)
	Release(ctx context.Context, key string)
}

type redisIdempotency struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIdempotency(rdb *redis.Client, ttl time.Duration) IdempotencyStore {
	return &redisIdempotency{rdb: rdb, ttl: ttl}
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("support:send:%s", key)
}

func (r *redisIdempotency) Reserve(ctx context.Context, key string, id primitive.ObjectID) (primitive.ObjectID, bool, error) {
	ok, err := r.rdb.SetNX(ctx, idempotencyKey(key), id.Hex(), r.ttl).Result()
	if err != nil {
		return primitive.NilObjectID, false, err
	}
	if ok {
		return id, true, nil
	}
	existing, err := r.rdb.Get(ctx, idempotencyKey(key)).Result()
	if err != nil {
		return primitive.NilObjectID, false, err
	}
	prev, err := primitive.ObjectIDFromHex(existing)
	if err != nil {
		return primitive.NilObjectID, false, err
	}
	return prev, false, nil
}

func (r *redisIdempotency) Release(ctx context.Context, key string) {
	r.rdb.Del(ctx, idempotencyKey(key))
}
