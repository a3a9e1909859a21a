package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"retail-ops/support-chat/internal/models"
)

const waitingQueueKey = "support:waiting_sessions"

// QueueCache holds the waiting queue shared by every staff poller.
type QueueCache interface {
	GetWaiting(ctx context.Context) ([]models.ChatSession, bool)
	SetWaiting(ctx context.Context, sessions []models.ChatSession)
	Invalidate(ctx context.Context)
}

type redisQueueCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisQueueCache(rdb *redis.Client, ttl time.Duration) QueueCache {
	return &redisQueueCache{rdb: rdb, ttl: ttl}
}

func (c *redisQueueCache) GetWaiting(ctx context.Context) ([]models.ChatSession, bool) {
	data, err := c.rdb.Get(ctx, waitingQueueKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[CACHE] Failed to read waiting queue: %v", err)
		}
		return nil, false
	}
	var sessions []models.ChatSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		log.Printf("[CACHE] Corrupt waiting queue entry: %v", err)
		return nil, false
	}
	return sessions, true
}

func (c *redisQueueCache) SetWaiting(ctx context.Context, sessions []models.ChatSession) {
	data, err := json.Marshal(sessions)
	if err != nil {
		log.Printf("[CACHE] Failed to marshal waiting queue: %v", err)
		return
	}
	if err := c.rdb.Set(ctx, waitingQueueKey, data, c.ttl).Err(); err != nil {
		log.Printf("[CACHE] Failed to set waiting queue: %v", err)
	}
}

func (c *redisQueueCache) Invalidate(ctx context.Context) {
	if err := c.rdb.Del(ctx, waitingQueueKey).Err(); err != nil {
		log.Printf("[CACHE] Failed to invalidate waiting queue: %v", err)
	}
}
