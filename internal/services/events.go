package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const SupportEventsChannel = "support_events"

const (
	EventStaffRequested = "staff_requested"
	EventStaffConnected = "staff_connected"
	EventStaffEnded     = "staff_ended"
	EventSessionDeleted = "session_deleted"
)

// SupportEvent is the payload the notification service consumes from Redis.
type SupportEvent struct {
	UserID    string            `json:"user_id"`
	Role      string            `json:"role"`
	EventType string            `json:"event_type,omitempty"`
	Title     string            `json:"title,omitempty"`
	Message   string            `json:"message"`
	ExtraData map[string]string `json:"extra_data,omitempty"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event SupportEvent) error
}

type redisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client) EventPublisher {
	return &redisPublisher{rdb: rdb, channel: SupportEventsChannel}
}

func (p *redisPublisher) Publish(ctx context.Context, event SupportEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.rdb.Publish(ctx, p.channel, data).Err()
}
