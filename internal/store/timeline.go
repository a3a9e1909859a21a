package store

import (
	"time"

	"retail-ops/support-chat/internal/models"
)

// DividerGap is the silence after which a time divider is shown.
const DividerGap = 5 * time.Minute

// TimelineEntry is either a divider or a run of messages from one sender.
type TimelineEntry struct {
	Divider  bool
	At       time.Time
	SenderID string
	Messages []models.ChatMessage
}

// BuildTimeline groups consecutive messages of the same sender and inserts a
// divider wherever two neighbours are at least DividerGap apart.
func BuildTimeline(msgs []models.ChatMessage) []TimelineEntry {
	var out []TimelineEntry
	for i, m := range msgs {
		gap := i > 0 && m.CreatedAt.Sub(msgs[i-1].CreatedAt) >= DividerGap
		if gap {
			out = append(out, TimelineEntry{Divider: true, At: m.CreatedAt})
		}
		last := len(out) - 1
		if last >= 0 && !out[last].Divider && out[last].SenderID == m.SenderID {
			out[last].Messages = append(out[last].Messages, m)
			continue
		}
		out = append(out, TimelineEntry{At: m.CreatedAt, SenderID: m.SenderID, Messages: []models.ChatMessage{m}})
	}
	return out
}
