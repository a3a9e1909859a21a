package store

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/models"
)

// MergeVisible combines the waiting queue with the sessions assigned to the
// current staff member. An id present in both keeps the assigned copy.
func MergeVisible(waiting, mine []models.ChatSession) []models.ChatSession {
	seen := make(map[primitive.ObjectID]struct{}, len(waiting)+len(mine))
	out := make([]models.ChatSession, 0, len(waiting)+len(mine))
	for _, list := range [][]models.ChatSession{mine, waiting} {
		for _, s := range list {
			if _, ok := seen[s.ID]; ok {
				continue
			}
			seen[s.ID] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
