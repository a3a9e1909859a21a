// Package search switches the open message view between live polling and a
// server-filtered result set. The two never run at the same time.
package search

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/models"
	"retail-ops/support-chat/internal/store"
)

type Searcher interface {
	SearchMessages(ctx context.Context, sessionID primitive.ObjectID, query string) ([]models.ChatMessage, error)
}

// Poller is the part of the sync scheduler the controller drives.
type Poller interface {
	StartMessages(ctx context.Context, sessionID primitive.ObjectID)
	StopMessages()
}

type Controller struct {
	api      Searcher
	messages *store.MessageStore
	poller   Poller

	mu        sync.Mutex
	active    bool
	query     string
	sessionID primitive.ObjectID
	seq       uint64
}

func NewController(api Searcher, messages *store.MessageStore, poller Poller) *Controller {
	return &Controller{api: api, messages: messages, poller: poller}
}

// Apply sets the search query for the open session. A blank query leaves
// search mode, resumes polling and refetches the full message set once.
func (c *Controller) Apply(ctx context.Context, sessionID primitive.ObjectID, query string) error {
	q := strings.TrimSpace(query)

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.sessionID = sessionID
	if q == "" {
		wasActive := c.active
		c.active = false
		c.query = ""
		c.mu.Unlock()
		c.resume(ctx, sessionID, wasActive)
		return nil
	}
	c.active = true
	c.query = q
	c.mu.Unlock()

	c.poller.StopMessages()

	results, err := c.api.SearchMessages(ctx, sessionID, q)
	if err != nil {
		return fmt.Errorf("search messages: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// a newer query, an exit or a session switch happened meanwhile
	if !c.active || c.seq != seq {
		return nil
	}
	c.messages.Replace(sessionID, results)
	return nil
}

// Exit leaves search mode and resumes polling. It reports whether search was active.
func (c *Controller) Exit(ctx context.Context) bool {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return false
	}
	c.active = false
	c.query = ""
	c.seq++
	id := c.sessionID
	c.mu.Unlock()

	c.resume(ctx, id, true)
	return true
}

// resume restarts polling. Filtered results are dropped first so a failed
// resync shows an empty view instead of a partial one.
func (c *Controller) resume(ctx context.Context, sessionID primitive.ObjectID, dropResults bool) {
	if dropResults {
		c.messages.Reset(sessionID)
	}
	c.poller.StartMessages(ctx, sessionID)
}

// Reset drops search state without touching polling; used on session switch.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.query = ""
	c.sessionID = primitive.NilObjectID
	c.seq++
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}
