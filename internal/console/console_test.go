package console

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-ops/support-chat/internal/client/clienttest"
	"retail-ops/support-chat/internal/desk"
	"retail-ops/support-chat/internal/models"
	"retail-ops/support-chat/internal/syncer"
)

type harness struct {
	console *Console
	backend *clienttest.Backend
	out     *bytes.Buffer
	answer  bool
}

// newHarness polls rarely so that only the synchronous loads run during a test.
func newHarness(t *testing.T, seed func(b *clienttest.Backend)) *harness {
	t.Helper()
	h := &harness{backend: clienttest.NewBackend("me"), out: &bytes.Buffer{}}
	seed(h.backend)

	d := desk.New(h.backend, "me", desk.Config{
		Sync:          syncer.Config{SessionInterval: time.Hour, MessageInterval: time.Hour},
		ActionTimeout: time.Second,
	})
	d.Mount(context.Background())
	t.Cleanup(d.Unmount)

	h.console = New(d, h.out, func(string) bool { return h.answer })
	return h
}

func (h *harness) run(t *testing.T, line string) string {
	t.Helper()
	h.out.Reset()
	require.NoError(t, h.console.Exec(context.Background(), line))
	return h.out.String()
}

func TestListNumbersSessionsPinnedFirst(t *testing.T) {
	now := time.Now()
	h := newHarness(t, func(b *clienttest.Backend) {
		b.AddSession(models.ChatSession{CustomerID: "c1", CustomerName: "Alice", Mode: models.ModeWaitingStaff, UpdatedAt: now})
		b.AddSession(models.ChatSession{CustomerID: "c2", CustomerName: "Bob", Mode: models.ModeWaitingStaff, UpdatedAt: now.Add(-time.Hour), UnreadCount: 3})
	})

	out := h.run(t, "list")
	assert.Regexp(t, `(?s)1\. WAITING_STAFF\s+Alice.*2\. WAITING_STAFF\s+Bob \(3 unread\)`, out)

	h.run(t, "pin 2")
	out = h.run(t, "list")
	assert.Regexp(t, `(?s)1\. WAITING_STAFF\s+Bob.*\[pinned\].*2\. WAITING_STAFF\s+Alice`, out)
}

func TestAcceptConflictNamesOtherStaff(t *testing.T) {
	var waiting models.ChatSession
	h := newHarness(t, func(b *clienttest.Backend) {
		waiting = b.AddSession(models.ChatSession{CustomerID: "c1", Mode: models.ModeWaitingStaff})
	})
	h.run(t, "list")
	h.backend.Assign(waiting.ID, "staff-b")

	err := h.console.Exec(context.Background(), "accept 1")
	assert.EqualError(t, err, "already taken by staff-b")
}

func TestAcceptOpensConversation(t *testing.T) {
	h := newHarness(t, func(b *clienttest.Backend) {
		s := b.AddSession(models.ChatSession{CustomerID: "c1", Mode: models.ModeWaitingStaff})
		b.AddMessage(models.ChatMessage{ChatID: s.ID, SenderID: "c1", SenderName: "Alice", Content: "where is my order", CreatedAt: time.Now()})
	})

	out := h.run(t, "accept 1")
	assert.Contains(t, out, "accepted")
	assert.Contains(t, out, "Alice:")
	assert.Contains(t, out, "[1]")
	assert.Contains(t, out, "where is my order")
}

func TestSendEditAndConfirmedRemove(t *testing.T) {
	h := newHarness(t, func(b *clienttest.Backend) {
		b.AddSession(models.ChatSession{CustomerID: "c1", Mode: models.ModeStaffConnected, AssignedStaffID: models.StringPtr("me")})
	})
	h.run(t, "open 1")

	out := h.run(t, "send hello there")
	assert.Contains(t, out, "hello there")

	out = h.run(t, "edit 1 hello again")
	assert.Contains(t, out, "hello again (edited)")

	h.answer = false
	err := h.console.Exec(context.Background(), "rm 1")
	require.ErrorIs(t, err, models.ErrConfirmationRequired)
	assert.Equal(t, 0, h.backend.Calls("DeleteMessage"))

	h.answer = true
	out = h.run(t, "rm 1")
	assert.NotContains(t, out, "hello again")
	assert.Equal(t, 1, h.backend.Calls("DeleteMessage"))
}

func TestSearchThenSendReturnsToLiveView(t *testing.T) {
	h := newHarness(t, func(b *clienttest.Backend) {
		s := b.AddSession(models.ChatSession{CustomerID: "c1", Mode: models.ModeStaffConnected, AssignedStaffID: models.StringPtr("me")})
		b.AddMessage(models.ChatMessage{ChatID: s.ID, SenderID: "c1", Content: "refund please", CreatedAt: time.Now().Add(-time.Minute)})
		b.AddMessage(models.ChatMessage{ChatID: s.ID, SenderID: "c1", Content: "thanks", CreatedAt: time.Now()})
	})
	h.run(t, "open 1")

	out := h.run(t, "search refund")
	assert.Contains(t, out, "search results (1)")
	assert.NotContains(t, out, "thanks")

	out = h.run(t, "send on it")
	assert.NotContains(t, out, "search results")
	assert.Contains(t, out, "thanks")
	assert.Contains(t, out, "on it")
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t, func(*clienttest.Backend) {})
	ctx := context.Background()

	assert.ErrorContains(t, h.console.Exec(ctx, "frobnicate"), "unknown command")
	assert.ErrorContains(t, h.console.Exec(ctx, "open 7"), "no session")
	assert.ErrorIs(t, h.console.Exec(ctx, "send hi"), desk.ErrNoSession)
	assert.ErrorIs(t, h.console.Exec(ctx, "end"), desk.ErrNoSession)
	assert.ErrorIs(t, h.console.Exec(ctx, "QUIT"), ErrQuit)
	assert.NoError(t, h.console.Exec(ctx, "   "))
}
