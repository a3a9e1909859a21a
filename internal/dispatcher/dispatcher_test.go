package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/client/clienttest"
	"retail-ops/support-chat/internal/models"
	"retail-ops/support-chat/internal/store"
)

var errDown = errors.New("service unavailable")

type fixture struct {
	backend  *clienttest.Backend
	sessions *store.SessionStore
	messages *store.MessageStore
	d        *Dispatcher
	session  models.ChatSession
	msgs     []models.ChatMessage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := clienttest.NewBackend("me")
	sess := backend.AddSession(models.ChatSession{
		Mode:            models.ModeStaffConnected,
		AssignedStaffID: models.StringPtr("me"),
		UnreadCount:     3,
	})
	other := backend.AddSession(models.ChatSession{Mode: models.ModeWaitingStaff})

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var msgs []models.ChatMessage
	for i := 0; i < 5; i++ {
		msgs = append(msgs, backend.AddMessage(models.ChatMessage{
			ChatID:    sess.ID,
			SenderID:  "me",
			Content:   "message",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	sessions, messages := store.NewSessionStore(), store.NewMessageStore()
	sessions.Replace([]models.ChatSession{sess, other})
	messages.Replace(sess.ID, msgs)

	return &fixture{
		backend:  backend,
		sessions: sessions,
		messages: messages,
		d:        New(backend, sessions, messages, time.Second),
		session:  sess,
		msgs:     msgs,
	}
}

func TestPinFailureRestoresExactState(t *testing.T) {
	f := newFixture(t)
	f.backend.Fail("SetPinned", errDown)
	before := f.sessions.All()

	err := f.d.SetPinned(context.Background(), f.session.ID, true)

	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, ActionPin, actionErr.Action)
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, before, f.sessions.All())
}

func TestPinSuccessKeepsLocalChange(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.d.SetPinned(context.Background(), f.session.ID, true))

	got, _ := f.sessions.Get(f.session.ID)
	assert.True(t, got.IsPinned)
	remote, _ := f.backend.Session(f.session.ID)
	assert.True(t, remote.IsPinned)
	assert.Equal(t, f.session.ID, f.sessions.List()[0].ID)
}

func TestMuteFailureRestoresExactState(t *testing.T) {
	f := newFixture(t)
	f.backend.Fail("SetMuted", errDown)
	before := f.sessions.All()

	require.Error(t, f.d.SetMuted(context.Background(), f.session.ID, true))
	assert.Equal(t, before, f.sessions.All())
}

func TestDeleteSessionNeedsConfirmation(t *testing.T) {
	f := newFixture(t)

	err := f.d.DeleteSession(context.Background(), f.session.ID, false)

	require.ErrorIs(t, err, models.ErrConfirmationRequired)
	assert.Equal(t, 0, f.backend.Calls("DeleteSession"))
	assert.Equal(t, 2, f.sessions.Len())
}

func TestDeleteSessionFailureReinserts(t *testing.T) {
	f := newFixture(t)
	f.backend.Fail("DeleteSession", errDown)
	before := f.sessions.All()

	require.Error(t, f.d.DeleteSession(context.Background(), f.session.ID, true))
	assert.Equal(t, before, f.sessions.All())
}

func TestDeleteSessionSuccess(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.d.DeleteSession(context.Background(), f.session.ID, true))

	_, ok := f.sessions.Get(f.session.ID)
	assert.False(t, ok)
	_, ok = f.backend.Session(f.session.ID)
	assert.False(t, ok)
}

func TestDeleteMessageFailureReinsertsAtOriginalPosition(t *testing.T) {
	f := newFixture(t)
	f.backend.Fail("DeleteMessage", errDown)
	target := f.msgs[2]

	err := f.d.DeleteMessage(context.Background(), target.ID, true)

	require.ErrorIs(t, err, errDown)
	got := f.messages.List()
	require.Len(t, got, 5)
	assert.Equal(t, target.ID, got[2].ID)
	assert.Equal(t, f.msgs, got)
}

func TestDeleteMessageNeedsConfirmation(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.d.DeleteMessage(context.Background(), f.msgs[0].ID, false), models.ErrConfirmationRequired)
	assert.Equal(t, 0, f.backend.Calls("DeleteMessage"))
	assert.Len(t, f.messages.List(), 5)
}

func TestDeleteMessageSuccess(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.d.DeleteMessage(context.Background(), f.msgs[1].ID, true))

	got := f.messages.List()
	require.Len(t, got, 4)
	for _, m := range got {
		assert.NotEqual(t, f.msgs[1].ID, m.ID)
	}
}

func TestEditRejectsEmptyContentBeforeNetwork(t *testing.T) {
	f := newFixture(t)

	err := f.d.EditMessage(context.Background(), f.msgs[0].ID, " \n ")

	require.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, 0, f.backend.Calls("EditMessage"))
}

func TestEditFailureRestoresMessage(t *testing.T) {
	f := newFixture(t)
	f.backend.Fail("EditMessage", errDown)

	require.Error(t, f.d.EditMessage(context.Background(), f.msgs[4].ID, "fixed typo"))
	assert.Equal(t, f.msgs, f.messages.List())
}

func TestEditSuccessAdoptsServerCopy(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.d.EditMessage(context.Background(), f.msgs[4].ID, "fixed typo"))

	got, ok := f.messages.Get(f.msgs[4].ID)
	require.True(t, ok)
	assert.Equal(t, "fixed typo", got.Content)
	assert.True(t, got.IsEdited)
	require.NotNil(t, got.UpdatedAt)
	require.NoError(t, got.Validate())
}

func TestMarkReadIsNotRolledBack(t *testing.T) {
	f := newFixture(t)
	f.backend.Fail("MarkSessionRead", errDown)

	assert.True(t, f.d.MarkRead(f.session.ID))
	f.d.Wait()

	got, _ := f.sessions.Get(f.session.ID)
	assert.Equal(t, 0, got.UnreadCount)
	assert.Equal(t, 1, f.backend.Calls("MarkSessionRead"))
}

func TestMarkReadSkipsReadSessions(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.d.MarkRead(f.session.ID))
	f.d.Wait()
	assert.False(t, f.d.MarkRead(f.session.ID))
	assert.False(t, f.d.MarkRead(primitive.NewObjectID()))
	f.d.Wait()

	assert.Equal(t, 1, f.backend.Calls("MarkSessionRead"))
	remote, _ := f.backend.Session(f.session.ID)
	assert.Equal(t, 0, remote.UnreadCount)
}

func TestSendValidatesBeforeNetwork(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.Send(context.Background(), f.session.ID, "", models.MessageText)
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = f.d.Send(context.Background(), f.session.ID, "hi", "VIDEO")
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, 0, f.backend.Calls("SendMessage"))
}

func TestSendAppendsServerMessage(t *testing.T) {
	f := newFixture(t)

	msg, err := f.d.Send(context.Background(), f.session.ID, "on it", "")
	require.NoError(t, err)

	assert.Equal(t, models.MessageText, msg.Type)
	got := f.messages.List()
	require.Len(t, got, 6)
	assert.Equal(t, msg.ID, got[5].ID)
}

func TestPostLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)

	msg, err := f.d.Post(context.Background(), f.session.ID, "on it", models.MessageText)
	require.NoError(t, err)

	assert.Equal(t, "on it", msg.Content)
	assert.Len(t, f.messages.List(), 5)
	assert.Equal(t, 1, f.backend.Calls("SendMessage"))
}
