package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/models"
)

func newTestClient(t *testing.T, register func(r *gin.Engine)) *HTTPClient {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, "token-1", 2*time.Second)
}

func TestListMySessionsSendsBearerToken(t *testing.T) {
	id := primitive.NewObjectID()
	var auth string
	c := newTestClient(t, func(r *gin.Engine) {
		r.GET("/api/support/staff/sessions/mine", func(c *gin.Context) {
			auth = c.GetHeader("Authorization")
			c.JSON(http.StatusOK, []models.ChatSession{{ID: id, Mode: models.ModeStaffConnected, AssignedStaffID: models.StringPtr("me")}})
		})
	})

	list, err := c.ListMySessions(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.True(t, list[0].AssignedTo("me"))
	assert.Equal(t, "Bearer token-1", auth)
}

func TestAcceptConflictCarriesAssignee(t *testing.T) {
	id := primitive.NewObjectID()
	c := newTestClient(t, func(r *gin.Engine) {
		r.POST("/api/support/staff/sessions/:id/accept", func(c *gin.Context) {
			c.JSON(http.StatusConflict, gin.H{"error": "session already taken", "assigned_staff_id": "staff-9"})
		})
	})

	err := c.AcceptStaff(context.Background(), id)
	require.ErrorIs(t, err, models.ErrConflict)
	who, ok := models.AssigneeOf(err)
	require.True(t, ok)
	assert.Equal(t, "staff-9", who)
}

func TestStatusMapping(t *testing.T) {
	cases := map[int]error{
		http.StatusBadRequest:          models.ErrValidation,
		http.StatusForbidden:           models.ErrForbidden,
		http.StatusNotFound:            models.ErrNotFound,
		http.StatusUnprocessableEntity: models.ErrInvalidTransition,
	}
	for status, want := range cases {
		status := status
		c := newTestClient(t, func(r *gin.Engine) {
			r.POST("/api/support/staff/sessions/:id/end", func(c *gin.Context) {
				c.JSON(status, gin.H{"error": "nope"})
			})
		})
		err := c.EndStaffChat(context.Background(), primitive.NewObjectID())
		assert.ErrorIs(t, err, want, "status %d", status)
	}
}

func TestSendMessageAttachesIdempotencyKey(t *testing.T) {
	id := primitive.NewObjectID()
	var key string
	var body map[string]string
	c := newTestClient(t, func(r *gin.Engine) {
		r.POST("/api/support/staff/sessions/:id/messages", func(c *gin.Context) {
			key = c.GetHeader("Idempotency-Key")
			_ = c.ShouldBindJSON(&body)
			c.JSON(http.StatusCreated, models.ChatMessage{ID: primitive.NewObjectID(), ChatID: id, Content: body["content"], Type: models.MessageText})
		})
	})

	msg, err := c.SendMessage(context.Background(), id, "hello", models.MessageText)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, id, msg.ChatID)
	assert.NotEmpty(t, key)
	assert.Equal(t, "TEXT", body["type"])
}

func TestSearchEscapesQuery(t *testing.T) {
	var got string
	c := newTestClient(t, func(r *gin.Engine) {
		r.GET("/api/support/staff/sessions/:id/messages/search", func(c *gin.Context) {
			got = c.Query("q")
			c.JSON(http.StatusOK, []models.ChatMessage{})
		})
	})

	_, err := c.SearchMessages(context.Background(), primitive.NewObjectID(), "refund & return")
	require.NoError(t, err)
	assert.Equal(t, "refund & return", got)
}

func TestContextDeadlineAbortsRequest(t *testing.T) {
	c := newTestClient(t, func(r *gin.Engine) {
		r.GET("/api/support/staff/sessions/waiting", func(c *gin.Context) {
			time.Sleep(200 * time.Millisecond)
			c.JSON(http.StatusOK, []models.ChatSession{})
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.ListWaitingSessions(ctx)
	require.Error(t, err)
}
