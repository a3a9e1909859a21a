package utils

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func authRouter(j *JWTUtil, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/who", AuthMiddleware(j), RequireRoles(roles...), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.GetString("userID"), "name": c.GetString("name")})
	})
	return r
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	j := NewJWTUtil("secret")
	r := authRouter(j, "staff")

	staffToken, err := j.GenerateToken("u1", "staff", "Ann", time.Hour)
	require.NoError(t, err)
	customerToken, err := j.GenerateToken("u2", "customer", "Bob", time.Hour)
	require.NoError(t, err)
	expired, err := j.GenerateToken("u1", "staff", "Ann", -time.Hour)
	require.NoError(t, err)
	forged, err := NewJWTUtil("other").GenerateToken("u1", "staff", "Ann", time.Hour)
	require.NoError(t, err)

	w := get(r, staffToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"u1","name":"Ann"}`, w.Body.String())

	assert.Equal(t, http.StatusForbidden, get(r, customerToken).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, expired).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, forged).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
}

func TestParseErrors(t *testing.T) {
	type body struct {
		Content string `json:"content" validate:"required"`
		Type    string `json:"type" validate:"omitempty,oneof=TEXT IMAGE FILE"`
	}
	err := GetValidator().Struct(body{Type: "VIDEO"})
	require.Error(t, err)

	msgs := ParseErrors(err)
	assert.ElementsMatch(t, []string{
		"content field is required",
		"type must be one of TEXT, IMAGE, FILE",
	}, msgs)
	assert.Equal(t, []string{"Unknown error"}, ParseErrors(errors.New("boom")))
}

func TestUserRateLimiter(t *testing.T) {
	l := NewUserRateLimiter(rate.Every(time.Hour), 2)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestShutdownRunsTasksInReverseOnce(t *testing.T) {
	ctx, sm := NewShutdownManager(context.Background())
	var order []int
	sm.Register(func(context.Context) error { order = append(order, 1); return nil })
	sm.Register(func(context.Context) error { order = append(order, 2); return errors.New("ignored") })

	sm.Shutdown()
	sm.Shutdown()

	assert.Equal(t, []int{2, 1}, order)
	assert.Error(t, ctx.Err())
	select {
	case <-sm.Done():
	default:
		t.Fatal("done channel not closed")
	}
}
