// Package client talks to the support service on behalf of a staff member.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/models"
)

// API is the staff-facing backend surface.
type API interface {
	ListWaitingSessions(ctx context.Context) ([]models.ChatSession, error)
	ListMySessions(ctx context.Context) ([]models.ChatSession, error)
	GetMessages(ctx context.Context, sessionID primitive.ObjectID) ([]models.ChatMessage, error)
	SearchMessages(ctx context.Context, sessionID primitive.ObjectID, query string) ([]models.ChatMessage, error)
	SendMessage(ctx context.Context, sessionID primitive.ObjectID, content string, msgType models.MessageType) (*models.ChatMessage, error)
	EditMessage(ctx context.Context, messageID primitive.ObjectID, content string) (*models.ChatMessage, error)
	DeleteMessage(ctx context.Context, messageID primitive.ObjectID) error
	MarkSessionRead(ctx context.Context, sessionID primitive.ObjectID) error
	SetPinned(ctx context.Context, sessionID primitive.ObjectID, pinned bool) error
	SetMuted(ctx context.Context, sessionID primitive.ObjectID, muted bool) error
	DeleteSession(ctx context.Context, sessionID primitive.ObjectID) error
	// AcceptStaff may merge the session into an older one; callers must re-list.
	AcceptStaff(ctx context.Context, sessionID primitive.ObjectID) error
	EndStaffChat(ctx context.Context, sessionID primitive.ObjectID) error
}

type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type errorResponse struct {
	Error           string `json:"error"`
	AssignedStaffID string `json:"assigned_staff_id"`
}

func (c *HTTPClient) ListWaitingSessions(ctx context.Context) ([]models.ChatSession, error) {
	var out []models.ChatSession
	err := c.do(ctx, http.MethodGet, "/api/support/staff/sessions/waiting", nil, nil, &out)
	return out, err
}

func (c *HTTPClient) ListMySessions(ctx context.Context) ([]models.ChatSession, error) {
	var out []models.ChatSession
	err := c.do(ctx, http.MethodGet, "/api/support/staff/sessions/mine", nil, nil, &out)
	return out, err
}

func (c *HTTPClient) GetMessages(ctx context.Context, sessionID primitive.ObjectID) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "/messages"), nil, nil, &out)
	return out, err
}

func (c *HTTPClient) SearchMessages(ctx context.Context, sessionID primitive.ObjectID, query string) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	path := sessionPath(sessionID, "/messages/search") + "?q=" + url.QueryEscape(query)
	err := c.do(ctx, http.MethodGet, path, nil, nil, &out)
	return out, err
}

func (c *HTTPClient) SendMessage(ctx context.Context, sessionID primitive.ObjectID, content string, msgType models.MessageType) (*models.ChatMessage, error) {
	body := map[string]string{"content": content, "type": string(msgType)}
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	var out models.ChatMessage
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/messages"), body, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) EditMessage(ctx context.Context, messageID primitive.ObjectID, content string) (*models.ChatMessage, error) {
	var out models.ChatMessage
	err := c.do(ctx, http.MethodPut, "/api/support/staff/messages/"+messageID.Hex(), map[string]string{"content": content}, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, messageID primitive.ObjectID) error {
	return c.do(ctx, http.MethodDelete, "/api/support/staff/messages/"+messageID.Hex(), nil, nil, nil)
}

func (c *HTTPClient) MarkSessionRead(ctx context.Context, sessionID primitive.ObjectID) error {
	return c.do(ctx, http.MethodPut, sessionPath(sessionID, "/read"), nil, nil, nil)
}

func (c *HTTPClient) SetPinned(ctx context.Context, sessionID primitive.ObjectID, pinned bool) error {
	return c.do(ctx, http.MethodPut, sessionPath(sessionID, "/pin"), map[string]bool{"pinned": pinned}, nil, nil)
}

func (c *HTTPClient) SetMuted(ctx context.Context, sessionID primitive.ObjectID, muted bool) error {
	return c.do(ctx, http.MethodPut, sessionPath(sessionID, "/mute"), map[string]bool{"muted": muted}, nil, nil)
}

func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID primitive.ObjectID) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sessionID, ""), nil, nil, nil)
}

func (c *HTTPClient) AcceptStaff(ctx context.Context, sessionID primitive.ObjectID) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "/accept"), nil, nil, nil)
}

func (c *HTTPClient) EndStaffChat(ctx context.Context, sessionID primitive.ObjectID) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "/end"), nil, nil, nil)
}

func sessionPath(id primitive.ObjectID, suffix string) string {
	return "/api/support/staff/sessions/" + id.Hex() + suffix
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", models.ErrValidation, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", models.ErrForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", models.ErrNotFound, msg)
	case http.StatusConflict:
		return &models.ConflictError{AssignedStaffID: body.AssignedStaffID}
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", models.ErrInvalidTransition, msg)
	}
	return fmt.Errorf("support service returned status %d: %s", resp.StatusCode, msg)
}
