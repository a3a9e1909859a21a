package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/models"
	"retail-ops/support-chat/internal/services"
	"retail-ops/support-chat/internal/utils"
)

type SupportHandler struct {
	service services.SupportService
}

func NewSupportHandler(service services.SupportService) *SupportHandler {
	return &SupportHandler{service: service}
}

type startSessionRequest struct {
	CustomerName string `json:"customer_name" validate:"omitempty,max=100"`
}

type sendMessageRequest struct {
	Content string             `json:"content" validate:"required,max=4000"`
	Type    models.MessageType `json:"type" validate:"omitempty,oneof=TEXT IMAGE FILE"`
}

type editMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type pinRequest struct {
	Pinned *bool `json:"pinned" validate:"required"`
}

type muteRequest struct {
	Muted *bool `json:"muted" validate:"required"`
}

// --- Customer ---

func (h *SupportHandler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	actor := actorFrom(c)
	if req.CustomerName != "" {
		actor.Name = req.CustomerName
	}
	session, err := h.service.StartSession(c.Request.Context(), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *SupportHandler) CustomerSessions(c *gin.Context) {
	sessions, err := h.service.CustomerSessions(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(sessions))
}

func (h *SupportHandler) CustomerMessages(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	messages, err := h.service.CustomerMessages(c.Request.Context(), c.GetString("userID"), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(messages))
}

func (h *SupportHandler) CustomerSend(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.service.CustomerSend(c.Request.Context(), actorFrom(c), id, req.Content, req.Type)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *SupportHandler) RequestStaff(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.RequestStaff(c.Request.Context(), c.GetString("userID"), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "staff requested"})
}

// --- Staff ---

func (h *SupportHandler) WaitingSessions(c *gin.Context) {
	sessions, err := h.service.WaitingSessions(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(sessions))
}

func (h *SupportHandler) MySessions(c *gin.Context) {
	sessions, err := h.service.MySessions(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(sessions))
}

func (h *SupportHandler) Messages(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	messages, err := h.service.Messages(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(messages))
}

func (h *SupportHandler) SearchMessages(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	messages, err := h.service.SearchMessages(c.Request.Context(), id, c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(messages))
}

func (h *SupportHandler) StaffSend(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.service.StaffSend(c.Request.Context(), actorFrom(c), id, req.Content, req.Type, c.GetHeader("Idempotency-Key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *SupportHandler) EditMessage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req editMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.service.EditMessage(c.Request.Context(), actorFrom(c), id, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *SupportHandler) DeleteMessage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteMessage(c.Request.Context(), actorFrom(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "message deleted"})
}

func (h *SupportHandler) MarkRead(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "marked as read"})
}

func (h *SupportHandler) SetPinned(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req pinRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.service.SetPinned(c.Request.Context(), c.GetString("userID"), id, *req.Pinned); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pinned": *req.Pinned})
}

func (h *SupportHandler) SetMuted(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req muteRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.service.SetMuted(c.Request.Context(), c.GetString("userID"), id, *req.Muted); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": *req.Muted})
}

func (h *SupportHandler) DeleteSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteSession(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
}

func (h *SupportHandler) AcceptStaff(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	sessionID, err := h.service.AcceptStaff(c.Request.Context(), c.GetString("userID"), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "accepted", "session_id": sessionID.Hex()})
}

func (h *SupportHandler) EndStaffChat(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.EndStaffChat(c.Request.Context(), c.GetString("userID"), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "chat ended"})
}

// --- helpers ---

func actorFrom(c *gin.Context) models.Actor {
	return models.Actor{
		ID:   c.GetString("userID"),
		Name: c.GetString("name"),
		Role: c.GetString("role"),
	}
}

func parseID(c *gin.Context, param string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return primitive.NilObjectID, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return false
	}
	if err := utils.GetValidator().Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": utils.ParseErrors(err)})
		return false
	}
	return true
}

func respondError(c *gin.Context, err error) {
	var conflict *models.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": "session already taken", "assigned_staff_id": conflict.AssignedStaffID})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		log.Printf("[HTTP] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
