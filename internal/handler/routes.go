package handler

import (
	"github.com/gin-gonic/gin"

	"retail-ops/support-chat/internal/models"
	"retail-ops/support-chat/internal/utils"
)

// RegisterRoutes mounts the customer and staff groups. auth must populate
// userID, role and name; sendLimit guards the message-posting routes.
func (h *SupportHandler) RegisterRoutes(r gin.IRouter, auth gin.HandlerFunc, sendLimit gin.HandlerFunc) {
	customer := r.Group("/api/support/customer", auth, utils.RequireRoles(models.RoleCustomer))
	{
		customer.POST("/sessions", h.StartSession)
		customer.GET("/sessions", h.CustomerSessions)
		customer.GET("/sessions/:id/messages", h.CustomerMessages)
		customer.POST("/sessions/:id/messages", sendLimit, h.CustomerSend)
		customer.POST("/sessions/:id/request-staff", h.RequestStaff)
		customer.PUT("/messages/:id", h.EditMessage)
		customer.DELETE("/messages/:id", h.DeleteMessage)
	}

	staff := r.Group("/api/support/staff", auth, utils.RequireRoles(models.RoleStaff, models.RoleManager, models.RoleAdmin))
	{
		staff.GET("/sessions/waiting", h.WaitingSessions)
		staff.GET("/sessions/mine", h.MySessions)
		staff.GET("/sessions/:id/messages", h.Messages)
		staff.GET("/sessions/:id/messages/search", h.SearchMessages)
		staff.POST("/sessions/:id/messages", sendLimit, h.StaffSend)
		staff.PUT("/sessions/:id/read", h.MarkRead)
		staff.PUT("/sessions/:id/pin", h.SetPinned)
		staff.PUT("/sessions/:id/mute", h.SetMuted)
		staff.DELETE("/sessions/:id", h.DeleteSession)
		staff.POST("/sessions/:id/accept", h.AcceptStaff)
		staff.POST("/sessions/:id/end", h.EndStaffChat)
		staff.PUT("/messages/:id", h.EditMessage)
		staff.DELETE("/messages/:id", h.DeleteMessage)
	}
}
