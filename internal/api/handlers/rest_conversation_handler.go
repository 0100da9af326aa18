package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"eventmarket/server/internal/services"
	"eventmarket/server/internal/utils"
)

// RestConversationHandler serves the inbox reads of the current actor.
type RestConversationHandler struct {
	conversations services.IConversationService
}

func NewRestConversationHandler(conversations services.IConversationService) *RestConversationHandler {
	return &RestConversationHandler{conversations: conversations}
}

// GetInbox handles GET /v1/inbox: one contact row per conversation partner.
func (h *RestConversationHandler) GetInbox(c *gin.Context) {
	actor := currentActor(c)
	contacts, err := h.conversations.GetAllConversations(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, err, "Failed to load inbox")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": contacts})
}

// GetConversations handles GET /v1/conversations.
func (h *RestConversationHandler) GetConversations(c *gin.Context) {
	actor := currentActor(c)
	convs, err := h.conversations.GetConversations(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, err, "Failed to load conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": convs})
}

// GetMessages handles GET /v1/conversations/:id/messages. Non-participants get 403.
func (h *RestConversationHandler) GetMessages(c *gin.Context) {
	conversationID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID format", "code": CodeValidation})
		return
	}
	ctx := c.Request.Context()
	msgs, err := h.conversations.GetMessages(ctx, conversationID)
	if err != nil {
		respondError(c, err, "Failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs})
}
