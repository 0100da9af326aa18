package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"eventmarket/server/internal/models"
	"eventmarket/server/internal/services"
	"eventmarket/server/internal/tasks"
	"eventmarket/server/internal/utils"
)

// RestQuoteHandler serves the quote lifecycle under /v1/quotes. All routes need an actor.
type RestQuoteHandler struct {
	quotes        services.IQuoteService
	conversations services.IConversationService
	dispatcher    *tasks.Dispatcher
}

func NewRestQuoteHandler(quotes services.IQuoteService, conversations services.IConversationService, dispatcher *tasks.Dispatcher) *RestQuoteHandler {
	return &RestQuoteHandler{quotes: quotes, conversations: conversations, dispatcher: dispatcher}
}

type QuoteItemRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

type CreateQuoteRequest struct {
	ClientID    string             `json:"client_id" binding:"required"`
	ListingID   string             `json:"listing_id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Items       []QuoteItemRequest `json:"items"`
	Draft       bool               `json:"draft"`
}

// CreateQuote handles POST /v1/quotes. Totals sent by the client are ignored.
func (h *RestQuoteHandler) CreateQuote(c *gin.Context) {
	var req CreateQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error(), "code": CodeValidation})
		return
	}
	clientID, err := utils.ParseSixID(req.ClientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client_id format", "code": CodeValidation})
		return
	}
	in := services.CreateQuoteInput{
		ClientID:    clientID,
		Title:       req.Title,
		Description: req.Description,
		SaveAsDraft: req.Draft,
	}
	if req.ListingID != "" {
		listingID, err := utils.ParseSixID(req.ListingID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing_id format", "code": CodeValidation})
			return
		}
		in.ListingID = &listingID
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, models.QuoteItem{
			Name:        item.Name,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	ctx := c.Request.Context()
	quote, err := h.quotes.CreateQuote(ctx, in)
	if err != nil {
		respondError(c, err, "Failed to create quote")
		return
	}
	h.published(ctx, quote)
	c.JSON(http.StatusCreated, quote)
}

// published posts the quote card into the provider/client conversation and notifies the
// client. Drafts stay private.
func (h *RestQuoteHandler) published(ctx context.Context, quote *models.Quote) {
	if quote.Status != models.QuoteStatusPending {
		return
	}
	conversationID, err := h.conversations.CreateConversation(ctx, services.CreateConversationInput{
		OtherID:   quote.ClientID,
		ListingID: quote.ListingID,
	})
	if err == nil {
		_, err = h.conversations.SendQuoteMessage(ctx, conversationID, quote, quote.ClientID)
	}
	if err != nil {
		log.Printf("Quote %s created but its conversation message failed: %v", quote.ID, err)
	}
	h.dispatcher.QuoteChanged(ctx, quote, quote.ProviderID)
}

// ListQuotes handles GET /v1/quotes: quotes the actor issued and quotes addressed to them.
func (h *RestQuoteHandler) ListQuotes(c *gin.Context) {
	ctx := c.Request.Context()
	actor, _ := services.ActorFromContext(ctx)
	sent, err := h.quotes.GetUserQuotes(ctx)
	if err != nil {
		respondError(c, err, "Failed to list quotes")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sent":     sent,
		"received": h.quotes.GetQuotesForUser(ctx, actor.ID),
	})
}

func (h *RestQuoteHandler) quoteID(c *gin.Context) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid quote ID format", "code": CodeValidation})
		return utils.SixID{}, false
	}
	return id, true
}

// GetQuote handles GET /v1/quotes/:id.
func (h *RestQuoteHandler) GetQuote(c *gin.Context) {
	id, ok := h.quoteID(c)
	if !ok {
		return
	}
	quote, err := h.quotes.GetQuote(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to retrieve quote")
		return
	}
	c.JSON(http.StatusOK, quote)
}

type quoteTransitionFunc func(ctx context.Context, id utils.SixID) (*models.Quote, error)

// Transition handles POST /v1/quotes/:id/:action.
func (h *RestQuoteHandler) Transition(c *gin.Context) {
	id, ok := h.quoteID(c)
	if !ok {
		return
	}
	transitions := map[string]quoteTransitionFunc{
		"submit":   h.quotes.SubmitQuote,
		"accept":   h.quotes.AcceptQuote,
		"reject":   h.quotes.RejectQuote,
		"pay":      h.quotes.PayQuote,
		"complete": h.quotes.CompleteQuote,
		"refund":   h.quotes.RefundQuote,
	}
	action := c.Param("action")
	fn, ok := transitions[action]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown quote action: " + action, "code": CodeNotFound})
		return
	}

	ctx := c.Request.Context()
	quote, err := fn(ctx, id)
	if err != nil {
		respondError(c, err, "Failed to "+action+" quote")
		return
	}
	actor, _ := services.ActorFromContext(ctx)
	log.Printf("Quote %s %s by %s, now %s", quote.ID, action, actor.ID, quote.Status)
	if action == "submit" {
		h.published(ctx, quote)
	} else {
		h.dispatcher.QuoteChanged(ctx, quote, actor.ID)
	}
	c.JSON(http.StatusOK, quote)
}

// DeleteQuote handles DELETE /v1/quotes/:id.
func (h *RestQuoteHandler) DeleteQuote(c *gin.Context) {
	id, ok := h.quoteID(c)
	if !ok {
		return
	}
	if err := h.quotes.DeleteQuote(c.Request.Context(), id); err != nil {
		respondError(c, err, "Failed to delete quote")
		return
	}
	c.Status(http.StatusNoContent)
}
