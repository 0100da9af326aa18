package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"eventmarket/server/internal/api/middleware"
	"eventmarket/server/internal/auth"
	"eventmarket/server/internal/config"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/services"
	"eventmarket/server/internal/storage"
	"eventmarket/server/internal/tasks"
	"eventmarket/server/internal/utils"
)

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

// JsonApiHandler serves POST /v1/api: {"method": ..., "arguments": [...]}.
type JsonApiHandler struct {
	cfg           *config.Config
	users         services.IUserService
	listings      services.IListingService
	conversations services.IConversationService
	reviews       services.IReviewService
	storage       storage.IS3Storage
	dispatcher    *tasks.Dispatcher
	methods       map[string]apiMethodFunc
	public        map[string]bool
}

// NewJsonApiHandler wires the method table. storageService may be nil when no bucket is
// configured; upload methods then fail.
func NewJsonApiHandler(
	cfg *config.Config,
	users services.IUserService,
	listings services.IListingService,
	conversations services.IConversationService,
	reviews services.IReviewService,
	storageService storage.IS3Storage,
	dispatcher *tasks.Dispatcher,
) *JsonApiHandler {
	h := &JsonApiHandler{
		cfg:           cfg,
		users:         users,
		listings:      listings,
		conversations: conversations,
		reviews:       reviews,
		storage:       storageService,
		dispatcher:    dispatcher,
	}
	h.methods = map[string]apiMethodFunc{
		"ping":              h.ping,
		"login":             h.login,
		"register":          h.register,
		"refreshToken":      h.refreshToken,
		"createListing":     h.createListing,
		"updateListing":     h.updateListing,
		"publishListing":    h.publishListing,
		"hideListing":       h.hideListing,
		"deleteListing":     h.deleteListing,
		"getUploadURL":      h.getUploadURL,
		"addListingImage":   h.addListingImage,
		"startConversation": h.startConversation,
		"sendMessage":       h.sendMessage,
		"sendImageMessage":  h.sendImageMessage,
		"addContact":        h.addContact,
		"markAsRead":        h.markAsRead,
		"canReview":         h.canReview,
		"submitReview":      h.submitReview,
	}
	h.public = map[string]bool{"ping": true, "login": true, "register": true}
	return h
}

// HandleRequest is the entry point for POST /v1/api.
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, NewApiError("Failed to read request body"))
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, NewApiError("Invalid JSON request format"))
		return
	}

	handlerFunc, ok := h.methods[req.Method]
	if !ok {
		h.sendErrorResponse(c, &ApiError{Message: fmt.Sprintf("Unknown method: %s", req.Method), Code: CodeNotFound})
		return
	}
	if apiErr := h.checkAuthForMethod(c, req.Method); apiErr != nil {
		h.sendErrorResponse(c, apiErr)
		return
	}

	result, apiErr := handlerFunc(c, req.Arguments)
	if apiErr != nil {
		h.sendErrorResponse(c, apiErr)
		return
	}
	h.sendSuccessResponse(c, result)
}

// checkAuthForMethod attaches the actor for a valid token. Non-public methods require one.
func (h *JsonApiHandler) checkAuthForMethod(c *gin.Context, method string) *ApiError {
	actor, err := middleware.ActorFromHeader(c.GetHeader("Authorization"), h.cfg.JwtSecret)
	if err != nil {
		if h.public[method] {
			return nil
		}
		log.Printf("DEBUG: Token validation failed for method %s: %v", method, err)
		return &ApiError{Message: err.Error(), Code: CodeUnauthenticated}
	}
	c.Set(middleware.ContextKeyActor, actor)
	c.Request = c.Request.WithContext(services.WithActor(c.Request.Context(), actor))
	return nil
}

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, JsonApiResponse{Success: true, Data: data})
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, apiErr *ApiError) {
	c.JSON(http.StatusOK, JsonApiResponse{Success: false, Error: apiErr.Message, Code: apiErr.Code})
}

// parseRequiredSingleArgFromArray unmarshals the first element of the arguments array.
func parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	if rawArgPayload == nil {
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}
	var argArray []json.RawMessage
	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}
	if len(argArray) == 0 {
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}
	if err := json.Unmarshal(argArray[0], targetVarPtr); err != nil {
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}

func parseIDArg(args json.RawMessage, name string) (utils.SixID, *ApiError) {
	var raw string
	if apiErr := parseRequiredSingleArgFromArray(args, &raw); apiErr != nil {
		return utils.SixID{}, apiErr
	}
	return parseID(raw, name)
}

func parseID(raw, name string) (utils.SixID, *ApiError) {
	id, err := utils.ParseSixID(raw)
	if err != nil {
		return utils.SixID{}, NewApiError(fmt.Sprintf("Invalid %s format", name))
	}
	return id, nil
}

func currentActor(c *gin.Context) models.Actor {
	actor, _ := middleware.CurrentActor(c)
	return actor
}

// --- Session ---

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	return "pong", nil
}

type LoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterArgs struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	City     string `json:"city"`
}

type AuthResponse struct {
	Token string      `json:"token"`
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Role  models.Role `json:"role"`
}

func (h *JsonApiHandler) issueToken(user *models.User) (interface{}, *ApiError) {
	token, err := auth.GenerateJWT(user.Actor(), h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("Failed to generate JWT for user %s: %v", user.ID, err)
		return nil, &ApiError{Message: "Failed to generate session token", Code: CodeInternal}
	}
	return AuthResponse{Token: token, ID: user.ID.String(), Name: user.Name, Role: user.Role}, nil
}

func (h *JsonApiHandler) login(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs LoginArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	user, err := h.users.Authenticate(c.Request.Context(), reqArgs.Email, reqArgs.Password)
	if err != nil {
		log.Printf("Login attempt failed for %s: %v", reqArgs.Email, err)
		return nil, apiErrorFrom(err, "Login failed")
	}
	log.Printf("Login successful for user %s", user.ID)
	return h.issueToken(user)
}

func (h *JsonApiHandler) register(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs RegisterArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	role, err := models.ParseRole(reqArgs.Role)
	if err != nil {
		return nil, NewApiError(err.Error())
	}
	user, err := h.users.CreateUser(c.Request.Context(), services.CreateUserInput{
		Name:     reqArgs.Name,
		Email:    reqArgs.Email,
		Password: reqArgs.Password,
		Role:     role,
		City:     reqArgs.City,
	})
	if err != nil {
		return nil, apiErrorFrom(err, "Registration failed")
	}
	return h.issueToken(user)
}

func (h *JsonApiHandler) refreshToken(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	user, err := h.users.FindByID(c.Request.Context(), currentActor(c).ID)
	if err != nil {
		return nil, apiErrorFrom(err, "Failed to refresh token")
	}
	return h.issueToken(user)
}

// --- Listings ---

type ListingArgs struct {
	ListingID   string                 `json:"listing_id,omitempty"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	Tags        []string               `json:"tags"`
	Location    models.ListingLocation `json:"location"`
	Price       float64                `json:"price"`
}

func (a ListingArgs) input() services.ListingInput {
	return services.ListingInput{
		Title:       a.Title,
		Description: a.Description,
		Category:    a.Category,
		Tags:        a.Tags,
		Location:    a.Location,
		Price:       a.Price,
	}
}

func (h *JsonApiHandler) createListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ListingArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	listing, err := h.listings.CreateListing(c.Request.Context(), reqArgs.input())
	if err != nil {
		return nil, apiErrorFrom(err, "Failed to create listing")
	}
	return listing, nil
}

func (h *JsonApiHandler) updateListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ListingArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	listingID, apiErr := parseID(reqArgs.ListingID, "listing_id")
	if apiErr != nil {
		return nil, apiErr
	}
	listing, err := h.listings.UpdateListing(c.Request.Context(), listingID, reqArgs.input())
	if err != nil {
		return nil, apiErrorFrom(err, "Failed to update listing")
	}
	return listing, nil
}

func (h *JsonApiHandler) listingAction(c *gin.Context, args json.RawMessage, action func(*gin.Context, utils.SixID) error, fallback string) (interface{}, *ApiError) {
	listingID, apiErr := parseIDArg(args, "listing_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if err := action(c, listingID); err != nil {
		return nil, apiErrorFrom(err, fallback)
	}
	return nil, nil
}

func (h *JsonApiHandler) publishListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	return h.listingAction(c, args, func(c *gin.Context, id utils.SixID) error {
		return h.listings.PublishListing(c.Request.Context(), id)
	}, "Failed to publish listing")
}

func (h *JsonApiHandler) hideListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	return h.listingAction(c, args, func(c *gin.Context, id utils.SixID) error {
		return h.listings.HideListing(c.Request.Context(), id)
	}, "Failed to hide listing")
}

func (h *JsonApiHandler) deleteListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	return h.listingAction(c, args, func(c *gin.Context, id utils.SixID) error {
		return h.listings.DeleteListing(c.Request.Context(), id)
	}, "Failed to delete listing")
}

// --- Uploads ---

// Upload targets accepted by getUploadURL.
const (
	UploadTargetMessage = "message"
	UploadTargetListing = "listing"
)

type GetUploadURLArgs struct {
	Target      string `json:"target"`
	TargetID    string `json:"target_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

func (h *JsonApiHandler) getUploadURL(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	if h.storage == nil {
		return nil, &ApiError{Message: "Uploads are not configured", Code: CodeInternal}
	}
	var reqArgs GetUploadURLArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.Filename == "" || !storage.IsAllowedImageType(reqArgs.ContentType) {
		return nil, NewApiError("A filename and an image content_type (jpeg, png, gif) are required")
	}
	targetID, apiErr := parseID(reqArgs.TargetID, "target_id")
	if apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	actor := currentActor(c)
	var key string
	switch reqArgs.Target {
	case UploadTargetMessage:
		if apiErr := h.requireParticipant(c, targetID); apiErr != nil {
			return nil, apiErr
		}
		key = storage.MessageImageKey(targetID, reqArgs.Filename)
	case UploadTargetListing:
		listing, err := h.listings.FindListingByID(ctx, targetID)
		if err != nil {
			return nil, apiErrorFrom(err, "Failed to load listing")
		}
		if listing.CreatorID != actor.ID {
			return nil, &ApiError{Message: "Only the listing owner can upload images", Code: CodeForbidden}
		}
		key = storage.ListingImageKey(targetID, reqArgs.Filename)
	default:
		return nil, NewApiError("target must be 'message' or 'listing'")
	}

	url, err := h.storage.GeneratePresignedPutURL(ctx, key, reqArgs.ContentType)
	if err != nil {
		log.Printf("Error generating presigned URL for user %s, key %s: %v", actor.ID, key, err)
		return nil, &ApiError{Message: "Failed to generate upload URL", Code: CodeInternal}
	}
	return gin.H{"upload_url": url, "object_key": key}, nil
}

// requireParticipant checks that the current actor takes part in the conversation.
func (h *JsonApiHandler) requireParticipant(c *gin.Context, conversationID utils.SixID) *ApiError {
	actor := currentActor(c)
	convs, err := h.conversations.GetConversations(c.Request.Context(), actor.ID)
	if err != nil {
		return apiErrorFrom(err, "Failed to load conversations")
	}
	for _, conv := range convs {
		if conv.ID == conversationID {
			return nil
		}
	}
	return &ApiError{Message: fmt.Sprintf("conversation %s not found", conversationID), Code: CodeNotFound}
}

type ListingImageArgs struct {
	ListingID string `json:"listing_id"`
	ObjectKey string `json:"object_key"`
}

func (h *JsonApiHandler) addListingImage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ListingImageArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	listingID, apiErr := parseID(reqArgs.ListingID, "listing_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if !strings.HasPrefix(reqArgs.ObjectKey, "listings/"+listingID.String()+"/") {
		return nil, NewApiError("object_key does not belong to this listing")
	}
	if err := h.listings.AddImageToListing(c.Request.Context(), listingID, reqArgs.ObjectKey); err != nil {
		return nil, apiErrorFrom(err, "Failed to add image")
	}
	h.dispatcher.ImageUploaded(c.Request.Context(), reqArgs.ObjectKey)
	return nil, nil
}

// --- Conversations ---

type StartConversationArgs struct {
	OtherID   string `json:"other_id"`
	Message   string `json:"message"`
	ListingID string `json:"listing_id,omitempty"`
}

func (h *JsonApiHandler) startConversation(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs StartConversationArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	otherID, apiErr := parseID(reqArgs.OtherID, "other_id")
	if apiErr != nil {
		return nil, apiErr
	}
	in := services.CreateConversationInput{OtherID: otherID, InitialMessage: reqArgs.Message}
	if reqArgs.ListingID != "" {
		listingID, apiErr := parseID(reqArgs.ListingID, "listing_id")
		if apiErr != nil {
			return nil, apiErr
		}
		in.ListingID = &listingID
	}

	ctx := c.Request.Context()
	conversationID, err := h.conversations.CreateConversation(ctx, in)
	if err != nil {
		return nil, apiErrorFrom(err, "Failed to start conversation")
	}
	if strings.TrimSpace(reqArgs.Message) != "" {
		actor := currentActor(c)
		h.dispatcher.MessageSent(ctx, &models.Message{
			ConversationID: conversationID,
			SenderID:       actor.ID,
			ReceiverID:     otherID,
			Content:        reqArgs.Message,
			Type:           models.MessageTypeText,
		})
	}
	return gin.H{"conversation_id": conversationID.String()}, nil
}

type SendMessageArgs struct {
	ConversationID string `json:"conversation_id"`
	ReceiverID     string `json:"receiver_id"`
	Content        string `json:"content"`
	ObjectKey      string `json:"object_key,omitempty"`
}

func (a SendMessageArgs) ids() (utils.SixID, utils.SixID, *ApiError) {
	conversationID, apiErr := parseID(a.ConversationID, "conversation_id")
	if apiErr != nil {
		return utils.SixID{}, utils.SixID{}, apiErr
	}
	receiverID, apiErr := parseID(a.ReceiverID, "receiver_id")
	if apiErr != nil {
		return utils.SixID{}, utils.SixID{}, apiErr
	}
	return conversationID, receiverID, nil
}

func (h *JsonApiHandler) sendMessage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SendMessageArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	conversationID, receiverID, apiErr := reqArgs.ids()
	if apiErr != nil {
		return nil, apiErr
	}
	ctx := c.Request.Context()
	msg, err := h.conversations.SendMessage(ctx, conversationID, reqArgs.Content, receiverID)
	if err != nil {
		return nil, apiErrorFrom(err, "Failed to send message")
	}
	h.dispatcher.MessageSent(ctx, msg)
	return msg, nil
}

func (h *JsonApiHandler) sendImageMessage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SendMessageArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	conversationID, receiverID, apiErr := reqArgs.ids()
	if apiErr != nil {
		return nil, apiErr
	}
	if !strings.HasPrefix(reqArgs.ObjectKey, "messages/"+conversationID.String()+"/") {
		return nil, NewApiError("object_key does not belong to this conversation")
	}
	ctx := c.Request.Context()
	msg, err := h.conversations.SendImageMessage(ctx, conversationID, reqArgs.ObjectKey, reqArgs.Content, receiverID)
	if err != nil {
		return nil, apiErrorFrom(err, "Failed to send image")
	}
	h.dispatcher.ImageUploaded(ctx, reqArgs.ObjectKey)
	h.dispatcher.MessageSent(ctx, msg)
	return msg, nil
}

type AddContactArgs struct {
	ParticipantID string `json:"participant_id"`
	LastMessage   string `json:"last_message"`
}

// addContact pins a participant to the current actor's inbox. Display fields come from the
// directory, never from the caller.
func (h *JsonApiHandler) addContact(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs AddContactArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	participantID, apiErr := parseID(reqArgs.ParticipantID, "participant_id")
	if apiErr != nil {
		return nil, apiErr
	}
	ctx := c.Request.Context()
	user, err := h.users.FindByID(ctx, participantID)
	if err != nil {
		return nil, apiErrorFrom(err, "Failed to load participant")
	}
	contact := models.Contact{
		ParticipantID:    user.ID,
		ParticipantName:  user.Name,
		ParticipantImage: user.Image,
		ParticipantType:  user.Role,
		LastMessage:      reqArgs.LastMessage,
	}
	if err := h.conversations.AddContact(ctx, currentActor(c).ID, contact); err != nil {
		return nil, apiErrorFrom(err, "Failed to add contact")
	}
	return nil, nil
}

func (h *JsonApiHandler) markAsRead(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	conversationID, apiErr := parseIDArg(args, "conversation_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if err := h.conversations.MarkAsRead(c.Request.Context(), conversationID, currentActor(c).ID); err != nil {
		return nil, apiErrorFrom(err, "Failed to mark conversation as read")
	}
	return nil, nil
}

// --- Reviews ---

func (h *JsonApiHandler) canReview(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	targetID, apiErr := parseIDArg(args, "target_id")
	if apiErr != nil {
		return nil, apiErr
	}
	return h.reviews.CanReview(c.Request.Context(), currentActor(c).ID, targetID), nil
}

type SubmitReviewArgs struct {
	TargetID string `json:"target_id"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
}

func (h *JsonApiHandler) submitReview(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SubmitReviewArgs
	if apiErr := parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	targetID, apiErr := parseID(reqArgs.TargetID, "target_id")
	if apiErr != nil {
		return nil, apiErr
	}
	review, err := h.reviews.SubmitReview(c.Request.Context(), targetID, reqArgs.Rating, reqArgs.Comment)
	if err != nil {
		return nil, apiErrorFrom(err, "Failed to submit review")
	}
	return review, nil
}
