package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"eventmarket/server/internal/models"
	"eventmarket/server/internal/services"
	"eventmarket/server/internal/utils"
)

// RestUserHandler handles public profile reads.
type RestUserHandler struct {
	userService    services.IUserService
	listingService services.IListingService
	reviewService  services.IReviewService
}

func NewRestUserHandler(userService services.IUserService, listingService services.IListingService, reviewService services.IReviewService) *RestUserHandler {
	return &RestUserHandler{userService: userService, listingService: listingService, reviewService: reviewService}
}

// PublicUser is the profile shown to other users.
type PublicUser struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Image        string      `json:"image,omitempty"`
	Role         models.Role `json:"role"`
	City         string      `json:"city,omitempty"`
	DateJoined   string      `json:"date_joined"`
	ListingCount int         `json:"listing_count"`
	Rating       float64     `json:"rating"`
	ReviewCount  int         `json:"review_count"`
}

func (h *RestUserHandler) userID(c *gin.Context) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format", "code": CodeValidation})
		return utils.SixID{}, false
	}
	return id, true
}

// GetUserByID handles GET /v1/user/:id
func (h *RestUserHandler) GetUserByID(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	user, err := h.userService.FindByID(ctx, userID)
	if err != nil {
		respondError(c, err, "Failed to retrieve user")
		return
	}

	rating, count := h.reviewService.AverageRating(ctx, userID)
	active := services.FilterListings(h.listingService.FindListingsByUserID(ctx, userID), "", "")
	c.JSON(http.StatusOK, PublicUser{
		ID:           user.ID.String(),
		Name:         user.Name,
		Image:        user.Image,
		Role:         user.Role,
		City:         user.City,
		DateJoined:   user.CreatedAt.Format("2006-01-02"),
		ListingCount: len(active),
		Rating:       rating,
		ReviewCount:  count,
	})
}

// GetUserReviews handles GET /v1/user/:id/reviews
func (h *RestUserHandler) GetUserReviews(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	reviews := h.reviewService.GetReviewsForUser(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{"data": reviews})
}
