package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"eventmarket/server/internal/models"
	"eventmarket/server/internal/services"
	"eventmarket/server/internal/utils"
)

// RestListingHandler handles public REST reads of listings.
type RestListingHandler struct {
	listingService services.IListingService
}

func NewRestListingHandler(listingService services.IListingService) *RestListingHandler {
	return &RestListingHandler{listingService: listingService}
}

// searchQueryFromRequest reads q, category, lat, lon, radius_km and sort=distance.
// Location filtering only applies when both coordinates parse.
func searchQueryFromRequest(c *gin.Context) services.SearchQuery {
	q := services.SearchQuery{
		Query:          c.Query("q"),
		Category:       c.Query("category"),
		SortByDistance: c.Query("sort") == "distance",
	}
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lon, lonErr := strconv.ParseFloat(c.Query("lon"), 64)
	if latErr == nil && lonErr == nil {
		q.Near = &models.ListingLocation{Latitude: lat, Longitude: lon}
		if r, err := strconv.ParseFloat(c.Query("radius_km"), 64); err == nil && r > 0 {
			q.RadiusKM = r
		}
	}
	return q
}

// SearchListings handles GET /v1/listing/search.
func (h *RestListingHandler) SearchListings(c *gin.Context) {
	listings := h.listingService.SearchListings(c.Request.Context(), searchQueryFromRequest(c))
	c.JSON(http.StatusOK, gin.H{"data": listings, "count": len(listings)})
}

// GetListingByID handles GET /v1/listing/:id
func (h *RestListingHandler) GetListingByID(c *gin.Context) {
	listingID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format", "code": CodeValidation})
		return
	}
	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingID)
	if err != nil {
		respondError(c, err, "Failed to retrieve listing")
		return
	}
	c.JSON(http.StatusOK, listing)
}

// GetUserListings handles GET /v1/user/:id/listing. Only active listings are public.
func (h *RestListingHandler) GetUserListings(c *gin.Context) {
	userID, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format", "code": CodeValidation})
		return
	}
	listings := services.FilterListings(h.listingService.FindListingsByUserID(c.Request.Context(), userID), "", "")
	c.JSON(http.StatusOK, gin.H{"data": listings})
}
