package models

import (
	"time"

	"eventmarket/server/internal/utils"
)

// ListingStatus controls marketplace visibility.
type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusInactive ListingStatus = "inactive"
	ListingStatusDraft    ListingStatus = "draft"
)

// ListingLocation is where a service or venue operates.
type ListingLocation struct {
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Listing is a service or venue offered on the marketplace.
type Listing struct {
	ID            utils.SixID     `json:"id"`
	CreatorID     utils.SixID     `json:"creator_id"`
	CreatorName   string          `json:"creator_name"`
	CreatorRating float64         `json:"creator_rating"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	Tags          []string        `json:"tags"`
	Images        []string        `json:"images"`
	Location      ListingLocation `json:"location"`
	Price         float64         `json:"price"`
	Status        ListingStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
