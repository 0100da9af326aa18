package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"eventmarket/server/internal/models"
	"eventmarket/server/internal/utils"
)

func testListing(title, category, city string, lat, lon float64, status models.ListingStatus, age time.Duration) *models.Listing {
	return &models.Listing{
		ID:          utils.NewSixID(),
		Title:       title,
		Category:    category,
		CreatorName: "Creator " + title,
		Tags:        []string{"event"},
		Location:    models.ListingLocation{City: city, Latitude: lat, Longitude: lon},
		Status:      status,
		CreatedAt:   testEpoch.Add(-age),
	}
}

func listingTitles(listings []*models.Listing) []string {
	out := make([]string, len(listings))
	for i, l := range listings {
		out[i] = l.Title
	}
	return out
}

func sampleListings() []*models.Listing {
	dj := testListing("DJ Nova", "Music", "Paris", 48.8566, 2.3522, models.ListingStatusActive, 3*time.Hour)
	dj.Tags = []string{"wedding", "techno"}
	return []*models.Listing{
		dj,
		testListing("Atelier Fleurs", "Flowers", "Versailles", 48.8049, 2.1204, models.ListingStatusActive, time.Hour),
		testListing("Chateau Lumiere", "Venue", "Paris", 48.86, 2.34, models.ListingStatusActive, 2*time.Hour),
		testListing("Hidden Band", "Music", "Paris", 48.85, 2.35, models.ListingStatusInactive, 0),
		testListing("Lyon Caterer", "Catering", "Lyon", 45.764, 4.8357, models.ListingStatusActive, 4*time.Hour),
	}
}

func TestFilterListings_ActiveSortedNewestFirst(t *testing.T) {
	got := FilterListings(sampleListings(), "", "")
	assert.Equal(t, []string{"Atelier Fleurs", "Chateau Lumiere", "DJ Nova", "Lyon Caterer"}, listingTitles(got))
}

func TestFilterListings_Category(t *testing.T) {
	listings := sampleListings()
	assert.Equal(t, []string{"DJ Nova"}, listingTitles(FilterListings(listings, "", "music")))
	assert.Len(t, FilterListings(listings, "", "ALL"), 4)
	assert.Empty(t, FilterListings(listings, "", "Photography"))
}

func TestFilterListings_QueryFields(t *testing.T) {
	listings := sampleListings()
	assert.Equal(t, []string{"DJ Nova"}, listingTitles(FilterListings(listings, "TECHNO", "")), "tags")
	assert.Equal(t, []string{"Chateau Lumiere", "DJ Nova"}, listingTitles(FilterListings(listings, "paris", "")), "city")
	assert.Equal(t, []string{"Lyon Caterer"}, listingTitles(FilterListings(listings, "creator lyon", "")), "creator name")
	assert.Equal(t, []string{"Atelier Fleurs"}, listingTitles(FilterListings(listings, "flow", "")), "category")
	assert.Empty(t, FilterListings(listings, "hidden", ""), "inactive listings never match")
}

func TestFilterListings_Idempotent(t *testing.T) {
	once := FilterListings(sampleListings(), "a", "all")
	twice := FilterListings(once, "a", "all")
	assert.Equal(t, listingTitles(once), listingTitles(twice))
}

func TestDistanceKM_Planar(t *testing.T) {
	assert.InDelta(t, 111.0, DistanceKM(0, 0, 1, 0), 1e-9)
	assert.InDelta(t, 111.0*5, DistanceKM(0, 0, 3, 4), 1e-9)
	assert.Equal(t, 0.0, DistanceKM(48.8, 2.3, 48.8, 2.3))
}

func TestFilterByLocation(t *testing.T) {
	listings := FilterListings(sampleListings(), "", "")

	near := FilterByLocation(listings, 48.8566, 2.3522, 0, false)
	assert.Equal(t, []string{"Atelier Fleurs", "Chateau Lumiere", "DJ Nova"}, listingTitles(near), "default radius keeps order")

	sorted := FilterByLocation(listings, 48.8566, 2.3522, 0, true)
	assert.Equal(t, []string{"DJ Nova", "Chateau Lumiere", "Atelier Fleurs"}, listingTitles(sorted))

	tight := FilterByLocation(listings, 48.8566, 2.3522, 5, false)
	assert.Equal(t, []string{"Chateau Lumiere", "DJ Nova"}, listingTitles(tight))
}

func TestApplySearch(t *testing.T) {
	got := ApplySearch(sampleListings(), SearchQuery{
		Query: "paris", Near: &models.ListingLocation{Latitude: 48.86, Longitude: 2.34}, SortByDistance: true,
	})
	assert.Equal(t, []string{"Chateau Lumiere", "DJ Nova"}, listingTitles(got))
}
