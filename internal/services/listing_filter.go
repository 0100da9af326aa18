package services

import (
	"math"
	"sort"
	"strings"

	"eventmarket/server/internal/models"
)

const (
	// CategoryAll disables category filtering.
	CategoryAll = "all"
	// DefaultRadiusKM is the search radius used when none is given.
	DefaultRadiusKM = 50.0
	// KMPerDegree scales planar degree distances to kilometres.
	KMPerDegree = 111.0
)

// SearchQuery is the input of the listing filter pipeline.
type SearchQuery struct {
	Query          string
	Category       string
	Near           *models.ListingLocation // Optional geo filter
	RadiusKM       float64
	SortByDistance bool
}

// FilterListings keeps active listings matching category and query, newest first.
// The input slice is not modified.
func FilterListings(listings []*models.Listing, query, category string) []*models.Listing {
	category = strings.TrimSpace(category)
	query = strings.ToLower(strings.TrimSpace(query))

	out := make([]*models.Listing, 0, len(listings))
	for _, l := range listings {
		if l.Status != models.ListingStatusActive {
			continue
		}
		if category != "" && !strings.EqualFold(category, CategoryAll) && !strings.EqualFold(l.Category, category) {
			continue
		}
		if query != "" && !matchesQuery(l, query) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func matchesQuery(l *models.Listing, query string) bool {
	fields := []string{l.Title, l.Description, l.Category, l.CreatorName, l.Location.City}
	fields = append(fields, l.Tags...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}

// DistanceKM is the planar distance between two points, approximating one degree as 111 km.
// It is not a great-circle distance; the error is small at city scale.
func DistanceKM(lat1, lon1, lat2, lon2 float64) float64 {
	return math.Hypot(lat2-lat1, lon2-lon1) * KMPerDegree
}

// FilterByLocation keeps listings within radiusKM of (lat, lon). A non-positive radius
// means DefaultRadiusKM. Order is preserved unless sortByDistance is set.
func FilterByLocation(listings []*models.Listing, lat, lon, radiusKM float64, sortByDistance bool) []*models.Listing {
	if radiusKM <= 0 {
		radiusKM = DefaultRadiusKM
	}
	type hit struct {
		listing  *models.Listing
		distance float64
	}
	hits := make([]hit, 0, len(listings))
	for _, l := range listings {
		d := DistanceKM(lat, lon, l.Location.Latitude, l.Location.Longitude)
		if d <= radiusKM {
			hits = append(hits, hit{l, d})
		}
	}
	if sortByDistance {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	}
	out := make([]*models.Listing, len(hits))
	for i, h := range hits {
		out[i] = h.listing
	}
	return out
}

// ApplySearch runs the full pipeline: text and category filtering, then the optional geo step.
func ApplySearch(listings []*models.Listing, q SearchQuery) []*models.Listing {
	out := FilterListings(listings, q.Query, q.Category)
	if q.Near != nil {
		out = FilterByLocation(out, q.Near.Latitude, q.Near.Longitude, q.RadiusKM, q.SortByDistance)
	}
	return out
}
