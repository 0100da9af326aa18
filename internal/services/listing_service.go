package services

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"eventmarket/server/internal/config"
	"eventmarket/server/internal/db"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/utils"
)

// IRatingSource supplies the average rating shown on a creator's listings.
type IRatingSource interface {
	AverageRating(ctx context.Context, userID utils.SixID) (float64, int)
}

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	Load(ctx context.Context) error
	CreateListing(ctx context.Context, in ListingInput) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
	UpdateListing(ctx context.Context, listingID utils.SixID, in ListingInput) (*models.Listing, error)
	PublishListing(ctx context.Context, listingID utils.SixID) error
	HideListing(ctx context.Context, listingID utils.SixID) error
	AddImageToListing(ctx context.Context, listingID utils.SixID, imageKey string) error
	DeleteListing(ctx context.Context, listingID utils.SixID) error
	ListListings(ctx context.Context) []*models.Listing
	FindListingsByUserID(ctx context.Context, userID utils.SixID) []*models.Listing
	SearchListings(ctx context.Context, q SearchQuery) []*models.Listing
}

// ListingInput holds the editable fields of a listing.
type ListingInput struct {
	Title       string
	Description string
	Category    string
	Tags        []string
	Location    models.ListingLocation
	Price       float64
}

// listingService implements IListingService over an in-memory collection.
type listingService struct {
	mu        sync.RWMutex
	listings  []*models.Listing
	identity  IIdentityProvider
	directory IUserDirectory
	ratings   IRatingSource
	snapshots ISnapshotStore
	latency   time.Duration
	radiusKM  float64
	now       func() time.Time
}

// NewListingService creates a new ListingService. directory and ratings may be nil.
func NewListingService(cfg *config.Config, identity IIdentityProvider, directory IUserDirectory, ratings IRatingSource, snapshots ISnapshotStore) IListingService {
	if snapshots == nil {
		snapshots = NewMemorySnapshotStore()
	}
	s := &listingService{
		identity:  identity,
		directory: directory,
		ratings:   ratings,
		snapshots: snapshots,
		radiusKM:  DefaultRadiusKM,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if cfg != nil {
		s.latency = cfg.SimulatedLatency
		if cfg.SearchRadiusKM > 0 {
			s.radiusKM = cfg.SearchRadiusKM
		}
	}
	return s
}

func (s *listingService) Load(ctx context.Context) error {
	var listings []*models.Listing
	found, err := s.snapshots.LoadSnapshot(ctx, snapshotListings, &listings)
	if err != nil {
		return fmt.Errorf("failed to load listings: %w", err)
	}
	if found {
		s.mu.Lock()
		s.listings = listings
		s.mu.Unlock()
		log.Printf("Loaded %d listings", len(listings))
	}
	return nil
}

func validateListingInput(in ListingInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("title is required: %w", ErrValidation)
	}
	if strings.TrimSpace(in.Category) == "" || strings.EqualFold(strings.TrimSpace(in.Category), CategoryAll) {
		return fmt.Errorf("a concrete category is required: %w", ErrValidation)
	}
	if in.Price < 0 {
		return fmt.Errorf("price cannot be negative: %w", ErrValidation)
	}
	if in.Location.Latitude < -90 || in.Location.Latitude > 90 || in.Location.Longitude < -180 || in.Location.Longitude > 180 {
		return fmt.Errorf("location out of range: %w", ErrValidation)
	}
	return nil
}

func cloneListing(l *models.Listing) *models.Listing {
	cp := *l
	cp.Tags = slices.Clone(l.Tags)
	cp.Images = slices.Clone(l.Images)
	return &cp
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// decorate fills the creator display fields from the directory and the rating source.
func (s *listingService) decorate(ctx context.Context, l *models.Listing) *models.Listing {
	if s.directory != nil {
		if u, err := s.directory.FindByID(ctx, l.CreatorID); err == nil {
			l.CreatorName = u.Name
		}
	}
	if s.ratings != nil {
		if avg, n := s.ratings.AverageRating(ctx, l.CreatorID); n > 0 {
			l.CreatorRating = avg
		}
	}
	return l
}

func (s *listingService) commit(ctx context.Context, next []*models.Listing) error {
	if err := s.snapshots.SaveSnapshot(ctx, snapshotListings, next); err != nil {
		return fmt.Errorf("failed to persist listings: %w", err)
	}
	s.listings = next
	return nil
}

// CreateListing creates a new listing in a draft state, owned by the current actor.
func (s *listingService) CreateListing(ctx context.Context, in ListingInput) (*models.Listing, error) {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return nil, err
	}
	if err := Authorize(OpManageListing, actor, nil); err != nil {
		return nil, err
	}
	if err := validateListingInput(in); err != nil {
		return nil, err
	}
	if err := simulateLatency(ctx, s.latency); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	listing := &models.Listing{
		CreatorID:   actor.ID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Category:    strings.TrimSpace(in.Category),
		Tags:        normalizeTags(in.Tags),
		Images:      []string{},
		Location:    in.Location,
		Price:       models.RoundMoney(in.Price),
		Status:      models.ListingStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = db.Try(func() error {
		listing.ID = utils.NewSixID()
		if slices.ContainsFunc(s.listings, func(l *models.Listing) bool { return l.ID == listing.ID }) {
			return fmt.Errorf("listing %s: %w", listing.ID, db.ErrDuplicateID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate listing id for user %s: %w", actor.ID, err)
	}
	s.decorate(ctx, listing)

	next := append(s.listings[:len(s.listings):len(s.listings)], listing)
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}
	log.Printf("Listing %s created by %s", listing.ID, actor.ID)
	return cloneListing(listing), nil
}

// FindListingByID does not check ownership.
func (s *listingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	var found *models.Listing
	s.mu.RLock()
	for _, l := range s.listings {
		if l.ID == listingID {
			found = cloneListing(l)
			break
		}
	}
	s.mu.RUnlock()
	if found == nil {
		return nil, fmt.Errorf("listing %s: %w", listingID, ErrNotFound)
	}
	return s.decorate(ctx, found), nil
}

// mutateOwned applies change to a copy of the actor's listing and commits it.
func (s *listingService) mutateOwned(ctx context.Context, listingID utils.SixID, change func(l *models.Listing) error) (*models.Listing, error) {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return nil, err
	}
	if err := simulateLatency(ctx, s.latency); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.listings, func(l *models.Listing) bool { return l.ID == listingID })
	if idx < 0 {
		return nil, fmt.Errorf("listing %s: %w", listingID, ErrNotFound)
	}
	if s.listings[idx].CreatorID != actor.ID {
		return nil, fmt.Errorf("listing %s is not owned by %s: %w", listingID, actor.ID, ErrForbidden)
	}

	updated := cloneListing(s.listings[idx])
	if err := change(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now()
	s.decorate(ctx, updated)

	next := slices.Clone(s.listings)
	next[idx] = updated
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}
	return cloneListing(updated), nil
}

func (s *listingService) UpdateListing(ctx context.Context, listingID utils.SixID, in ListingInput) (*models.Listing, error) {
	if err := validateListingInput(in); err != nil {
		return nil, err
	}
	return s.mutateOwned(ctx, listingID, func(l *models.Listing) error {
		l.Title = strings.TrimSpace(in.Title)
		l.Description = in.Description
		l.Category = strings.TrimSpace(in.Category)
		l.Tags = normalizeTags(in.Tags)
		l.Location = in.Location
		l.Price = models.RoundMoney(in.Price)
		return nil
	})
}

// PublishListing makes a draft or hidden listing visible on the marketplace.
func (s *listingService) PublishListing(ctx context.Context, listingID utils.SixID) error {
	_, err := s.mutateOwned(ctx, listingID, func(l *models.Listing) error {
		if l.Status == models.ListingStatusActive {
			return fmt.Errorf("listing %s is already active: %w", listingID, ErrInvalidTransition)
		}
		l.Status = models.ListingStatusActive
		return nil
	})
	return err
}

// HideListing takes an active listing off the marketplace.
func (s *listingService) HideListing(ctx context.Context, listingID utils.SixID) error {
	_, err := s.mutateOwned(ctx, listingID, func(l *models.Listing) error {
		if l.Status != models.ListingStatusActive {
			return fmt.Errorf("listing %s is %s, only active listings can be hidden: %w", listingID, l.Status, ErrInvalidTransition)
		}
		l.Status = models.ListingStatusInactive
		return nil
	})
	return err
}

func (s *listingService) AddImageToListing(ctx context.Context, listingID utils.SixID, imageKey string) error {
	if strings.TrimSpace(imageKey) == "" {
		return fmt.Errorf("image key is empty: %w", ErrValidation)
	}
	_, err := s.mutateOwned(ctx, listingID, func(l *models.Listing) error {
		if !slices.Contains(l.Images, imageKey) {
			l.Images = append(l.Images, imageKey)
		}
		return nil
	})
	return err
}

func (s *listingService) DeleteListing(ctx context.Context, listingID utils.SixID) error {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return err
	}
	if err := simulateLatency(ctx, s.latency); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.listings, func(l *models.Listing) bool { return l.ID == listingID })
	if idx < 0 {
		return fmt.Errorf("listing %s: %w", listingID, ErrNotFound)
	}
	if s.listings[idx].CreatorID != actor.ID {
		return fmt.Errorf("listing %s is not owned by %s: %w", listingID, actor.ID, ErrForbidden)
	}
	if err := s.commit(ctx, slices.Delete(slices.Clone(s.listings), idx, idx+1)); err != nil {
		return err
	}
	log.Printf("Listing %s deleted by %s", listingID, actor.ID)
	return nil
}

// snapshot copies the listings and decorates the copies outside the lock, so creator
// names and ratings reflect the directory and reviews at read time.
func (s *listingService) snapshot(ctx context.Context) []*models.Listing {
	s.mu.RLock()
	out := make([]*models.Listing, len(s.listings))
	for i, l := range s.listings {
		out[i] = cloneListing(l)
	}
	s.mu.RUnlock()
	for _, l := range out {
		s.decorate(ctx, l)
	}
	return out
}

// ListListings returns every listing in insertion order, whatever its status.
func (s *listingService) ListListings(ctx context.Context) []*models.Listing {
	return s.snapshot(ctx)
}

func (s *listingService) FindListingsByUserID(ctx context.Context, userID utils.SixID) []*models.Listing {
	out := make([]*models.Listing, 0)
	for _, l := range s.snapshot(ctx) {
		if l.CreatorID == userID {
			out = append(out, l)
		}
	}
	return out
}

// SearchListings runs the filter pipeline over the current listings.
func (s *listingService) SearchListings(ctx context.Context, q SearchQuery) []*models.Listing {
	if q.Near != nil && q.RadiusKM <= 0 {
		q.RadiusKM = s.radiusKM
	}
	return ApplySearch(s.snapshot(ctx), q)
}
