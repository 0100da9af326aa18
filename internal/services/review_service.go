package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"eventmarket/server/internal/models"
	"eventmarket/server/internal/utils"
)

const (
	MinRating = 1
	MaxRating = 5
)

// IReviewService defines reviews left after a completed job.
type IReviewService interface {
	Load(ctx context.Context) error
	CanReview(ctx context.Context, reviewerID, targetID utils.SixID) bool
	SubmitReview(ctx context.Context, targetID utils.SixID, rating int, comment string) (*models.Review, error)
	GetReviewsForUser(ctx context.Context, userID utils.SixID) []*models.Review
	AverageRating(ctx context.Context, userID utils.SixID) (float64, int)
}

type reviewService struct {
	mu        sync.RWMutex
	reviews   []*models.Review
	identity  IIdentityProvider
	quotes    IQuoteService
	snapshots ISnapshotStore
	now       func() time.Time
}

// NewReviewService creates a new ReviewService.
func NewReviewService(identity IIdentityProvider, quotes IQuoteService, snapshots ISnapshotStore) IReviewService {
	if snapshots == nil {
		snapshots = NewMemorySnapshotStore()
	}
	return &reviewService{
		identity:  identity,
		quotes:    quotes,
		snapshots: snapshots,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *reviewService) Load(ctx context.Context) error {
	var reviews []*models.Review
	found, err := s.snapshots.LoadSnapshot(ctx, snapshotReviews, &reviews)
	if err != nil {
		return fmt.Errorf("failed to load reviews: %w", err)
	}
	if found {
		s.mu.Lock()
		s.reviews = reviews
		s.mu.Unlock()
	}
	return nil
}

// completedBetween returns the completed quotes whose parties are exactly reviewer and target.
// It reads the quote store on every call so status changes are always observed.
func (s *reviewService) completedBetween(ctx context.Context, reviewerID, targetID utils.SixID) []*models.Quote {
	if reviewerID == targetID {
		return nil
	}
	var out []*models.Quote
	for _, q := range s.quotes.GetAllQuotes(ctx) {
		if q.Status == models.QuoteStatusCompleted && q.HasParties(reviewerID, targetID) {
			out = append(out, q)
		}
	}
	return out
}

// CanReview reports whether reviewerID has completed a job with targetID, in either role.
// Self-review is always rejected.
func (s *reviewService) CanReview(ctx context.Context, reviewerID, targetID utils.SixID) bool {
	return len(s.completedBetween(ctx, reviewerID, targetID)) > 0
}

// SubmitReview stores a review of targetID by the current actor. Each completed quote
// between the two can back one review per reviewer.
func (s *reviewService) SubmitReview(ctx context.Context, targetID utils.SixID, rating int, comment string) (*models.Review, error) {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return nil, err
	}
	if rating < MinRating || rating > MaxRating {
		return nil, fmt.Errorf("rating must be between %d and %d: %w", MinRating, MaxRating, ErrValidation)
	}
	completed := s.completedBetween(ctx, actor.ID, targetID)
	if len(completed) == 0 {
		return nil, fmt.Errorf("%s has no completed job with %s: %w", actor.ID, targetID, ErrForbidden)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reviewed := make(map[utils.SixID]bool)
	for _, r := range s.reviews {
		if r.ReviewerID == actor.ID {
			reviewed[r.QuoteID] = true
		}
	}
	var quote *models.Quote
	for _, q := range completed {
		if !reviewed[q.ID] {
			quote = q
			break
		}
	}
	if quote == nil {
		return nil, fmt.Errorf("every job between %s and %s is already reviewed: %w", actor.ID, targetID, ErrInvalidTransition)
	}

	review := &models.Review{
		Base:       models.NewBase(),
		ReviewerID: actor.ID,
		TargetID:   targetID,
		QuoteID:    quote.ID,
		Rating:     rating,
		Comment:    strings.TrimSpace(comment),
		CreatedAt:  s.now(),
	}
	next := append(s.reviews[:len(s.reviews):len(s.reviews)], review)
	if err := s.snapshots.SaveSnapshot(ctx, snapshotReviews, next); err != nil {
		return nil, fmt.Errorf("failed to persist review: %w", err)
	}
	s.reviews = next

	log.Printf("Review %s of %s by %s for quote %s (%d stars)", review.ID, targetID, actor.ID, quote.ID, rating)
	cp := *review
	return &cp, nil
}

// GetReviewsForUser returns the reviews received by userID, oldest first.
func (s *reviewService) GetReviewsForUser(ctx context.Context, userID utils.SixID) []*models.Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Review, 0)
	for _, r := range s.reviews {
		if r.TargetID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

// AverageRating returns the mean rating received by userID rounded to one decimal, and the review count.
func (s *reviewService) AverageRating(ctx context.Context, userID utils.SixID) (float64, int) {
	reviews := s.GetReviewsForUser(ctx, userID)
	if len(reviews) == 0 {
		return 0, 0
	}
	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}
	avg := float64(sum) / float64(len(reviews))
	return float64(int(avg*10+0.5)) / 10, len(reviews)
}
