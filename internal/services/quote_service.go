package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"eventmarket/server/internal/config"
	"eventmarket/server/internal/db"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/utils"
)

// IQuoteService defines the quote lifecycle operations.
type IQuoteService interface {
	Load(ctx context.Context) error
	CreateQuote(ctx context.Context, in CreateQuoteInput) (*models.Quote, error)
	SubmitQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error)
	AcceptQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error)
	RejectQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error)
	PayQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error)
	CompleteQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error)
	RefundQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error)
	DeleteQuote(ctx context.Context, quoteID utils.SixID) error
	GetQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error)
	GetQuotesForUser(ctx context.Context, userID utils.SixID) []*models.Quote
	GetQuotesByUser(ctx context.Context, userID utils.SixID) []*models.Quote
	GetUserQuotes(ctx context.Context) ([]*models.Quote, error)
	GetAllQuotes(ctx context.Context) []*models.Quote
}

// CreateQuoteInput carries the caller-supplied part of a new quote.
// Financial totals are always derived from Items.
type CreateQuoteInput struct {
	ProviderID  utils.SixID // Defaults to the current actor
	ClientID    utils.SixID
	ListingID   *utils.SixID
	Title       string
	Description string
	Items       []models.QuoteItem
	SaveAsDraft bool
}

// transition is one guarded edge of the quote state machine.
type transition struct {
	op    Operation
	from  []models.QuoteStatus
	to    models.QuoteStatus
	stamp func(q *models.Quote, now time.Time)
}

var (
	submitTransition = transition{op: OpSubmitQuote, from: []models.QuoteStatus{models.QuoteStatusDraft}, to: models.QuoteStatusPending}
	acceptTransition = transition{op: OpAcceptQuote, from: []models.QuoteStatus{models.QuoteStatusPending}, to: models.QuoteStatusAccepted}
	rejectTransition = transition{op: OpRejectQuote, from: []models.QuoteStatus{models.QuoteStatusPending}, to: models.QuoteStatusRejected}
	payTransition    = transition{
		op: OpPayQuote, from: []models.QuoteStatus{models.QuoteStatusAccepted}, to: models.QuoteStatusPaid,
		stamp: func(q *models.Quote, now time.Time) { q.PaidAt = &now },
	}
	completeTransition = transition{
		op: OpCompleteQuote, from: []models.QuoteStatus{models.QuoteStatusPaid}, to: models.QuoteStatusCompleted,
		stamp: func(q *models.Quote, now time.Time) { q.CompletedAt = &now },
	}
	refundTransition = transition{
		op: OpRefundQuote, from: []models.QuoteStatus{models.QuoteStatusPaid, models.QuoteStatusCompleted}, to: models.QuoteStatusRefunded,
		stamp: func(q *models.Quote, now time.Time) { q.RefundedAt = &now },
	}
)

// Quotes in these states carry payment or review history and are kept.
var undeletableStatuses = []models.QuoteStatus{models.QuoteStatusPaid, models.QuoteStatusCompleted, models.QuoteStatusRefunded}

// quoteState is the copy-on-write collection: quotes keyed by owner, plus an id index.
type quoteState struct {
	byOwner map[utils.SixID][]*models.Quote
	owner   map[utils.SixID]utils.SixID
}

func newQuoteState() *quoteState {
	return &quoteState{byOwner: make(map[utils.SixID][]*models.Quote), owner: make(map[utils.SixID]utils.SixID)}
}

func (st *quoteState) fork() *quoteState {
	next := &quoteState{
		byOwner: make(map[utils.SixID][]*models.Quote, len(st.byOwner)),
		owner:   make(map[utils.SixID]utils.SixID, len(st.owner)),
	}
	for k, v := range st.byOwner {
		next.byOwner[k] = v
	}
	for k, v := range st.owner {
		next.owner[k] = v
	}
	return next
}

func (st *quoteState) locate(id utils.SixID) (owner utils.SixID, idx int, ok bool) {
	owner, ok = st.owner[id]
	if !ok {
		return owner, -1, false
	}
	for i, q := range st.byOwner[owner] {
		if q.ID == id {
			return owner, i, true
		}
	}
	return owner, -1, false
}

// quoteService implements IQuoteService over an in-memory collection.
type quoteService struct {
	mu        sync.Mutex
	state     *quoteState
	identity  IIdentityProvider
	snapshots ISnapshotStore
	latency   time.Duration
	vatRate   float64
	currency  string
	validity  time.Duration
	now       func() time.Time
	// lastCreated keeps CreatedAt strictly increasing so time order is insertion order.
	lastCreated time.Time
}

// NewQuoteService creates a new QuoteService.
func NewQuoteService(cfg *config.Config, identity IIdentityProvider, snapshots ISnapshotStore) IQuoteService {
	if snapshots == nil {
		snapshots = NewMemorySnapshotStore()
	}
	s := &quoteService{
		state:     newQuoteState(),
		identity:  identity,
		snapshots: snapshots,
		vatRate:   models.DefaultVATRate,
		currency:  models.DefaultCurrency,
		validity:  30 * 24 * time.Hour,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if cfg != nil {
		s.latency = cfg.SimulatedLatency
		if cfg.VatRate > 0 {
			s.vatRate = cfg.VatRate
		}
		if cfg.CurrencyCode != "" {
			s.currency = cfg.CurrencyCode
		}
		if cfg.QuoteValidity > 0 {
			s.validity = cfg.QuoteValidity
		}
	}
	return s
}

// Load replaces the collection with the persisted snapshot, if any.
func (s *quoteService) Load(ctx context.Context) error {
	byOwner := make(map[utils.SixID][]*models.Quote)
	found, err := s.snapshots.LoadSnapshot(ctx, snapshotQuotes, &byOwner)
	if err != nil {
		return fmt.Errorf("failed to load quotes: %w", err)
	}
	if !found {
		return nil
	}
	st := newQuoteState()
	var latest time.Time
	for owner, quotes := range byOwner {
		st.byOwner[owner] = quotes
		for _, q := range quotes {
			st.owner[q.ID] = owner
			if q.CreatedAt.After(latest) {
				latest = q.CreatedAt
			}
		}
	}
	s.mu.Lock()
	s.state = st
	if latest.After(s.lastCreated) {
		s.lastCreated = latest
	}
	s.mu.Unlock()
	log.Printf("Loaded %d quotes for %d owners", len(st.owner), len(st.byOwner))
	return nil
}

func (s *quoteService) commit(ctx context.Context, next *quoteState) error {
	if err := s.snapshots.SaveSnapshot(ctx, snapshotQuotes, next.byOwner); err != nil {
		return fmt.Errorf("failed to persist quotes: %w", err)
	}
	s.state = next
	return nil
}

func validateQuoteInput(in CreateQuoteInput) error {
	if in.ClientID.IsZero() {
		return fmt.Errorf("client is required: %w", ErrValidation)
	}
	if in.ClientID == in.ProviderID {
		return fmt.Errorf("a quote cannot be addressed to its own provider: %w", ErrValidation)
	}
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("title is required: %w", ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("at least one item is required: %w", ErrValidation)
	}
	for i, item := range in.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("item %d has no name: %w", i+1, ErrValidation)
		}
		if item.Quantity < 0 {
			return fmt.Errorf("item %d has a negative quantity: %w", i+1, ErrValidation)
		}
		if item.UnitPrice <= 0 {
			return fmt.Errorf("item %d must have a positive unit price: %w", i+1, ErrValidation)
		}
	}
	return nil
}

// CreateQuote validates the input, derives totals and stores the quote under its provider.
// New quotes go straight to pending unless SaveAsDraft is set.
func (s *quoteService) CreateQuote(ctx context.Context, in CreateQuoteInput) (*models.Quote, error) {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return nil, err
	}
	if err := Authorize(OpCreateQuote, actor, nil); err != nil {
		return nil, err
	}
	if in.ProviderID.IsZero() {
		in.ProviderID = actor.ID
	}
	if in.ProviderID != actor.ID {
		return nil, fmt.Errorf("quotes can only be issued on behalf of the current actor: %w", ErrForbidden)
	}
	if err := validateQuoteInput(in); err != nil {
		return nil, err
	}

	now := s.now()
	status := models.QuoteStatusPending
	if in.SaveAsDraft {
		status = models.QuoteStatusDraft
	}
	quote := &models.Quote{
		ProviderID:  in.ProviderID,
		ClientID:    in.ClientID,
		ListingID:   in.ListingID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Items:       append([]models.QuoteItem(nil), in.Items...),
		Status:      status,
		ValidUntil:  now.Add(s.validity),
		Currency:    s.currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	quote.Recalculate(s.vatRate)
	if quote.Total <= 0 {
		return nil, fmt.Errorf("quote total must be positive, got %.2f: %w", quote.Total, ErrValidation)
	}

	if err := simulateLatency(ctx, s.latency); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	quote.CreatedAt = s.stampCreated(quote.CreatedAt)
	quote.UpdatedAt = quote.CreatedAt

	var next *quoteState
	err = db.Try(func() error {
		quote.ID = utils.NewSixID()
		if _, taken := s.state.owner[quote.ID]; taken {
			return fmt.Errorf("quote %s: %w", quote.ID, db.ErrDuplicateID)
		}
		next = s.state.fork()
		next.byOwner[actor.ID] = append(slices.Clip(next.byOwner[actor.ID]), quote)
		next.owner[quote.ID] = actor.ID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate quote id for provider %s: %w", actor.ID, err)
	}
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}

	log.Printf("Quote %s created by %s for client %s (total %.2f %s, status %s)",
		quote.ID, actor.ID, quote.ClientID, quote.Total, quote.Currency, quote.Status)
	return quote.Clone(), nil
}

// stampCreated returns now, or the smallest step after the previous creation time.
// Callers hold s.mu.
func (s *quoteService) stampCreated(now time.Time) time.Time {
	if !now.After(s.lastCreated) {
		now = s.lastCreated.Add(time.Microsecond)
	}
	s.lastCreated = now
	return now
}

// apply runs one compare-and-set transition: the prior status is checked under the
// store lock, so a second identical call observes the new status and fails.
func (s *quoteService) apply(ctx context.Context, quoteID utils.SixID, t transition) (*models.Quote, error) {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return nil, err
	}
	if err := simulateLatency(ctx, s.latency); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owner, idx, ok := s.state.locate(quoteID)
	if !ok {
		return nil, fmt.Errorf("quote %s: %w", quoteID, ErrNotFound)
	}
	current := s.state.byOwner[owner][idx]
	if err := Authorize(t.op, actor, current); err != nil {
		return nil, err
	}
	if !slices.Contains(t.from, current.Status) {
		return nil, fmt.Errorf("cannot move quote %s from %s to %s: %w", quoteID, current.Status, t.to, ErrInvalidTransition)
	}

	now := s.now()
	updated := current.Clone()
	updated.Status = t.to
	updated.UpdatedAt = now
	if t.stamp != nil {
		t.stamp(updated, now)
	}

	next := s.state.fork()
	quotes := slices.Clone(next.byOwner[owner])
	quotes[idx] = updated
	next.byOwner[owner] = quotes
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}

	log.Printf("Quote %s moved %s -> %s by %s", quoteID, current.Status, updated.Status, actor.ID)
	return updated.Clone(), nil
}

// SubmitQuote sends a draft quote to its client.
func (s *quoteService) SubmitQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error) {
	return s.apply(ctx, quoteID, submitTransition)
}

func (s *quoteService) AcceptQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error) {
	return s.apply(ctx, quoteID, acceptTransition)
}

func (s *quoteService) RejectQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error) {
	return s.apply(ctx, quoteID, rejectTransition)
}

// PayQuote records a payment. Payment always succeeds once invoked.
func (s *quoteService) PayQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error) {
	return s.apply(ctx, quoteID, payTransition)
}

func (s *quoteService) CompleteQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error) {
	return s.apply(ctx, quoteID, completeTransition)
}

// RefundQuote is a manual, provider-only reversal of a paid or completed quote.
func (s *quoteService) RefundQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error) {
	return s.apply(ctx, quoteID, refundTransition)
}

// DeleteQuote hard-removes a quote owned by the current actor.
// Paid, completed and refunded quotes are kept so review eligibility is not lost.
func (s *quoteService) DeleteQuote(ctx context.Context, quoteID utils.SixID) error {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return err
	}
	if err := simulateLatency(ctx, s.latency); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owner, idx, ok := s.state.locate(quoteID)
	if !ok {
		return fmt.Errorf("quote %s: %w", quoteID, ErrNotFound)
	}
	current := s.state.byOwner[owner][idx]
	if err := Authorize(OpDeleteQuote, actor, current); err != nil {
		return err
	}
	if owner != actor.ID {
		return fmt.Errorf("quote %s is not owned by %s: %w", quoteID, actor.ID, ErrForbidden)
	}
	if slices.Contains(undeletableStatuses, current.Status) {
		return fmt.Errorf("quote %s is %s and cannot be deleted: %w", quoteID, current.Status, ErrInvalidTransition)
	}

	next := s.state.fork()
	next.byOwner[owner] = slices.Delete(slices.Clone(next.byOwner[owner]), idx, idx+1)
	if len(next.byOwner[owner]) == 0 {
		delete(next.byOwner, owner)
	}
	delete(next.owner, quoteID)
	if err := s.commit(ctx, next); err != nil {
		return err
	}

	log.Printf("Quote %s deleted by %s", quoteID, actor.ID)
	return nil
}

// GetQuote returns a quote the current actor is a party to.
func (s *quoteService) GetQuote(ctx context.Context, quoteID utils.SixID) (*models.Quote, error) {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, idx, ok := s.state.locate(quoteID)
	if !ok {
		return nil, fmt.Errorf("quote %s: %w", quoteID, ErrNotFound)
	}
	quote := s.state.byOwner[owner][idx]
	if err := Authorize(OpViewQuote, actor, quote); err != nil {
		return nil, err
	}
	return quote.Clone(), nil
}

// GetQuotesForUser returns the quotes addressed to userID as client. Drafts stay
// with their provider until submitted.
func (s *quoteService) GetQuotesForUser(ctx context.Context, userID utils.SixID) []*models.Quote {
	return s.filter(func(q *models.Quote) bool {
		return q.ClientID == userID && q.Status != models.QuoteStatusDraft
	})
}

// GetQuotesByUser returns the quotes owned (created) by userID, in insertion order.
func (s *quoteService) GetQuotesByUser(ctx context.Context, userID utils.SixID) []*models.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := s.state.byOwner[userID]
	out := make([]*models.Quote, 0, len(owned))
	for _, q := range owned {
		out = append(out, q.Clone())
	}
	return out
}

// GetUserQuotes returns the quotes owned by the current actor.
func (s *quoteService) GetUserQuotes(ctx context.Context) ([]*models.Quote, error) {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return nil, err
	}
	return s.GetQuotesByUser(ctx, actor.ID), nil
}

// GetAllQuotes flattens every owner's quotes, ordered by creation time.
func (s *quoteService) GetAllQuotes(ctx context.Context) []*models.Quote {
	return s.filter(func(*models.Quote) bool { return true })
}

func (s *quoteService) filter(keep func(q *models.Quote) bool) []*models.Quote {
	s.mu.Lock()
	out := make([]*models.Quote, 0)
	for _, quotes := range s.state.byOwner {
		for _, q := range quotes {
			if keep(q) {
				out = append(out, q.Clone())
			}
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}
