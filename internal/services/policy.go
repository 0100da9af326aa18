package services

import (
	"fmt"

	"eventmarket/server/internal/models"
)

// Operation names a guarded action of the permission matrix.
type Operation string

const (
	OpCreateQuote   Operation = "quote.create"
	OpSubmitQuote   Operation = "quote.submit"
	OpViewQuote     Operation = "quote.view"
	OpAcceptQuote   Operation = "quote.accept"
	OpRejectQuote   Operation = "quote.reject"
	OpPayQuote      Operation = "quote.pay"
	OpCompleteQuote Operation = "quote.complete"
	OpRefundQuote   Operation = "quote.refund"
	OpDeleteQuote   Operation = "quote.delete"
	OpManageListing Operation = "listing.manage"
)

// Authorize is the single permission matrix for quote and listing operations.
// quote is nil for OpCreateQuote and OpManageListing.
//
//	create, listing  provider or business
//	view             client or provider of the quote, provider only for drafts
//	accept/reject    client of the quote
//	pay              client of the quote
//	complete         client or provider of the quote
//	refund, delete   provider (owner) of the quote
//	submit           provider (owner) of the quote
func Authorize(op Operation, actor models.Actor, quote *models.Quote) error {
	allowed := false
	switch op {
	case OpCreateQuote, OpManageListing:
		allowed = actor.Role.CanOffer()
	case OpViewQuote:
		if quote != nil && quote.Status == models.QuoteStatusDraft {
			allowed = quote.ProviderID == actor.ID
		} else {
			allowed = quote != nil && quote.Involves(actor.ID)
		}
	case OpCompleteQuote:
		allowed = quote != nil && quote.Involves(actor.ID)
	case OpAcceptQuote, OpRejectQuote, OpPayQuote:
		allowed = quote != nil && quote.ClientID == actor.ID
	case OpRefundQuote, OpDeleteQuote, OpSubmitQuote:
		allowed = quote != nil && quote.ProviderID == actor.ID
	}
	if !allowed {
		return fmt.Errorf("%s by %s (%s): %w", op, actor.ID, actor.Role, ErrForbidden)
	}
	return nil
}
