package models

import (
	"time"

	"eventmarket/server/internal/utils"
)

// Review is feedback left by one party of a completed quote about the other.
type Review struct {
	Base
	ReviewerID utils.SixID `json:"reviewer_id"`
	TargetID   utils.SixID `json:"target_id"`
	QuoteID    utils.SixID `json:"quote_id"`
	Rating     int         `json:"rating"`
	Comment    string      `json:"comment"`
	CreatedAt  time.Time   `json:"created_at"`
}
