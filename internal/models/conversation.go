package models

import (
	"time"

	"eventmarket/server/internal/utils"
)

// MessageType distinguishes plain text from attachments and quote cards.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeQuote MessageType = "quote"
)

// Conversation is the unique thread between exactly two actors.
type Conversation struct {
	ID           utils.SixID  `json:"id"`
	Participants utils.Pair   `json:"participants"`
	ListingID    *utils.SixID `json:"listing_id,omitempty"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Message is a single entry of a conversation log.
type Message struct {
	ID             utils.SixID  `json:"id"`
	ConversationID utils.SixID  `json:"conversation_id"`
	SenderID       utils.SixID  `json:"sender_id"`
	ReceiverID     utils.SixID  `json:"receiver_id"`
	Content        string       `json:"content"`
	Type           MessageType  `json:"type"`
	QuoteID        *utils.SixID `json:"quote_id,omitempty"`
	ImageKey       string       `json:"image_key,omitempty"`
	Read           bool         `json:"read"`
	Timestamp      time.Time    `json:"timestamp"`
}

// Contact is the inbox row for a conversation partner, as seen by one actor.
type Contact struct {
	ParticipantID    utils.SixID  `json:"participant_id"`
	ParticipantName  string       `json:"participant_name"`
	ParticipantImage string       `json:"participant_image,omitempty"`
	ParticipantType  Role         `json:"participant_type,omitempty"`
	ConversationID   *utils.SixID `json:"conversation_id,omitempty"`
	LastMessage      string       `json:"last_message"`
	Unread           int          `json:"unread"`
	Timestamp        time.Time    `json:"timestamp"`
}

// Clone copies the conversation and its last message pointer target.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	if c.LastMessage != nil {
		m := *c.LastMessage
		cp.LastMessage = &m
	}
	if c.ListingID != nil {
		id := *c.ListingID
		cp.ListingID = &id
	}
	return &cp
}
