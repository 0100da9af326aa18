package tasks

import (
	"context"
	"encoding/json"
	"log"
	"unicode/utf8"

	"github.com/hibiken/asynq"

	"eventmarket/server/internal/email"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/utils"
)

// IAsynqClient is the part of *asynq.Client the dispatcher needs.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

const previewLength = 140

// Dispatcher enqueues follow-up work for API mutations. Enqueue failures are logged,
// never returned: the mutation has already been committed. A nil client disables it.
type Dispatcher struct {
	client IAsynqClient
}

func NewDispatcher(client IAsynqClient) *Dispatcher {
	return &Dispatcher{client: client}
}

// QuoteEventKind maps a quote status to the notification its counterparty receives.
func QuoteEventKind(status models.QuoteStatus) (email.Kind, bool) {
	switch status {
	case models.QuoteStatusPending:
		return email.KindQuoteReceived, true
	case models.QuoteStatusAccepted:
		return email.KindQuoteAccepted, true
	case models.QuoteStatusRejected:
		return email.KindQuoteRejected, true
	case models.QuoteStatusPaid:
		return email.KindQuotePaid, true
	case models.QuoteStatusCompleted:
		return email.KindQuoteCompleted, true
	case models.QuoteStatusRefunded:
		return email.KindQuoteRefunded, true
	}
	return "", false
}

// NewQuoteNotifyTask builds the notification for quote's current status, addressed to the
// party other than actorID.
func NewQuoteNotifyTask(quote *models.Quote, actorID utils.SixID) (*asynq.Task, bool) {
	kind, ok := QuoteEventKind(quote.Status)
	if !ok || !quote.Involves(actorID) {
		return nil, false
	}
	recipient := quote.ClientID
	if actorID == quote.ClientID {
		recipient = quote.ProviderID
	}
	payload, _ := json.Marshal(QuoteNotifyPayload{
		Kind:        kind,
		QuoteID:     quote.ID.String(),
		RecipientID: recipient.String(),
		ActorID:     actorID.String(),
		Title:       quote.Title,
		Total:       quote.Total,
		Currency:    quote.Currency,
	})
	return asynq.NewTask(TypeQuoteNotify, payload, asynq.Queue(QueueCritical), asynq.MaxRetry(5)), true
}

func NewMessageNotifyTask(msg *models.Message) *asynq.Task {
	preview := msg.Content
	if msg.Type == models.MessageTypeImage && preview == "" {
		preview = "[image]"
	}
	if utf8.RuneCountInString(preview) > previewLength {
		preview = string([]rune(preview)[:previewLength]) + "…"
	}
	payload, _ := json.Marshal(MessageNotifyPayload{
		ConversationID: msg.ConversationID.String(),
		SenderID:       msg.SenderID.String(),
		ReceiverID:     msg.ReceiverID.String(),
		Preview:        preview,
	})
	return asynq.NewTask(TypeMessageNotify, payload, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

func NewImageProcessTask(key string) *asynq.Task {
	payload, _ := json.Marshal(ImageTaskPayload{S3Key: key})
	return asynq.NewTask(TypeImageProcess, payload, asynq.Queue(QueueImages))
}

func (d *Dispatcher) QuoteChanged(ctx context.Context, quote *models.Quote, actorID utils.SixID) {
	task, ok := NewQuoteNotifyTask(quote, actorID)
	if !ok {
		return
	}
	d.enqueue(ctx, task, "quote "+quote.ID.String())
}

func (d *Dispatcher) MessageSent(ctx context.Context, msg *models.Message) {
	d.enqueue(ctx, NewMessageNotifyTask(msg), "message "+msg.ID.String())
}

func (d *Dispatcher) ImageUploaded(ctx context.Context, key string) {
	d.enqueue(ctx, NewImageProcessTask(key), "image "+key)
}

func (d *Dispatcher) enqueue(ctx context.Context, task *asynq.Task, subject string) {
	if d == nil || d.client == nil {
		return
	}
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		log.Printf("ERROR enqueuing %s task for %s: %v", task.Type(), subject, err)
		return
	}
	log.Printf("Enqueued %s task %s for %s", task.Type(), info.ID, subject)
}
