package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"

	"eventmarket/server/internal/config"
	"eventmarket/server/internal/email"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/services"
	"eventmarket/server/internal/storage"
	"eventmarket/server/internal/utils"
)

// Task types.
const (
	TypeQuoteNotify   = "quote:notify"
	TypeMessageNotify = "message:notify"
	TypeImageProcess  = "image:process"
)

// Queues.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueImages   = "images"
)

func redisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
}

// NewClient returns an asynq client sharing the connection settings of rdb.
func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(redisOpt(rdb))
}

// TaskProcessor holds the dependencies of the task handlers.
type TaskProcessor struct {
	cfg         *config.Config
	emailSender email.Sender
	storage     storage.IS3Storage
	users       services.IUserDirectory
	now         func() time.Time
}

func NewTaskProcessor(cfg *config.Config, emailSender email.Sender, storageService storage.IS3Storage, users services.IUserDirectory) *TaskProcessor {
	return &TaskProcessor{
		cfg:         cfg,
		emailSender: emailSender,
		storage:     storageService,
		users:       users,
		now:         time.Now,
	}
}

// SetupServer builds the asynq server and the mux for the requested worker roles.
// It returns a nil server when neither role is enabled.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker, isBgWorker bool) (*asynq.Server, *asynq.ServeMux) {
	if !isBgWorker && !isImageWorker {
		fmt.Println("No worker role requested, task server not started.")
		return nil, nil
	}

	queues := map[string]int{}
	mux := asynq.NewServeMux()
	if isBgWorker {
		queues[QueueCritical] = 6
		queues[QueueDefault] = 3
		mux.HandleFunc(TypeQuoteNotify, processor.HandleQuoteNotifyTask)
		mux.HandleFunc(TypeMessageNotify, processor.HandleMessageNotifyTask)
		fmt.Println("Registered notification task handlers.")
	}
	if isImageWorker {
		queues[QueueImages] = 5
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
		fmt.Println("Registered image processing task handlers.")
	}

	srv := asynq.NewServer(redisOpt(rdb), asynq.Config{
		Queues: queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
		}),
	})
	return srv, mux
}

// --- Notifications ---

// QuoteNotifyPayload carries a quote event to the counterparty. The quote fields are
// captured at enqueue time so the worker does not need the quote store.
type QuoteNotifyPayload struct {
	Kind        email.Kind `json:"kind"`
	QuoteID     string     `json:"quote_id"`
	RecipientID string     `json:"recipient_id"`
	ActorID     string     `json:"actor_id"`
	Title       string     `json:"title"`
	Total       float64    `json:"total"`
	Currency    string     `json:"currency"`
}

// MessageNotifyPayload tells the receiver of a message that something arrived.
type MessageNotifyPayload struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	ReceiverID     string `json:"receiver_id"`
	Preview        string `json:"preview"`
}

func (p *TaskProcessor) HandleQuoteNotifyTask(ctx context.Context, t *asynq.Task) error {
	var payload QuoteNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal quote notify payload: %v: %w", err, asynq.SkipRetry)
	}

	data := email.NotificationData{
		QuoteTitle: payload.Title,
		Amount:     services.FormatAmount(payload.Total, payload.Currency),
	}
	if err := p.notify(ctx, payload.Kind, payload.RecipientID, payload.ActorID, data); err != nil {
		return err
	}
	log.Printf("Quote %s notification %s sent to %s", payload.QuoteID, payload.Kind, payload.RecipientID)
	return nil
}

func (p *TaskProcessor) HandleMessageNotifyTask(ctx context.Context, t *asynq.Task) error {
	var payload MessageNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal message notify payload: %v: %w", err, asynq.SkipRetry)
	}

	data := email.NotificationData{Preview: payload.Preview}
	if err := p.notify(ctx, email.KindNewMessage, payload.ReceiverID, payload.SenderID, data); err != nil {
		return err
	}
	log.Printf("Message notification for conversation %s sent to %s", payload.ConversationID, payload.ReceiverID)
	return nil
}

// notify resolves both parties in the directory, renders kind and sends it.
// findUser reloads the directory once on a miss when it can, since users registered
// through another process after this one started are only in the shared store.
func (p *TaskProcessor) findUser(ctx context.Context, userID utils.SixID) (*models.User, error) {
	user, err := p.users.FindByID(ctx, userID)
	if !errors.Is(err, services.ErrNotFound) {
		return user, err
	}
	loader, ok := p.users.(interface{ Load(context.Context) error })
	if !ok {
		return nil, err
	}
	if loadErr := loader.Load(ctx); loadErr != nil {
		return nil, fmt.Errorf("reload directory: %w", loadErr)
	}
	return p.users.FindByID(ctx, userID)
}

func (p *TaskProcessor) notify(ctx context.Context, kind email.Kind, recipientHex, actorHex string, data email.NotificationData) error {
	recipientID, err := utils.ParseSixID(recipientHex)
	if err != nil {
		return fmt.Errorf("invalid recipient id %q: %w", recipientHex, asynq.SkipRetry)
	}
	recipient, err := p.findUser(ctx, recipientID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("recipient %s not in directory: %w", recipientHex, asynq.SkipRetry)
		}
		return fmt.Errorf("lookup recipient %s: %w", recipientHex, err)
	}

	data.AppName = p.cfg.AppName
	data.RecipientName = recipient.Name
	data.ActorName = services.UnknownParticipantName
	if actorID, err := utils.ParseSixID(actorHex); err == nil {
		if actor, err := p.findUser(ctx, actorID); err == nil {
			data.ActorName = actor.Name
		}
	}

	subject, body, err := email.Render(kind, data)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	from := p.cfg.SmtpFromAddress
	if from == "" {
		from = "noreply@eventmarket.example.com"
	}
	raw := email.Compose(from, recipient.Email, kind, subject, body, p.now())
	if err := p.emailSender.Send(ctx, []string{recipient.Email}, subject, raw); err != nil {
		log.Printf("Email sending failed for %s (will retry): %v", recipient.Email, err)
		return err
	}
	return nil
}

// --- Images ---

// ImageTaskPayload names an uploaded object to normalise in place.
type ImageTaskPayload struct {
	S3Key string `json:"s3_key"`
}

// HandleImageProcessTask bounds an uploaded image to ImageMaxDimension and ImageMaxSizeMB,
// re-encoding oversized images as JPEG under the same key.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.S3Key == "" {
		return fmt.Errorf("empty s3 key: %w", asynq.SkipRetry)
	}

	obj, err := p.storage.GetObject(ctx, payload.S3Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Printf("S3 object %s not found, upload probably never finished.", payload.S3Key)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download image: %w", err)
	}

	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(obj.Body)) > maxSizeBytes {
		return fmt.Errorf("image %s exceeds max size (%d > %d bytes): %w", payload.S3Key, len(obj.Body), maxSizeBytes, asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(obj.Body))
	if err != nil {
		return fmt.Errorf("unsupported image format or corrupt image %s: %w", payload.S3Key, asynq.SkipRetry)
	}

	maxDim := uint(p.cfg.ImageMaxDimension)
	if uint(img.Bounds().Dx()) <= maxDim && uint(img.Bounds().Dy()) <= maxDim {
		log.Printf("Image %s (%s, %dx%d) already within bounds", payload.S3Key, format, img.Bounds().Dx(), img.Bounds().Dy())
		return nil
	}

	resized := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("failed to re-encode resized image: %w", err)
	}
	if int64(buf.Len()) > maxSizeBytes {
		return fmt.Errorf("resized image %s still exceeds max size: %w", payload.S3Key, asynq.SkipRetry)
	}

	if err := p.storage.PutObject(ctx, payload.S3Key, buf.Bytes(), "image/jpeg"); err != nil {
		return fmt.Errorf("failed to upload processed image: %w", err)
	}
	log.Printf("Resized image %s from %dx%d to %dx%d", payload.S3Key,
		img.Bounds().Dx(), img.Bounds().Dy(), resized.Bounds().Dx(), resized.Bounds().Dy())
	return nil
}
