package tasks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"eventmarket/server/internal/config"
	"eventmarket/server/internal/email"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/services"
	"eventmarket/server/internal/storage"
	"eventmarket/server/internal/tasks"
	"eventmarket/server/internal/utils"
)

// --- Mocks ---

type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	args := m.Called(ctx, to, subject, rawMessage)
	return args.Error(0)
}

type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GeneratePresignedPutURL(ctx context.Context, key, contentType string) (string, error) {
	args := m.Called(ctx, key, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) GetObject(ctx context.Context, key string) (*storage.Object, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Object), args.Error(1)
}

func (m *MockStorage) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	args := m.Called(ctx, key, body, contentType)
	return args.Error(0)
}

type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

// --- Helpers ---

var (
	clientUser   = &models.User{Base: models.Base{ID: utils.MustParseSixID("SEEDC00001")}, Name: "Sophie Martin", Email: "sophie@example.com", Role: models.RoleClient}
	providerUser = &models.User{Base: models.Base{ID: utils.MustParseSixID("SEEDP00001")}, Name: "DJ Nova", Email: "nova@example.com", Role: models.RoleProvider}
)

func testConfig() *config.Config {
	return &config.Config{AppName: "EventMarket", SmtpFromAddress: "noreply@example.com", ImageMaxDimension: 100, ImageMaxSizeMB: 1}
}

func sampleQuote(status models.QuoteStatus) *models.Quote {
	return &models.Quote{
		ID:         utils.NewSixID(),
		ProviderID: providerUser.ID,
		ClientID:   clientUser.ID,
		Title:      "Wedding set",
		Total:      240,
		Currency:   models.DefaultCurrency,
		Status:     status,
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// --- Notifications ---

func TestHandleQuoteNotifyTask_Success(t *testing.T) {
	sender := new(MockEmailSender)
	users := new(MockUserDirectory)
	p := tasks.NewTaskProcessor(testConfig(), sender, nil, users)

	users.On("FindByID", mock.Anything, clientUser.ID).Return(clientUser, nil)
	users.On("FindByID", mock.Anything, providerUser.ID).Return(providerUser, nil)

	task, ok := tasks.NewQuoteNotifyTask(sampleQuote(models.QuoteStatusPending), providerUser.ID)
	require.True(t, ok)

	sender.On("Send", mock.Anything, []string{"sophie@example.com"}, "DJ Nova sent you a quote: Wedding set",
		mock.MatchedBy(func(raw []byte) bool {
			return email.KindOf(raw) == email.KindQuoteReceived && strings.Contains(string(raw), "€240.00")
		})).Return(nil).Once()

	require.NoError(t, p.HandleQuoteNotifyTask(context.Background(), task))
	sender.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestHandleQuoteNotifyTask_UnknownActorStillNotifies(t *testing.T) {
	sender := new(MockEmailSender)
	users := new(MockUserDirectory)
	p := tasks.NewTaskProcessor(testConfig(), sender, nil, users)

	users.On("FindByID", mock.Anything, providerUser.ID).Return(providerUser, nil)
	users.On("FindByID", mock.Anything, clientUser.ID).Return(nil, services.ErrNotFound)

	task, ok := tasks.NewQuoteNotifyTask(sampleQuote(models.QuoteStatusAccepted), clientUser.ID)
	require.True(t, ok)

	sender.On("Send", mock.Anything, []string{"nova@example.com"}, "Quote accepted: Wedding set",
		mock.MatchedBy(func(raw []byte) bool {
			return strings.Contains(string(raw), services.UnknownParticipantName)
		})).Return(nil).Once()

	require.NoError(t, p.HandleQuoteNotifyTask(context.Background(), task))
	sender.AssertExpectations(t)
}

func TestHandleQuoteNotifyTask_PoisonPayloads(t *testing.T) {
	users := new(MockUserDirectory)
	p := tasks.NewTaskProcessor(testConfig(), new(MockEmailSender), nil, users)

	err := p.HandleQuoteNotifyTask(context.Background(), asynq.NewTask(tasks.TypeQuoteNotify, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	payload, _ := json.Marshal(tasks.QuoteNotifyPayload{Kind: email.KindQuotePaid, RecipientID: "not-an-id"})
	err = p.HandleQuoteNotifyTask(context.Background(), asynq.NewTask(tasks.TypeQuoteNotify, payload))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	ghost := utils.NewSixID()
	users.On("FindByID", mock.Anything, ghost).Return(nil, services.ErrNotFound)
	payload, _ = json.Marshal(tasks.QuoteNotifyPayload{Kind: email.KindQuotePaid, RecipientID: ghost.String()})
	err = p.HandleQuoteNotifyTask(context.Background(), asynq.NewTask(tasks.TypeQuoteNotify, payload))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleMessageNotifyTask_SendFailureIsRetried(t *testing.T) {
	sender := new(MockEmailSender)
	users := new(MockUserDirectory)
	p := tasks.NewTaskProcessor(testConfig(), sender, nil, users)

	users.On("FindByID", mock.Anything, clientUser.ID).Return(clientUser, nil)
	users.On("FindByID", mock.Anything, providerUser.ID).Return(providerUser, nil)
	sender.On("Send", mock.Anything, []string{"nova@example.com"}, "New message from Sophie Martin", mock.Anything).
		Return(errors.New("smtp down"))

	task := tasks.NewMessageNotifyTask(&models.Message{
		ID:             utils.NewSixID(),
		ConversationID: utils.NewSixID(),
		SenderID:       clientUser.ID,
		ReceiverID:     providerUser.ID,
		Content:        "Are you free on June 14?",
		Type:           models.MessageTypeText,
	})
	err := p.HandleMessageNotifyTask(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestNewQuoteNotifyTask(t *testing.T) {
	q := sampleQuote(models.QuoteStatusPaid)
	task, ok := tasks.NewQuoteNotifyTask(q, clientUser.ID)
	require.True(t, ok)
	assert.Equal(t, tasks.TypeQuoteNotify, task.Type())

	var payload tasks.QuoteNotifyPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, email.KindQuotePaid, payload.Kind)
	assert.Equal(t, providerUser.ID.String(), payload.RecipientID)

	_, ok = tasks.NewQuoteNotifyTask(sampleQuote(models.QuoteStatusDraft), providerUser.ID)
	assert.False(t, ok, "drafts are private")
	_, ok = tasks.NewQuoteNotifyTask(q, utils.NewSixID())
	assert.False(t, ok, "outsiders never trigger notifications")
}

func TestNewMessageNotifyTask_Preview(t *testing.T) {
	task := tasks.NewMessageNotifyTask(&models.Message{Type: models.MessageTypeText, Content: strings.Repeat("é", 200)})
	var payload tasks.MessageNotifyPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, 141, len([]rune(payload.Preview)))

	task = tasks.NewMessageNotifyTask(&models.Message{Type: models.MessageTypeImage})
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "[image]", payload.Preview)
}

// --- Images ---

func TestHandleImageProcessTask_ResizesOversized(t *testing.T) {
	store := new(MockStorage)
	p := tasks.NewTaskProcessor(testConfig(), nil, store, nil)
	key := "messages/ABC/1_venue.png"

	store.On("GetObject", mock.Anything, key).Return(&storage.Object{Body: pngBytes(t, 300, 200), ContentType: "image/png"}, nil)
	store.On("PutObject", mock.Anything, key, mock.MatchedBy(func(body []byte) bool {
		img, err := jpeg.Decode(bytes.NewReader(body))
		return err == nil && img.Bounds().Dx() == 100 && img.Bounds().Dy() <= 100
	}), "image/jpeg").Return(nil).Once()

	require.NoError(t, p.HandleImageProcessTask(context.Background(), tasks.NewImageProcessTask(key)))
	store.AssertExpectations(t)
}

func TestHandleImageProcessTask_WithinBoundsUntouched(t *testing.T) {
	store := new(MockStorage)
	p := tasks.NewTaskProcessor(testConfig(), nil, store, nil)
	key := "listings/XYZ/1_small.png"

	store.On("GetObject", mock.Anything, key).Return(&storage.Object{Body: pngBytes(t, 80, 60), ContentType: "image/png"}, nil)

	require.NoError(t, p.HandleImageProcessTask(context.Background(), tasks.NewImageProcessTask(key)))
	store.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleImageProcessTask_SkipRetry(t *testing.T) {
	store := new(MockStorage)
	p := tasks.NewTaskProcessor(testConfig(), nil, store, nil)

	store.On("GetObject", mock.Anything, "missing").Return(nil, storage.ErrObjectNotFound)
	store.On("GetObject", mock.Anything, "garbage").Return(&storage.Object{Body: []byte("not an image")}, nil)
	store.On("GetObject", mock.Anything, "flaky").Return(nil, errors.New("connection reset"))

	assert.ErrorIs(t, p.HandleImageProcessTask(context.Background(), tasks.NewImageProcessTask("missing")), asynq.SkipRetry)
	assert.ErrorIs(t, p.HandleImageProcessTask(context.Background(), tasks.NewImageProcessTask("garbage")), asynq.SkipRetry)
	assert.ErrorIs(t, p.HandleImageProcessTask(context.Background(), tasks.NewImageProcessTask("")), asynq.SkipRetry)

	err := p.HandleImageProcessTask(context.Background(), tasks.NewImageProcessTask("flaky"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

// --- Dispatcher ---

func TestDispatcher(t *testing.T) {
	client := new(MockAsynqClient)
	d := tasks.NewDispatcher(client)

	client.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == tasks.TypeQuoteNotify
	})).Return(&asynq.TaskInfo{ID: "t1"}, nil).Once()
	client.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == tasks.TypeImageProcess
	})).Return(nil, errors.New("redis down")).Once()

	d.QuoteChanged(context.Background(), sampleQuote(models.QuoteStatusAccepted), clientUser.ID)
	d.QuoteChanged(context.Background(), sampleQuote(models.QuoteStatusDraft), providerUser.ID)
	d.ImageUploaded(context.Background(), "messages/a.png")
	client.AssertExpectations(t)

	var disabled *tasks.Dispatcher
	disabled.MessageSent(context.Background(), &models.Message{})
	tasks.NewDispatcher(nil).ImageUploaded(context.Background(), "k")
}
