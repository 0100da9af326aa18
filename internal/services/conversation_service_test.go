package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"eventmarket/server/internal/config"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/utils"
)

type mockUserDirectory struct {
	mock.Mock
}

func (m *mockUserDirectory) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func newTestConversationService(t *testing.T, directory IUserDirectory, snapshots ISnapshotStore) *conversationService {
	t.Helper()
	if directory == nil {
		dir := new(mockUserDirectory)
		dir.On("FindByID", mock.Anything, mock.Anything).Return(nil, ErrNotFound).Maybe()
		directory = dir
	}
	svc := NewConversationService(&config.Config{}, ContextIdentityProvider{}, directory, snapshots).(*conversationService)
	svc.now = steppingClock(testEpoch)
	return svc
}

func TestConversationService_CreateIsIdempotentPerPair(t *testing.T) {
	svc := newTestConversationService(t, nil, nil)
	x := utils.NewSixID()
	y := utils.NewSixID()

	first, err := svc.CreateConversation(asActor(x, models.RoleClient), CreateConversationInput{OtherID: y})
	require.NoError(t, err)
	second, err := svc.CreateConversation(asActor(x, models.RoleClient), CreateConversationInput{OtherID: y})
	require.NoError(t, err)
	third, err := svc.CreateConversation(asActor(y, models.RoleProvider), CreateConversationInput{OtherID: x})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, third, "the pair is unordered")
	assert.Len(t, svc.state.conversations, 1)

	conv, ok := svc.GetConversationByParticipant(context.Background(), y, x)
	require.True(t, ok)
	assert.Equal(t, first, conv.ID)
	_, ok = svc.GetConversationByParticipant(context.Background(), x, utils.NewSixID())
	assert.False(t, ok)
}

func TestConversationService_TwoMessagesOneConversation(t *testing.T) {
	svc := newTestConversationService(t, nil, nil)
	x := utils.NewSixID()
	y := utils.NewSixID()
	asX := asActor(x, models.RoleClient)

	id1, err := svc.CreateConversation(asX, CreateConversationInput{OtherID: y, InitialMessage: "Hello"})
	require.NoError(t, err)
	id2, err := svc.CreateConversation(asX, CreateConversationInput{OtherID: y, InitialMessage: "Are you free in June?"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	msgs, err := svc.GetMessages(asX, id1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, "Are you free in June?", msgs[1].Content)
	assert.True(t, msgs[0].Timestamp.Before(msgs[1].Timestamp))
	assert.Equal(t, y, msgs[1].ReceiverID)
	assert.False(t, msgs[1].Read)

	conv, ok := svc.GetConversationByParticipant(context.Background(), x, y)
	require.True(t, ok)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, msgs[1].ID, conv.LastMessage.ID)
}

func TestConversationService_SendMessageValidation(t *testing.T) {
	svc := newTestConversationService(t, nil, nil)
	x := utils.NewSixID()
	y := utils.NewSixID()
	asX := asActor(x, models.RoleClient)
	convID, err := svc.CreateConversation(asX, CreateConversationInput{OtherID: y})
	require.NoError(t, err)

	_, err = svc.SendMessage(asX, convID, "   ", y)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.SendMessage(asX, convID, "hi", utils.NewSixID())
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.SendMessage(asX, utils.NewSixID(), "hi", y)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.SendMessage(asActor(utils.NewSixID(), models.RoleClient), convID, "hi", y)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.SendMessage(context.Background(), convID, "hi", y)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.CreateConversation(asX, CreateConversationInput{OtherID: x})
	assert.ErrorIs(t, err, ErrValidation)

	msgs, err := svc.GetMessages(asX, convID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestConversationService_ConversationOrderFollowsActivity(t *testing.T) {
	svc := newTestConversationService(t, nil, nil)
	x := utils.NewSixID()
	y := utils.NewSixID()
	z := utils.NewSixID()
	asX := asActor(x, models.RoleClient)

	withY, err := svc.CreateConversation(asX, CreateConversationInput{OtherID: y})
	require.NoError(t, err)
	withZ, err := svc.CreateConversation(asX, CreateConversationInput{OtherID: z})
	require.NoError(t, err)

	convs, err := svc.GetConversations(context.Background(), x)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, withZ, convs[0].ID)

	_, err = svc.SendMessage(asX, withY, "ping", y)
	require.NoError(t, err)
	convs, err = svc.GetConversations(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, withY, convs[0].ID)

	onlyZ, err := svc.GetConversations(context.Background(), z)
	require.NoError(t, err)
	require.Len(t, onlyZ, 1)
	assert.Equal(t, withZ, onlyZ[0].ID)
}

func TestConversationService_AddContactMerges(t *testing.T) {
	svc := newTestConversationService(t, nil, nil)
	owner := utils.NewSixID()
	friend := utils.NewSixID()
	other := utils.NewSixID()
	ctx := asActor(owner, models.RoleClient)

	require.NoError(t, svc.AddContact(ctx, owner, models.Contact{
		ParticipantID: friend, ParticipantName: "Nova", ParticipantType: models.RoleProvider,
		LastMessage: "first", Timestamp: testEpoch.Add(time.Minute),
	}))
	require.NoError(t, svc.AddContact(ctx, owner, models.Contact{
		ParticipantID: other, ParticipantName: "Fleurs", Timestamp: testEpoch.Add(2 * time.Minute),
	}))
	require.NoError(t, svc.AddContact(ctx, owner, models.Contact{
		ParticipantID: friend, ParticipantName: "Renamed", LastMessage: "second", Timestamp: testEpoch.Add(3 * time.Minute),
	}))

	contacts := svc.state.contacts[owner]
	require.Len(t, contacts, 2, "no duplicate participant ids")
	assert.Equal(t, friend, contacts[0].ParticipantID, "sorted by timestamp desc")
	assert.Equal(t, "Nova", contacts[0].ParticipantName, "display fields are preserved")
	assert.Equal(t, "second", contacts[0].LastMessage)
	assert.Equal(t, other, contacts[1].ParticipantID)

	assert.ErrorIs(t, svc.AddContact(ctx, utils.NewSixID(), models.Contact{ParticipantID: friend}), ErrForbidden)
	assert.ErrorIs(t, svc.AddContact(ctx, owner, models.Contact{ParticipantID: owner}), ErrValidation)
}

func TestConversationService_InboxUnreadIsLive(t *testing.T) {
	dir := new(mockUserDirectory)
	x := utils.NewSixID()
	y := utils.NewSixID()
	dir.On("FindByID", mock.Anything, y).Return(&models.User{Base: models.Base{ID: y}, Name: "DJ Nova", Role: models.RoleProvider}, nil)
	dir.On("FindByID", mock.Anything, mock.Anything).Return(nil, ErrNotFound)
	svc := newTestConversationService(t, dir, nil)
	asX := asActor(x, models.RoleClient)
	asY := asActor(y, models.RoleProvider)

	convID, err := svc.CreateConversation(asX, CreateConversationInput{OtherID: y, InitialMessage: "Hi"})
	require.NoError(t, err)
	_, err = svc.SendMessage(asX, convID, "Still there?", y)
	require.NoError(t, err)

	inbox, err := svc.GetAllConversations(context.Background(), y)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, 2, inbox[0].Unread)
	assert.Equal(t, UnknownParticipantName, inbox[0].ParticipantName, "x is in neither contacts nor directory")
	assert.Equal(t, "Still there?", inbox[0].LastMessage)

	senderInbox, err := svc.GetAllConversations(context.Background(), x)
	require.NoError(t, err)
	require.Len(t, senderInbox, 1)
	assert.Equal(t, 0, senderInbox[0].Unread)
	assert.Equal(t, "DJ Nova", senderInbox[0].ParticipantName)
	assert.Equal(t, models.RoleProvider, senderInbox[0].ParticipantType)

	require.NoError(t, svc.MarkAsRead(asY, convID, y))
	require.NoError(t, svc.MarkAsRead(asY, convID, y), "idempotent")
	inbox, err = svc.GetAllConversations(context.Background(), y)
	require.NoError(t, err)
	assert.Equal(t, 0, inbox[0].Unread)

	_, err = svc.SendMessage(asX, convID, "One more", y)
	require.NoError(t, err)
	inbox, err = svc.GetAllConversations(context.Background(), y)
	require.NoError(t, err)
	assert.Equal(t, 1, inbox[0].Unread)

	assert.ErrorIs(t, svc.MarkAsRead(asX, convID, y), ErrForbidden)
}

// lateDirectory starts empty and learns users while the test runs.
type lateDirectory struct {
	mu    sync.Mutex
	users map[utils.SixID]*models.User
}

func (d *lateDirectory) FindByID(_ context.Context, userID utils.SixID) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[userID]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

func (d *lateDirectory) add(u *models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func TestConversationService_LaterDirectoryEntryReplacesPlaceholder(t *testing.T) {
	dir := &lateDirectory{users: make(map[utils.SixID]*models.User)}
	svc := newTestConversationService(t, dir, nil)
	x := utils.NewSixID()
	y := utils.NewSixID()
	asX := asActor(x, models.RoleClient)

	convID, err := svc.CreateConversation(asX, CreateConversationInput{OtherID: y, InitialMessage: "Hi"})
	require.NoError(t, err)
	inbox, err := svc.GetAllConversations(context.Background(), y)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, UnknownParticipantName, inbox[0].ParticipantName)
	for _, c := range svc.state.contacts[y] {
		assert.Empty(t, c.ParticipantName, "placeholder is never stored")
	}

	dir.add(&models.User{Base: models.Base{ID: x}, Name: "Sophie", Role: models.RoleClient})
	inbox, err = svc.GetAllConversations(context.Background(), y)
	require.NoError(t, err)
	assert.Equal(t, "Sophie", inbox[0].ParticipantName)
	assert.Equal(t, models.RoleClient, inbox[0].ParticipantType)

	_, err = svc.SendMessage(asX, convID, "Still there?", y)
	require.NoError(t, err)
	require.Len(t, svc.state.contacts[y], 1)
	assert.Equal(t, "Sophie", svc.state.contacts[y][0].ParticipantName)
}

func TestConversationService_InboxAppendsStandaloneContacts(t *testing.T) {
	svc := newTestConversationService(t, nil, nil)
	x := utils.NewSixID()
	y := utils.NewSixID()
	seeded := utils.NewSixID()
	asX := asActor(x, models.RoleClient)

	require.NoError(t, svc.AddContact(asX, x, models.Contact{
		ParticipantID: seeded, ParticipantName: "Atelier Fleurs", Timestamp: testEpoch,
	}))
	require.NoError(t, svc.AddContact(asX, x, models.Contact{
		ParticipantID: y, ParticipantName: "Lucas", Timestamp: testEpoch,
	}))
	_, err := svc.CreateConversation(asX, CreateConversationInput{OtherID: y, InitialMessage: "Hello"})
	require.NoError(t, err)

	inbox, err := svc.GetAllConversations(context.Background(), x)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, y, inbox[0].ParticipantID)
	assert.Equal(t, "Lucas", inbox[0].ParticipantName, "existing contact display fields win")
	assert.NotNil(t, inbox[0].ConversationID)
	assert.Equal(t, seeded, inbox[1].ParticipantID)
	assert.Nil(t, inbox[1].ConversationID)
}

func TestConversationService_QuoteAndImageMessages(t *testing.T) {
	svc := newTestConversationService(t, nil, nil)
	client := utils.NewSixID()
	provider := utils.NewSixID()
	asProvider := asActor(provider, models.RoleProvider)
	convID, err := svc.CreateConversation(asProvider, CreateConversationInput{OtherID: client})
	require.NoError(t, err)

	quote := &models.Quote{ID: utils.NewSixID(), ProviderID: provider, ClientID: client, Title: "Wedding DJ", Total: 240, Currency: "EUR"}
	msg, err := svc.SendQuoteMessage(asProvider, convID, quote, client)
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeQuote, msg.Type)
	require.NotNil(t, msg.QuoteID)
	assert.Equal(t, quote.ID, *msg.QuoteID)
	assert.Equal(t, "Wedding DJ — €240.00", msg.Content)
	assert.Equal(t, 240.0, quote.Total)

	stranger := &models.Quote{ID: utils.NewSixID(), ProviderID: provider, ClientID: utils.NewSixID(), Title: "Other"}
	_, err = svc.SendQuoteMessage(asProvider, convID, stranger, client)
	assert.ErrorIs(t, err, ErrValidation)

	img, err := svc.SendImageMessage(asProvider, convID, "messages/abc.jpg", "Our setup", client)
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeImage, img.Type)
	assert.Equal(t, "messages/abc.jpg", img.ImageKey)
	_, err = svc.SendImageMessage(asProvider, convID, "", "", client)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConversationService_PersistsAndReloads(t *testing.T) {
	snapshots := NewMemorySnapshotStore()
	svc := newTestConversationService(t, nil, snapshots)
	x := utils.NewSixID()
	y := utils.NewSixID()
	convID, err := svc.CreateConversation(asActor(x, models.RoleClient), CreateConversationInput{OtherID: y, InitialMessage: "Hello"})
	require.NoError(t, err)

	reloaded := newTestConversationService(t, nil, snapshots)
	require.NoError(t, reloaded.Load(context.Background()))
	msgs, err := reloaded.GetMessages(asActor(y, models.RoleProvider), convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Len(t, reloaded.state.contacts[y], 1)
}
