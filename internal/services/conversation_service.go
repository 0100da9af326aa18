package services

import (
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

// UnknownParticipantName is shown for inbox rows with no contact or directory entry.
const UnknownParticipantName = "Unknown user"

// IConversationService keeps one conversation per pair of actors and the contact
// projection each actor sees in their inbox.
type IConversationService interface {
	Load(ctx context.Context) error
	GetConversationByParticipant(ctx context.Context, actorID, otherID utils.SixID) (*models.Conversation, bool)
	CreateConversation(ctx context.Context, in CreateConversationInput) (utils.SixID, error)
	SendMessage(ctx context.Context, conversationID utils.SixID, content string, receiverID utils.SixID) (*models.Message, error)
	SendImageMessage(ctx context.Context, conversationID utils.SixID, imageKey, caption string, receiverID utils.SixID) (*models.Message, error)
	SendQuoteMessage(ctx context.Context, conversationID utils.SixID, quote *models.Quote, receiverID utils.SixID) (*models.Message, error)
	AddContact(ctx context.Context, ownerID utils.SixID, contact models.Contact) error
	GetAllConversations(ctx context.Context, actorID utils.SixID) ([]*models.Contact, error)
	GetMessages(ctx context.Context, conversationID utils.SixID) ([]*models.Message, error)
	GetConversations(ctx context.Context, actorID utils.SixID) ([]*models.Conversation, error)
	MarkAsRead(ctx context.Context, conversationID, actorID utils.SixID) error
}

// CreateConversationInput starts (or reuses) the thread with OtherID.
type CreateConversationInput struct {
	OtherID        utils.SixID
	InitialMessage string
	ListingID      *utils.SixID
}

// conversationState is the copy-on-write collection. Conversations are kept sorted by
// UpdatedAt descending; messages are keyed by conversation id, contacts by owner id.
type conversationState struct {
	conversations []*models.Conversation
	messages      map[utils.SixID][]*models.Message
	contacts      map[utils.SixID][]*models.Contact
}

func newConversationState() *conversationState {
	return &conversationState{
		messages: make(map[utils.SixID][]*models.Message),
		contacts: make(map[utils.SixID][]*models.Contact),
	}
}

func (st *conversationState) fork() *conversationState {
	next := &conversationState{
		conversations: slices.Clone(st.conversations),
		messages:      make(map[utils.SixID][]*models.Message, len(st.messages)),
		contacts:      make(map[utils.SixID][]*models.Contact, len(st.contacts)),
	}
	for k, v := range st.messages {
		next.messages[k] = v
	}
	for k, v := range st.contacts {
		next.contacts[k] = v
	}
	return next
}

func (st *conversationState) indexOf(conversationID utils.SixID) int {
	return slices.IndexFunc(st.conversations, func(c *models.Conversation) bool { return c.ID == conversationID })
}

func (st *conversationState) indexOfPair(pair utils.Pair) int {
	return slices.IndexFunc(st.conversations, func(c *models.Conversation) bool { return c.Participants == pair })
}

func (st *conversationState) sortConversations() {
	sort.SliceStable(st.conversations, func(i, j int) bool {
		return st.conversations[i].UpdatedAt.After(st.conversations[j].UpdatedAt)
	})
}

// upsertContact applies the merge rule: an existing entry for the participant only takes the
// new LastMessage and Timestamp (and display fields while it has no name), a new entry goes
// to the head. The list is then re-sorted.
func (st *conversationState) upsertContact(ownerID utils.SixID, contact models.Contact, resetUnread bool) {
	list := slices.Clone(st.contacts[ownerID])
	idx := slices.IndexFunc(list, func(c *models.Contact) bool { return c.ParticipantID == contact.ParticipantID })
	if idx >= 0 {
		merged := *list[idx]
		if merged.ParticipantName == "" {
			merged.ParticipantName = contact.ParticipantName
			merged.ParticipantImage = contact.ParticipantImage
			merged.ParticipantType = contact.ParticipantType
		}
		merged.LastMessage = contact.LastMessage
		merged.Timestamp = contact.Timestamp
		if merged.ConversationID == nil && contact.ConversationID != nil {
			merged.ConversationID = contact.ConversationID
		}
		if resetUnread {
			merged.Unread = 0
		}
		list[idx] = &merged
	} else {
		added := contact
		if resetUnread {
			added.Unread = 0
		}
		list = append([]*models.Contact{&added}, list...)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	st.contacts[ownerID] = list
}

type conversationService struct {
	mu        sync.Mutex
	state     *conversationState
	identity  IIdentityProvider
	directory IUserDirectory
	snapshots ISnapshotStore
	latency   time.Duration
	now       func() time.Time
	lastStamp time.Time
}

// NewConversationService creates a new ConversationService. directory may be nil.
func NewConversationService(cfg *config.Config, identity IIdentityProvider, directory IUserDirectory, snapshots ISnapshotStore) IConversationService {
	if snapshots == nil {
		snapshots = NewMemorySnapshotStore()
	}
	s := &conversationService{
		state:     newConversationState(),
		identity:  identity,
		directory: directory,
		snapshots: snapshots,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if cfg != nil {
		s.latency = cfg.SimulatedLatency
	}
	return s
}

func (s *conversationService) Load(ctx context.Context) error {
	st := newConversationState()
	foundConv, err := s.snapshots.LoadSnapshot(ctx, snapshotConversations, &st.conversations)
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	if _, err := s.snapshots.LoadSnapshot(ctx, snapshotMessages, &st.messages); err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	if _, err := s.snapshots.LoadSnapshot(ctx, snapshotContacts, &st.contacts); err != nil {
		return fmt.Errorf("failed to load contacts: %w", err)
	}
	if st.messages == nil {
		st.messages = make(map[utils.SixID][]*models.Message)
	}
	if st.contacts == nil {
		st.contacts = make(map[utils.SixID][]*models.Contact)
	}
	st.sortConversations()

	s.mu.Lock()
	s.state = st
	for _, msgs := range st.messages {
		for _, m := range msgs {
			if m.Timestamp.After(s.lastStamp) {
				s.lastStamp = m.Timestamp
			}
		}
	}
	s.mu.Unlock()
	if foundConv {
		log.Printf("Loaded %d conversations", len(st.conversations))
	}
	return nil
}

// stamp returns a timestamp strictly after every previous one so insertion order
// and timestamp order agree. Callers hold s.mu.
func (s *conversationService) stamp() time.Time {
	now := s.now()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

func (s *conversationService) commit(ctx context.Context, next *conversationState) error {
	if err := s.snapshots.SaveSnapshot(ctx, snapshotConversations, next.conversations); err != nil {
		return fmt.Errorf("failed to persist conversations: %w", err)
	}
	if err := s.snapshots.SaveSnapshot(ctx, snapshotMessages, next.messages); err != nil {
		return fmt.Errorf("failed to persist messages: %w", err)
	}
	if err := s.snapshots.SaveSnapshot(ctx, snapshotContacts, next.contacts); err != nil {
		return fmt.Errorf("failed to persist contacts: %w", err)
	}
	s.state = next
	return nil
}

// displayFields resolves the name, image and role shown for participantID in ownerID's inbox:
// a known contact first, then the directory, then a placeholder.
func (s *conversationService) displayFields(ctx context.Context, st *conversationState, ownerID, participantID utils.SixID) models.Contact {
	if c, ok := s.knownDisplay(ctx, st, ownerID, participantID); ok {
		return c
	}
	return models.Contact{ParticipantID: participantID, ParticipantName: UnknownParticipantName}
}

// knownDisplay is displayFields without the placeholder. Contacts are stored with what it
// returns, so an unnamed entry resolves again once the directory knows the participant.
func (s *conversationService) knownDisplay(ctx context.Context, st *conversationState, ownerID, participantID utils.SixID) (models.Contact, bool) {
	for _, c := range st.contacts[ownerID] {
		if c.ParticipantID == participantID && c.ParticipantName != "" {
			return models.Contact{
				ParticipantID:    participantID,
				ParticipantName:  c.ParticipantName,
				ParticipantImage: c.ParticipantImage,
				ParticipantType:  c.ParticipantType,
			}, true
		}
	}
	if s.directory != nil {
		if u, err := s.directory.FindByID(ctx, participantID); err == nil {
			return models.Contact{
				ParticipantID:    participantID,
				ParticipantName:  u.Name,
				ParticipantImage: u.Image,
				ParticipantType:  u.Role,
			}, true
		}
	}
	return models.Contact{ParticipantID: participantID}, false
}

// GetConversationByParticipant finds the conversation between actorID and otherID in either order.
func (s *conversationService) GetConversationByParticipant(ctx context.Context, actorID, otherID utils.SixID) (*models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.state.indexOfPair(utils.NewPair(actorID, otherID))
	if idx < 0 {
		return nil, false
	}
	return s.state.conversations[idx].Clone(), true
}

// CreateConversation returns the existing conversation with OtherID or creates one. It never
// creates a second conversation for the same pair.
func (s *conversationService) CreateConversation(ctx context.Context, in CreateConversationInput) (utils.SixID, error) {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return utils.SixID{}, err
	}
	if in.OtherID.IsZero() || in.OtherID == actor.ID {
		return utils.SixID{}, fmt.Errorf("a conversation needs another participant: %w", ErrValidation)
	}
	if err := simulateLatency(ctx, s.latency); err != nil {
		return utils.SixID{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pair := utils.NewPair(actor.ID, in.OtherID)
	if idx := s.state.indexOfPair(pair); idx >= 0 {
		conversationID := s.state.conversations[idx].ID
		if strings.TrimSpace(in.InitialMessage) != "" {
			next := s.state.fork()
			if _, err := s.appendMessage(ctx, next, actor, conversationID, in.OtherID, outgoing{content: in.InitialMessage, kind: models.MessageTypeText}); err != nil {
				return utils.SixID{}, err
			}
			if err := s.commit(ctx, next); err != nil {
				return utils.SixID{}, err
			}
		}
		return conversationID, nil
	}

	now := s.stamp()
	conv := &models.Conversation{
		Participants: pair,
		ListingID:    in.ListingID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = db.Try(func() error {
		conv.ID = utils.NewSixID()
		if s.state.indexOf(conv.ID) >= 0 {
			return fmt.Errorf("conversation %s: %w", conv.ID, db.ErrDuplicateID)
		}
		return nil
	})
	if err != nil {
		return utils.SixID{}, fmt.Errorf("failed to allocate conversation id: %w", err)
	}

	next := s.state.fork()
	next.conversations = append([]*models.Conversation{conv}, next.conversations...)
	contact, _ := s.knownDisplay(ctx, next, actor.ID, in.OtherID)
	contact.ConversationID = &conv.ID
	contact.Timestamp = now
	next.upsertContact(actor.ID, contact, true)

	if strings.TrimSpace(in.InitialMessage) != "" {
		if _, err := s.appendMessage(ctx, next, actor, conv.ID, in.OtherID, outgoing{content: in.InitialMessage, kind: models.MessageTypeText}); err != nil {
			return utils.SixID{}, err
		}
	}
	if err := s.commit(ctx, next); err != nil {
		return utils.SixID{}, err
	}

	log.Printf("Conversation %s created by %s with %s", conv.ID, actor.ID, in.OtherID)
	return conv.ID, nil
}

type outgoing struct {
	content  string
	kind     models.MessageType
	quoteID  *utils.SixID
	imageKey string
}

// appendMessage adds a message to next and updates the conversation and both contact lists.
func (s *conversationService) appendMessage(ctx context.Context, next *conversationState, sender models.Actor, conversationID, receiverID utils.SixID, out outgoing) (*models.Message, error) {
	idx := next.indexOf(conversationID)
	if idx < 0 {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	conv := next.conversations[idx]
	if !conv.Participants.Contains(sender.ID) {
		return nil, fmt.Errorf("%s is not part of conversation %s: %w", sender.ID, conversationID, ErrForbidden)
	}
	if other, _ := conv.Participants.Other(sender.ID); other != receiverID || receiverID == sender.ID {
		return nil, fmt.Errorf("receiver %s is not the other participant of %s: %w", receiverID, conversationID, ErrValidation)
	}

	now := s.stamp()
	msg := &models.Message{
		ID:             utils.NewSixID(),
		ConversationID: conversationID,
		SenderID:       sender.ID,
		ReceiverID:     receiverID,
		Content:        out.content,
		Type:           out.kind,
		QuoteID:        out.quoteID,
		ImageKey:       out.imageKey,
		Timestamp:      now,
	}
	next.messages[conversationID] = append(slices.Clip(next.messages[conversationID]), msg)

	updated := conv.Clone()
	lastCopy := *msg
	updated.LastMessage = &lastCopy
	updated.UpdatedAt = now
	next.conversations[idx] = updated
	next.sortConversations()

	senderView, _ := s.knownDisplay(ctx, next, sender.ID, receiverID)
	senderView.ConversationID = &conversationID
	senderView.LastMessage = msg.Content
	senderView.Timestamp = now
	next.upsertContact(sender.ID, senderView, true)

	receiverView, _ := s.knownDisplay(ctx, next, receiverID, sender.ID)
	receiverView.ConversationID = &conversationID
	receiverView.LastMessage = msg.Content
	receiverView.Timestamp = now
	receiverView.Unread = 1
	next.upsertContact(receiverID, receiverView, false)

	return msg, nil
}

func (s *conversationService) send(ctx context.Context, conversationID, receiverID utils.SixID, out outgoing) (*models.Message, error) {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return nil, err
	}
	if err := simulateLatency(ctx, s.latency); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.fork()
	msg, err := s.appendMessage(ctx, next, actor, conversationID, receiverID, out)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}
	log.Printf("Message %s (%s) sent in %s by %s", msg.ID, msg.Type, conversationID, actor.ID)
	cp := *msg
	return &cp, nil
}

// SendMessage appends a text message from the current actor.
func (s *conversationService) SendMessage(ctx context.Context, conversationID utils.SixID, content string, receiverID utils.SixID) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("message content is empty: %w", ErrValidation)
	}
	return s.send(ctx, conversationID, receiverID, outgoing{content: content, kind: models.MessageTypeText})
}

// SendImageMessage appends an image message. imageKey is the object storage key of the upload.
func (s *conversationService) SendImageMessage(ctx context.Context, conversationID utils.SixID, imageKey, caption string, receiverID utils.SixID) (*models.Message, error) {
	if strings.TrimSpace(imageKey) == "" {
		return nil, fmt.Errorf("image key is empty: %w", ErrValidation)
	}
	return s.send(ctx, conversationID, receiverID, outgoing{content: caption, kind: models.MessageTypeImage, imageKey: imageKey})
}

// QuoteSummary is the human readable content of a quote message.
func QuoteSummary(quote *models.Quote) string {
	return fmt.Sprintf("%s — %s", quote.Title, FormatAmount(quote.Total, quote.Currency))
}

// FormatAmount renders a money amount, using the euro sign for the default currency.
func FormatAmount(amount float64, currency string) string {
	if currency == "" || currency == models.DefaultCurrency {
		return fmt.Sprintf("€%.2f", amount)
	}
	return fmt.Sprintf("%s %.2f", currency, amount)
}

// SendQuoteMessage posts a quote card into the conversation. The quote itself is not modified.
func (s *conversationService) SendQuoteMessage(ctx context.Context, conversationID utils.SixID, quote *models.Quote, receiverID utils.SixID) (*models.Message, error) {
	if quote == nil || quote.ID.IsZero() {
		return nil, fmt.Errorf("quote is required: %w", ErrValidation)
	}
	actor, ok := s.identity.CurrentActor(ctx)
	if ok && !quote.HasParties(actor.ID, receiverID) {
		return nil, fmt.Errorf("quote %s is not between %s and %s: %w", quote.ID, actor.ID, receiverID, ErrValidation)
	}
	quoteID := quote.ID
	return s.send(ctx, conversationID, receiverID, outgoing{content: QuoteSummary(quote), kind: models.MessageTypeQuote, quoteID: &quoteID})
}

// AddContact merges contact into ownerID's contact list.
func (s *conversationService) AddContact(ctx context.Context, ownerID utils.SixID, contact models.Contact) error {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return err
	}
	if actor.ID != ownerID {
		return fmt.Errorf("%s cannot edit the contacts of %s: %w", actor.ID, ownerID, ErrForbidden)
	}
	if contact.ParticipantID.IsZero() || contact.ParticipantID == ownerID {
		return fmt.Errorf("contact needs another participant: %w", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if contact.Timestamp.IsZero() {
		contact.Timestamp = s.stamp()
	}
	next := s.state.fork()
	next.upsertContact(ownerID, contact, false)
	return s.commit(ctx, next)
}

// GetAllConversations builds actorID's inbox: one row per conversation with a live unread
// count, followed by standalone contacts, newest first.
func (s *conversationService) GetAllConversations(ctx context.Context, actorID utils.SixID) ([]*models.Contact, error) {
	if actorID.IsZero() {
		return nil, ErrUnauthenticated
	}
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	inbox := make([]*models.Contact, 0)
	seen := make(map[utils.SixID]bool)
	for _, conv := range st.conversations {
		other, ok := conv.Participants.Other(actorID)
		if !ok {
			continue
		}
		row := s.displayFields(ctx, st, actorID, other)
		conversationID := conv.ID
		row.ConversationID = &conversationID
		row.Timestamp = conv.UpdatedAt
		if conv.LastMessage != nil {
			row.LastMessage = conv.LastMessage.Content
		}
		for _, m := range st.messages[conv.ID] {
			if m.ReceiverID == actorID && !m.Read {
				row.Unread++
			}
		}
		seen[other] = true
		inbox = append(inbox, &row)
	}
	for _, c := range st.contacts[actorID] {
		if seen[c.ParticipantID] {
			continue
		}
		seen[c.ParticipantID] = true
		cp := *c
		if cp.ParticipantName == "" {
			shown := s.displayFields(ctx, st, actorID, c.ParticipantID)
			cp.ParticipantName = shown.ParticipantName
			cp.ParticipantImage = shown.ParticipantImage
			cp.ParticipantType = shown.ParticipantType
		}
		inbox = append(inbox, &cp)
	}
	sort.SliceStable(inbox, func(i, j int) bool { return inbox[i].Timestamp.After(inbox[j].Timestamp) })
	return inbox, nil
}

// GetMessages returns the conversation log in send order. The current actor must be a participant.
func (s *conversationService) GetMessages(ctx context.Context, conversationID utils.SixID) ([]*models.Message, error) {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.state.indexOf(conversationID)
	if idx < 0 {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if !s.state.conversations[idx].Participants.Contains(actor.ID) {
		return nil, fmt.Errorf("%s is not part of conversation %s: %w", actor.ID, conversationID, ErrForbidden)
	}
	msgs := s.state.messages[conversationID]
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// GetConversations returns actorID's conversations, most recently active first.
func (s *conversationService) GetConversations(ctx context.Context, actorID utils.SixID) ([]*models.Conversation, error) {
	if actorID.IsZero() {
		return nil, ErrUnauthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Conversation, 0)
	for _, c := range s.state.conversations {
		if c.Participants.Contains(actorID) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// MarkAsRead marks every message addressed to actorID in the conversation as read. Idempotent.
func (s *conversationService) MarkAsRead(ctx context.Context, conversationID, actorID utils.SixID) error {
	actor, err := requireActor(ctx, s.identity)
	if err != nil {
		return err
	}
	if actor.ID != actorID {
		return fmt.Errorf("%s cannot mark messages read for %s: %w", actor.ID, actorID, ErrForbidden)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.state.indexOf(conversationID)
	if idx < 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	conv := s.state.conversations[idx]
	if !conv.Participants.Contains(actorID) {
		return fmt.Errorf("%s is not part of conversation %s: %w", actorID, conversationID, ErrForbidden)
	}

	msgs := slices.Clone(s.state.messages[conversationID])
	changed := 0
	for i, m := range msgs {
		if m.ReceiverID == actorID && !m.Read {
			read := *m
			read.Read = true
			msgs[i] = &read
			changed++
		}
	}
	if changed == 0 {
		return nil
	}

	next := s.state.fork()
	next.messages[conversationID] = msgs
	if conv.LastMessage != nil && conv.LastMessage.ReceiverID == actorID && !conv.LastMessage.Read {
		updated := conv.Clone()
		updated.LastMessage.Read = true
		next.conversations[idx] = updated
	}
	other, _ := conv.Participants.Other(actorID)
	contacts := slices.Clone(next.contacts[actorID])
	for i, c := range contacts {
		if c.ParticipantID == other && c.Unread != 0 {
			cleared := *c
			cleared.Unread = 0
			contacts[i] = &cleared
		}
	}
	next.contacts[actorID] = contacts

	if err := s.commit(ctx, next); err != nil {
		return err
	}
	log.Printf("Marked %d messages read in %s for %s", changed, conversationID, actorID)
	return nil
}
