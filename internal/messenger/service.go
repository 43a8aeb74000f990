// Package messenger implements conversations and messages on top of the
// data stores: creation rules, seen-state, cascading deletes and the single
// persistence step behind every realtime message.
package messenger

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/koomind/koomind-backend/internal/apperror"
	"github.com/koomind/koomind-backend/internal/data"
	"github.com/koomind/koomind-backend/internal/normalize"
)

// MaxTextLength bounds a message body, in runes.
const MaxTextLength = 4000

// ConversationStore is the subset of data.ConversationsStore the service uses.
type ConversationStore interface {
	Create(ctx context.Context, c *data.Conversation) (*data.Conversation, error)
	GetByID(ctx context.Context, id bson.ObjectID) (*data.Conversation, error)
	FindPrivate(ctx context.Context, a, b bson.ObjectID) (*data.Conversation, error)
	ListForUser(ctx context.Context, userID bson.ObjectID) ([]*data.Conversation, error)
	Touch(ctx context.Context, id bson.ObjectID, at time.Time) error
	Delete(ctx context.Context, id bson.ObjectID) error
}

// MessageStore is the subset of data.MessagesStore the service uses.
type MessageStore interface {
	Insert(ctx context.Context, conversationID, authorID bson.ObjectID, text string) (*data.Message, error)
	ListByConversations(ctx context.Context, conversationIDs []bson.ObjectID) ([]*data.Message, error)
	MarkSeen(ctx context.Context, conversationID, userID bson.ObjectID) (int64, error)
	DeleteByConversation(ctx context.Context, conversationID bson.ObjectID) (int64, error)
}

// UserStore resolves participant and author identities.
type UserStore interface {
	GetUsersByIDs(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]*data.User, error)
}

// Options tunes access rules.
type Options struct {
	// EnforceMembership restricts joining, posting, marking seen and
	// deleting to the conversation's participants.
	EnforceMembership bool
}

// Service is the conversation/message repository.
type Service struct {
	convs  ConversationStore
	msgs   MessageStore
	users  UserStore
	opts   Options
	logger *log.Logger
}

func NewService(convs ConversationStore, msgs MessageStore, users UserStore, opts Options, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		convs:  convs,
		msgs:   msgs,
		users:  users,
		opts:   opts,
		logger: logger.WithPrefix("messenger"),
	}
}

// CreateInput is the payload of CreateConversation.
type CreateInput struct {
	Type          data.ConversationType
	Name          string
	Participants  []bson.ObjectID
	ParticipantID bson.ObjectID
}

// ListConversationsFor returns userID's conversations, most recently updated
// first, each with its full message history and unread count.
func (s *Service) ListConversationsFor(ctx context.Context, userID bson.ObjectID) ([]*ConversationView, error) {
	convs, err := s.convs.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperror.Internal("failed to load conversations", err)
	}
	return s.hydrate(ctx, convs, userID)
}

// CreateConversation creates a channel, or finds-or-creates the private
// conversation between creatorID and in.ParticipantID. created is false when
// an existing private conversation is returned.
func (s *Service) CreateConversation(ctx context.Context, creatorID bson.ObjectID, in CreateInput) (view *ConversationView, created bool, err error) {
	switch in.Type {
	case data.TypeChannel:
		return s.createChannel(ctx, creatorID, in)
	case data.TypePrivate:
		return s.findOrCreatePrivate(ctx, creatorID, in.ParticipantID)
	default:
		return nil, false, apperror.Validation("type must be either channel or private")
	}
}

func (s *Service) createChannel(ctx context.Context, creatorID bson.ObjectID, in CreateInput) (*ConversationView, bool, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(in.Participants) == 0 {
		return nil, false, apperror.Validation("a channel needs a name and at least one participant")
	}
	for _, id := range in.Participants {
		if id.IsZero() {
			return nil, false, apperror.Validation("invalid participant id")
		}
	}

	participants := normalize.UniqueIDs(append([]bson.ObjectID{creatorID}, in.Participants...)...)
	if len(participants) < 2 {
		return nil, false, apperror.Validation("a channel needs at least one participant besides its creator")
	}

	conv, err := s.convs.Create(ctx, &data.Conversation{
		Type:         data.TypeChannel,
		Name:         name,
		Participants: participants,
	})
	if err != nil {
		return nil, false, apperror.Internal("failed to create conversation", err)
	}

	view, err := s.hydrateOne(ctx, conv, creatorID)
	if err != nil {
		return nil, false, err
	}
	return view, true, nil
}

func (s *Service) findOrCreatePrivate(ctx context.Context, creatorID, targetID bson.ObjectID) (*ConversationView, bool, error) {
	if targetID.IsZero() {
		return nil, false, apperror.Validation("a private conversation needs a participant")
	}
	if targetID == creatorID {
		return nil, false, apperror.Validation("cannot open a private conversation with yourself")
	}

	existing, err := s.convs.FindPrivate(ctx, creatorID, targetID)
	switch {
	case err == nil:
		view, err := s.hydrateOne(ctx, existing, creatorID)
		return view, false, err
	case !errors.Is(err, data.ErrNotFound):
		return nil, false, apperror.Internal("failed to look up conversation", err)
	}

	conv, err := s.convs.Create(ctx, &data.Conversation{
		Type:         data.TypePrivate,
		Participants: []bson.ObjectID{creatorID, targetID},
		PairKey:      normalize.PairKey(creatorID, targetID),
	})
	if errors.Is(err, data.ErrDuplicate) {
		// lost a race with a concurrent creation for the same pair
		existing, err = s.convs.FindPrivate(ctx, creatorID, targetID)
		if err != nil {
			return nil, false, apperror.Internal("failed to look up conversation", err)
		}
		view, err := s.hydrateOne(ctx, existing, creatorID)
		return view, false, err
	}
	if err != nil {
		return nil, false, apperror.Internal("failed to create conversation", err)
	}

	view, err := s.hydrateOne(ctx, conv, creatorID)
	if err != nil {
		return nil, false, err
	}
	return view, true, nil
}

// MarkSeen adds userID to seenBy of every message in the conversation that
// lacks it and returns the number of messages updated.
func (s *Service) MarkSeen(ctx context.Context, conversationID, userID bson.ObjectID) (int64, error) {
	if conversationID.IsZero() {
		return 0, apperror.Validation("conversation is required")
	}
	if s.opts.EnforceMembership {
		if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
			return 0, err
		}
	}

	n, err := s.msgs.MarkSeen(ctx, conversationID, userID)
	if err != nil {
		return 0, apperror.Internal("failed to mark messages as seen", err)
	}
	return n, nil
}

// DeleteConversation removes a channel and all of its messages. Private
// conversations cannot be deleted.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, requesterID bson.ObjectID) error {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if errors.Is(err, data.ErrNotFound) {
		return apperror.NotFound("conversation")
	}
	if err != nil {
		return apperror.Internal("failed to load conversation", err)
	}
	if conv.Type == data.TypePrivate {
		return apperror.Forbidden("private conversations cannot be deleted")
	}
	if s.opts.EnforceMembership && !conv.HasParticipant(requesterID) {
		return apperror.Forbidden("only participants can delete this conversation")
	}

	deleted, err := s.msgs.DeleteByConversation(ctx, conversationID)
	if err != nil {
		return apperror.Internal("failed to delete messages", err)
	}
	if err := s.convs.Delete(ctx, conversationID); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return apperror.NotFound("conversation")
		}
		return apperror.Internal("failed to delete conversation", err)
	}

	s.logger.Info("conversation deleted", "conversation", conversationID.Hex(), "by", requesterID.Hex(), "messages", deleted)
	return nil
}

// AppendMessage persists a message, moves the conversation's updatedAt
// forward and returns the message with its author resolved. It completes
// before anything is broadcast.
func (s *Service) AppendMessage(ctx context.Context, conversationID, authorID bson.ObjectID, text string) (*MessageView, error) {
	if conversationID.IsZero() {
		return nil, apperror.Validation("conversation is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperror.Validation("text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return nil, apperror.Validation("text is too long")
	}

	conv, err := s.convs.GetByID(ctx, conversationID)
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperror.NotFound("conversation")
	}
	if err != nil {
		return nil, apperror.Internal("failed to load conversation", err)
	}
	if s.opts.EnforceMembership && !conv.HasParticipant(authorID) {
		return nil, apperror.Forbidden("not a participant of this conversation")
	}

	msg, err := s.msgs.Insert(ctx, conversationID, authorID, text)
	if err != nil {
		return nil, apperror.Internal("failed to save message", err)
	}

	// updatedAt only drives list ordering; the message is already durable
	if err := s.convs.Touch(ctx, conversationID, msg.CreatedAt); err != nil {
		s.logger.Warn("failed to bump conversation updatedAt", "conversation", conversationID.Hex(), "err", err)
	}

	users, err := s.users.GetUsersByIDs(ctx, []bson.ObjectID{authorID})
	if err != nil {
		return nil, apperror.Internal("failed to resolve message author", err)
	}
	view := newMessageView(msg, users)
	return &view, nil
}

// CanJoin decides whether userID may join the realtime room of a
// conversation.
func (s *Service) CanJoin(ctx context.Context, conversationID, userID bson.ObjectID) error {
	if conversationID.IsZero() {
		return apperror.Validation("conversation is required")
	}
	if !s.opts.EnforceMembership {
		return nil
	}
	_, err := s.participantConversation(ctx, conversationID, userID)
	return err
}

func (s *Service) participantConversation(ctx context.Context, conversationID, userID bson.ObjectID) (*data.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperror.NotFound("conversation")
	}
	if err != nil {
		return nil, apperror.Internal("failed to load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, apperror.Forbidden("not a participant of this conversation")
	}
	return conv, nil
}

func (s *Service) hydrateOne(ctx context.Context, conv *data.Conversation, viewer bson.ObjectID) (*ConversationView, error) {
	views, err := s.hydrate(ctx, []*data.Conversation{conv}, viewer)
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// hydrate loads messages and users for convs in two queries total.
func (s *Service) hydrate(ctx context.Context, convs []*data.Conversation, viewer bson.ObjectID) ([]*ConversationView, error) {
	views := make([]*ConversationView, 0, len(convs))
	if len(convs) == 0 {
		return views, nil
	}

	ids := make([]bson.ObjectID, 0, len(convs))
	var userIDs []bson.ObjectID
	for _, c := range convs {
		ids = append(ids, c.ID)
		userIDs = append(userIDs, c.Participants...)
	}

	msgs, err := s.msgs.ListByConversations(ctx, ids)
	if err != nil {
		return nil, apperror.Internal("failed to load messages", err)
	}
	byConv := make(map[bson.ObjectID][]*data.Message, len(convs))
	for _, m := range msgs {
		byConv[m.Conversation] = append(byConv[m.Conversation], m)
		userIDs = append(userIDs, m.Author)
	}

	users, err := s.users.GetUsersByIDs(ctx, normalize.UniqueIDs(userIDs...))
	if err != nil {
		return nil, apperror.Internal("failed to load users", err)
	}

	for _, c := range convs {
		views = append(views, newConversationView(c, byConv[c.ID], users, viewer))
	}
	return views, nil
}
