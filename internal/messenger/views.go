package messenger

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/koomind/koomind-backend/internal/data"
)

// Participant is the public projection of a conversation member.
type Participant struct {
	ID    bson.ObjectID `json:"_id"`
	Name  string        `json:"name"`
	Email string        `json:"email"`
}

// Author is the public projection of a message author.
type Author struct {
	ID   bson.ObjectID `json:"_id"`
	Name string        `json:"name"`
}

// MessageView is a message with its author resolved. It is both the REST
// representation and the realtime broadcast payload.
type MessageView struct {
	ID           bson.ObjectID   `json:"_id"`
	Conversation bson.ObjectID   `json:"conversation"`
	Author       Author          `json:"author"`
	Text         string          `json:"text"`
	CreatedAt    time.Time       `json:"createdAt"`
	SeenBy       []bson.ObjectID `json:"seenBy"`
}

// ConversationView is a conversation hydrated for one viewer.
type ConversationView struct {
	ID           bson.ObjectID         `json:"_id"`
	Type         data.ConversationType `json:"type"`
	Name         string                `json:"name,omitempty"`
	Participants []Participant         `json:"participants"`
	Messages     []MessageView         `json:"messages"`
	UnreadCount  int                   `json:"unreadCount"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// IsUnreadFor reports whether m counts as unread for viewer. Authors have
// implicitly seen their own messages even though they are not added to
// seenBy.
func IsUnreadFor(m *data.Message, viewer bson.ObjectID) bool {
	return m.Author != viewer && !m.SeenByUser(viewer)
}

func newMessageView(m *data.Message, users map[bson.ObjectID]*data.User) MessageView {
	author := Author{ID: m.Author}
	if u, ok := users[m.Author]; ok {
		author.Name = u.Name
	}
	seen := m.SeenBy
	if seen == nil {
		seen = []bson.ObjectID{}
	}
	return MessageView{
		ID:           m.ID,
		Conversation: m.Conversation,
		Author:       author,
		Text:         m.Text,
		CreatedAt:    m.CreatedAt,
		SeenBy:       seen,
	}
}

func newConversationView(c *data.Conversation, msgs []*data.Message, users map[bson.ObjectID]*data.User, viewer bson.ObjectID) *ConversationView {
	view := &ConversationView{
		ID:           c.ID,
		Type:         c.Type,
		Name:         c.Name,
		Participants: make([]Participant, 0, len(c.Participants)),
		Messages:     make([]MessageView, 0, len(msgs)),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	for _, id := range c.Participants {
		p := Participant{ID: id}
		if u, ok := users[id]; ok {
			p.Name, p.Email = u.Name, u.Email
		}
		view.Participants = append(view.Participants, p)
	}
	for _, m := range msgs {
		view.Messages = append(view.Messages, newMessageView(m, users))
		if IsUnreadFor(m, viewer) {
			view.UnreadCount++
		}
	}
	return view
}
