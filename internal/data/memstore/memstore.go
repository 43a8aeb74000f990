// Package memstore is an in-memory implementation of the data stores with
// the same semantics as the MongoDB ones: not-found and duplicate errors,
// ordering, and monotonic conversation timestamps. It backs unit tests that
// should not need a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/koomind/koomind-backend/internal/data"
	"github.com/koomind/koomind-backend/internal/normalize"
)

// DB holds all collections behind one lock.
type DB struct {
	mu    sync.Mutex
	users map[bson.ObjectID]*data.User
	convs map[bson.ObjectID]*data.Conversation
	msgs  []*data.Message
	tasks []*data.Task
	clock time.Time
}

func New() *DB {
	return &DB{
		users: map[bson.ObjectID]*data.User{},
		convs: map[bson.ObjectID]*data.Conversation{},
		clock: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// now advances a logical clock so every write gets a distinct timestamp.
func (db *DB) now() time.Time {
	db.clock = db.clock.Add(time.Millisecond)
	return db.clock
}

func (db *DB) Users() *Users                 { return &Users{db} }
func (db *DB) Conversations() *Conversations { return &Conversations{db} }
func (db *DB) Messages() *Messages           { return &Messages{db} }
func (db *DB) Tasks() *Tasks                 { return &Tasks{db} }

// Users mirrors data.UsersStore.
type Users struct{ db *DB }

func (u *Users) CreateUser(_ context.Context, name, email, hashedPassword, role string) (*data.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	email = normalize.Email(email)
	for _, existing := range u.db.users {
		if existing.Email == email {
			return nil, data.ErrDuplicate
		}
	}
	now := u.db.now()
	user := &data.User{
		ID:        bson.NewObjectID(),
		Name:      name,
		Email:     email,
		Role:      role,
		Password:  hashedPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}
	u.db.users[user.ID] = user
	out := *user
	return &out, nil
}

func (u *Users) GetUserByEmail(_ context.Context, email string) (*data.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	email = normalize.Email(email)
	for _, user := range u.db.users {
		if user.Email == email {
			out := *user
			return &out, nil
		}
	}
	return nil, data.ErrNotFound
}

func (u *Users) GetUserByID(_ context.Context, id bson.ObjectID) (*data.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	user, ok := u.db.users[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	out := *user
	return &out, nil
}

func (u *Users) GetUsersByIDs(_ context.Context, ids []bson.ObjectID) (map[bson.ObjectID]*data.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	out := make(map[bson.ObjectID]*data.User, len(ids))
	for _, id := range ids {
		if user, ok := u.db.users[id]; ok {
			out[id] = withoutPassword(user)
		}
	}
	return out, nil
}

func (u *Users) ListUsers(_ context.Context) ([]*data.User, error) {
	return u.list(func(*data.User) bool { return true }), nil
}

func (u *Users) ListUsersByRole(_ context.Context, role string) ([]*data.User, error) {
	return u.list(func(user *data.User) bool { return user.Role == role }), nil
}

func (u *Users) list(keep func(*data.User) bool) []*data.User {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	out := make([]*data.User, 0, len(u.db.users))
	for _, user := range u.db.users {
		if keep(user) {
			out = append(out, withoutPassword(user))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (u *Users) UpdateProfile(_ context.Context, id bson.ObjectID, p data.Profile) (*data.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	user, ok := u.db.users[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	user.Profile = p
	user.UpdatedAt = u.db.now()
	return withoutPassword(user), nil
}

func (u *Users) UpdateUser(_ context.Context, id bson.ObjectID, upd data.UserUpdate) (*data.User, error) {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	user, ok := u.db.users[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	if upd.Email != nil {
		email := normalize.Email(*upd.Email)
		for otherID, other := range u.db.users {
			if otherID != id && other.Email == email {
				return nil, data.ErrDuplicate
			}
		}
		user.Email = email
	}
	if upd.Name != nil {
		user.Name = *upd.Name
	}
	user.UpdatedAt = u.db.now()
	return withoutPassword(user), nil
}

func (u *Users) SetPasswordByEmail(_ context.Context, email, hashedPassword string) error {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	email = normalize.Email(email)
	for _, user := range u.db.users {
		if user.Email == email {
			user.Password = hashedPassword
			user.RefreshTokenID = ""
			user.UpdatedAt = u.db.now()
			return nil
		}
	}
	return data.ErrNotFound
}

func (u *Users) SetRefreshTokenID(_ context.Context, id bson.ObjectID, jti string) error {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	user, ok := u.db.users[id]
	if !ok {
		return data.ErrNotFound
	}
	user.RefreshTokenID = jti
	return nil
}

func (u *Users) DeleteUser(_ context.Context, id bson.ObjectID) error {
	u.db.mu.Lock()
	defer u.db.mu.Unlock()
	if _, ok := u.db.users[id]; !ok {
		return data.ErrNotFound
	}
	delete(u.db.users, id)
	return nil
}

func withoutPassword(user *data.User) *data.User {
	cp := *user
	cp.Password = ""
	return &cp
}

// Conversations mirrors data.ConversationsStore, including the unique pair
// key on private conversations.
type Conversations struct{ db *DB }

func (c *Conversations) Create(_ context.Context, conv *data.Conversation) (*data.Conversation, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if conv.PairKey != "" {
		for _, existing := range c.db.convs {
			if existing.PairKey == conv.PairKey {
				return nil, data.ErrDuplicate
			}
		}
	}
	cp := *conv
	cp.ID = bson.NewObjectID()
	cp.Participants = append([]bson.ObjectID(nil), conv.Participants...)
	cp.CreatedAt = c.db.now()
	cp.UpdatedAt = cp.CreatedAt
	c.db.convs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (c *Conversations) GetByID(_ context.Context, id bson.ObjectID) (*data.Conversation, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	conv, ok := c.db.convs[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	out := *conv
	return &out, nil
}

func (c *Conversations) FindPrivate(_ context.Context, a, b bson.ObjectID) (*data.Conversation, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	for _, conv := range c.db.convs {
		if conv.Type == data.TypePrivate && len(conv.Participants) == 2 &&
			conv.HasParticipant(a) && conv.HasParticipant(b) {
			out := *conv
			return &out, nil
		}
	}
	return nil, data.ErrNotFound
}

func (c *Conversations) ListForUser(_ context.Context, userID bson.ObjectID) ([]*data.Conversation, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	var out []*data.Conversation
	for _, conv := range c.db.convs {
		if conv.HasParticipant(userID) {
			cp := *conv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID.Hex() > out[j].ID.Hex()
	})
	return out, nil
}

func (c *Conversations) Touch(_ context.Context, id bson.ObjectID, at time.Time) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	conv, ok := c.db.convs[id]
	if !ok {
		return data.ErrNotFound
	}
	if at.After(conv.UpdatedAt) {
		conv.UpdatedAt = at
	}
	return nil
}

func (c *Conversations) Delete(_ context.Context, id bson.ObjectID) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if _, ok := c.db.convs[id]; !ok {
		return data.ErrNotFound
	}
	delete(c.db.convs, id)
	return nil
}

// Messages mirrors data.MessagesStore.
type Messages struct{ db *DB }

func (m *Messages) Insert(_ context.Context, conversationID, authorID bson.ObjectID, text string) (*data.Message, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	msg := &data.Message{
		ID:           bson.NewObjectID(),
		Conversation: conversationID,
		Author:       authorID,
		Text:         text,
		CreatedAt:    m.db.now(),
		SeenBy:       []bson.ObjectID{},
	}
	m.db.msgs = append(m.db.msgs, msg)
	return copyMessage(msg), nil
}

func (m *Messages) ListByConversations(_ context.Context, ids []bson.ObjectID) ([]*data.Message, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	want := make(map[bson.ObjectID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := []*data.Message{}
	for _, msg := range m.db.msgs {
		if want[msg.Conversation] {
			out = append(out, copyMessage(msg))
		}
	}
	return out, nil
}

func (m *Messages) MarkSeen(_ context.Context, conversationID, userID bson.ObjectID) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var n int64
	for _, msg := range m.db.msgs {
		if msg.Conversation == conversationID && !msg.SeenByUser(userID) {
			msg.SeenBy = append(msg.SeenBy, userID)
			n++
		}
	}
	return n, nil
}

func (m *Messages) DeleteByConversation(_ context.Context, conversationID bson.ObjectID) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	kept := m.db.msgs[:0]
	var n int64
	for _, msg := range m.db.msgs {
		if msg.Conversation == conversationID {
			n++
			continue
		}
		kept = append(kept, msg)
	}
	m.db.msgs = kept
	return n, nil
}

// Count returns how many messages belong to a conversation.
func (m *Messages) Count(conversationID bson.ObjectID) int {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n := 0
	for _, msg := range m.db.msgs {
		if msg.Conversation == conversationID {
			n++
		}
	}
	return n
}

func copyMessage(msg *data.Message) *data.Message {
	cp := *msg
	cp.SeenBy = append([]bson.ObjectID{}, msg.SeenBy...)
	return &cp
}

// Tasks mirrors data.TasksStore.
type Tasks struct{ db *DB }

func (t *Tasks) Create(_ context.Context, userID bson.ObjectID, title, description string) (*data.Task, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	now := t.db.now()
	task := &data.Task{
		ID:          bson.NewObjectID(),
		UserID:      userID,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.db.tasks = append(t.db.tasks, task)
	out := *task
	return &out, nil
}

func (t *Tasks) ListByUser(_ context.Context, userID bson.ObjectID) ([]*data.Task, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	out := []*data.Task{}
	for i := len(t.db.tasks) - 1; i >= 0; i-- {
		if task := t.db.tasks[i]; task.UserID == userID {
			cp := *task
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *Tasks) Update(_ context.Context, id, userID bson.ObjectID, upd data.TaskUpdate) (*data.Task, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for _, task := range t.db.tasks {
		if task.ID != id || task.UserID != userID {
			continue
		}
		if upd.Title != nil {
			task.Title = *upd.Title
		}
		if upd.Description != nil {
			task.Description = *upd.Description
		}
		if upd.Completed != nil {
			task.Completed = *upd.Completed
		}
		task.UpdatedAt = t.db.now()
		out := *task
		return &out, nil
	}
	return nil, data.ErrNotFound
}

func (t *Tasks) Delete(_ context.Context, id, userID bson.ObjectID) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for i, task := range t.db.tasks {
		if task.ID == id && task.UserID == userID {
			t.db.tasks = append(t.db.tasks[:i], t.db.tasks[i+1:]...)
			return nil
		}
	}
	return data.ErrNotFound
}
