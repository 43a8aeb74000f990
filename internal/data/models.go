package data

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrNotFound is returned when a lookup matches no document.
	ErrNotFound = errors.New("data: not found")
	// ErrDuplicate is returned when a unique index rejects a write.
	ErrDuplicate = errors.New("data: duplicate key")
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User maps to the users collection.
type User struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	Name      string        `bson:"name" json:"name"`
	Email     string        `bson:"email" json:"email"`
	Role      string        `bson:"role" json:"role"`
	Password  string        `bson:"password" json:"-"`
	Profile   Profile       `bson:"profile" json:"profile"`
	// RefreshTokenID is the jti of the only refresh token currently
	// accepted for this user; empty means none.
	RefreshTokenID string    `bson:"refresh_token_id,omitempty" json:"-"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updatedAt"`
}

// Profile holds the self-service fields a user edits through /me.
type Profile struct {
	Bio      string `bson:"bio,omitempty" json:"bio,omitempty"`
	Phone    string `bson:"phone,omitempty" json:"phone,omitempty"`
	LinkedIn string `bson:"linkedin,omitempty" json:"linkedin,omitempty"`
}

// UserUpdate carries an admin edit of a user; nil means keep.
type UserUpdate struct {
	Name  *string
	Email *string
}

// timestamp is the store clock. BSON dates keep milliseconds, so anything finer
// would differ between a write's return value and a later read.
func timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// ConversationType distinguishes named channels from two-party threads.
type ConversationType string

const (
	TypeChannel ConversationType = "channel"
	TypePrivate ConversationType = "private"
)

// Conversation maps to the conversations collection. Its messages are the
// Message documents whose Conversation field points back at it.
type Conversation struct {
	ID           bson.ObjectID    `bson:"_id,omitempty"`
	Type         ConversationType `bson:"type"`
	Name         string           `bson:"name,omitempty"`
	Participants []bson.ObjectID  `bson:"participants"`
	// PairKey is set only for private conversations; a unique partial index
	// on it keeps one conversation per participant pair.
	PairKey   string    `bson:"pair_key,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// HasParticipant reports whether id is among the participants.
func (c *Conversation) HasParticipant(id bson.ObjectID) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Message maps to the messages collection.
type Message struct {
	ID           bson.ObjectID   `bson:"_id,omitempty"`
	Conversation bson.ObjectID   `bson:"conversation"`
	Author       bson.ObjectID   `bson:"author"`
	Text         string          `bson:"text"`
	CreatedAt    time.Time       `bson:"created_at"`
	SeenBy       []bson.ObjectID `bson:"seen_by"`
}

// SeenByUser reports whether id is in SeenBy.
func (m *Message) SeenByUser(id bson.ObjectID) bool {
	for _, s := range m.SeenBy {
		if s == id {
			return true
		}
	}
	return false
}

// Task maps to the tasks collection.
type Task struct {
	ID          bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	UserID      bson.ObjectID `bson:"user_id" json:"userId"`
	Title       string        `bson:"title" json:"title"`
	Description string        `bson:"description" json:"description"`
	Completed   bool          `bson:"completed" json:"completed"`
	CreatedAt   time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `bson:"updated_at" json:"updatedAt"`
}

// TaskUpdate carries the fields of a partial task update; nil means keep.
type TaskUpdate struct {
	Title       *string
	Description *string
	Completed   *bool
}
