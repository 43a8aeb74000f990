package data

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConversationsStore provides conversation database operations.
type ConversationsStore struct {
	coll *mongo.Collection
}

// NewConversationsStore returns a ConversationsStore using coll.
func NewConversationsStore(coll *mongo.Collection) *ConversationsStore {
	return &ConversationsStore{coll: coll}
}

// Create inserts c, stamping both timestamps. A unique-index violation
// (a concurrent private conversation for the same pair) yields ErrDuplicate.
func (s *ConversationsStore) Create(ctx context.Context, c *Conversation) (*Conversation, error) {
	now := timestamp()
	c.CreatedAt = now
	c.UpdatedAt = now

	result, err := s.coll.InsertOne(ctx, c)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	c.ID = result.InsertedID.(bson.ObjectID)
	return c, nil
}

// GetByID loads one conversation.
func (s *ConversationsStore) GetByID(ctx context.Context, id bson.ObjectID) (*Conversation, error) {
	var c Conversation
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindPrivate returns the private conversation whose participants are
// exactly {a, b}, in either order.
func (s *ConversationsStore) FindPrivate(ctx context.Context, a, b bson.ObjectID) (*Conversation, error) {
	filter := bson.M{
		"type": TypePrivate,
		"participants": bson.M{
			"$all":  bson.A{a, b},
			"$size": 2,
		},
	}

	var c Conversation
	if err := s.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListForUser returns the conversations userID participates in, most
// recently updated first.
func (s *ConversationsStore) ListForUser(ctx context.Context, userID bson.ObjectID) ([]*Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	convs := []*Conversation{}
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// Touch moves updated_at forward to at. Using $max keeps it monotonic when
// concurrent writers race, and makes replays harmless.
func (s *ConversationsStore) Touch(ctx context.Context, id bson.ObjectID, at time.Time) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$max": bson.M{"updated_at": at.UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes one conversation document.
func (s *ConversationsStore) Delete(ctx context.Context, id bson.ObjectID) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
