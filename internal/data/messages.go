package data

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// Insert stores a new message and returns it with its id. SeenBy always
// starts as an empty array so later $addToSet updates apply.
func (m *MessagesStore) Insert(ctx context.Context, conversationID, authorID bson.ObjectID, text string) (*Message, error) {
	msg := &Message{
		Conversation: conversationID,
		Author:       authorID,
		Text:         text,
		CreatedAt:    timestamp(),
		SeenBy:       []bson.ObjectID{},
	}

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, err
	}
	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// ListByConversations returns the messages of every listed conversation,
// oldest first.
func (m *MessagesStore) ListByConversations(ctx context.Context, conversationIDs []bson.ObjectID) ([]*Message, error) {
	if len(conversationIDs) == 0 {
		return []*Message{}, nil
	}

	// _id breaks ties between messages written in the same millisecond
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.coll.Find(ctx, bson.M{"conversation": bson.M{"$in": conversationIDs}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	msgs := []*Message{}
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkSeen adds userID to seen_by of every message of the conversation that
// lacks it and returns how many messages changed.
func (m *MessagesStore) MarkSeen(ctx context.Context, conversationID, userID bson.ObjectID) (int64, error) {
	res, err := m.coll.UpdateMany(ctx,
		bson.M{"conversation": conversationID, "seen_by": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"seen_by": userID}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// DeleteByConversation removes all messages owned by a conversation.
func (m *MessagesStore) DeleteByConversation(ctx context.Context, conversationID bson.ObjectID) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, bson.M{"conversation": conversationID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
