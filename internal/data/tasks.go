package data

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// TasksStore provides owner-scoped task operations.
type TasksStore struct {
	coll *mongo.Collection
}

func NewTasksStore(coll *mongo.Collection) *TasksStore {
	return &TasksStore{coll: coll}
}

// Create inserts a task owned by userID.
func (s *TasksStore) Create(ctx context.Context, userID bson.ObjectID, title, description string) (*Task, error) {
	now := timestamp()
	task := &Task{
		UserID:      userID,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	result, err := s.coll.InsertOne(ctx, task)
	if err != nil {
		return nil, err
	}
	task.ID = result.InsertedID.(bson.ObjectID)
	return task, nil
}

// ListByUser returns the owner's tasks, newest first.
func (s *TasksStore) ListByUser(ctx context.Context, userID bson.ObjectID) ([]*Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	tasks := []*Task{}
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Update applies the non-nil fields of upd to a task the user owns and
// returns the updated document.
func (s *TasksStore) Update(ctx context.Context, id, userID bson.ObjectID, upd TaskUpdate) (*Task, error) {
	set := bson.M{"updated_at": timestamp()}
	if upd.Title != nil {
		set["title"] = *upd.Title
	}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}
	if upd.Completed != nil {
		set["completed"] = *upd.Completed
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var task Task
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id, "user_id": userID}, bson.M{"$set": set}, opts).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

// Delete removes a task the user owns.
func (s *TasksStore) Delete(ctx context.Context, id, userID bson.ObjectID) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
