package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestTasksOwnerScoped(t *testing.T) {
	c := setupDB(t)
	tasks := NewTasksStore(c.TasksCollection())
	ctx := context.Background()

	owner, stranger := bson.NewObjectID(), bson.NewObjectID()

	first, err := tasks.Create(ctx, owner, "write report", "")
	require.NoError(t, err)
	_, err = tasks.Create(ctx, owner, "review PR", "the auth one")
	require.NoError(t, err)

	list, err := tasks.ListByUser(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)

	none, err := tasks.ListByUser(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, none)

	done := true
	updated, err := tasks.Update(ctx, first.ID, owner, TaskUpdate{Completed: &done})
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	assert.Equal(t, "write report", updated.Title)

	_, err = tasks.Update(ctx, first.ID, stranger, TaskUpdate{Completed: &done})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, tasks.Delete(ctx, first.ID, stranger), ErrNotFound)
	require.NoError(t, tasks.Delete(ctx, first.ID, owner))
}
