package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/koomind/koomind-backend/internal/normalize"
)

func TestConversationsCreateFindAndTouch(t *testing.T) {
	c := setupDB(t)
	convs := NewConversationsStore(c.ConversationsCollection())
	ctx := context.Background()

	a, b, x := bson.NewObjectID(), bson.NewObjectID(), bson.NewObjectID()

	private, err := convs.Create(ctx, &Conversation{
		Type:         TypePrivate,
		Participants: []bson.ObjectID{a, b},
		PairKey:      normalize.PairKey(a, b),
	})
	require.NoError(t, err)

	channel, err := convs.Create(ctx, &Conversation{
		Type:         TypeChannel,
		Name:         "team",
		Participants: []bson.ObjectID{a, x},
	})
	require.NoError(t, err)

	// reversed order still matches
	found, err := convs.FindPrivate(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, private.ID, found.ID)

	_, err = convs.FindPrivate(ctx, a, x)
	assert.ErrorIs(t, err, ErrNotFound)

	// the unique pair index rejects a second private conversation
	_, err = convs.Create(ctx, &Conversation{
		Type:         TypePrivate,
		Participants: []bson.ObjectID{b, a},
		PairKey:      normalize.PairKey(b, a),
	})
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, convs.Touch(ctx, private.ID, time.Now().Add(time.Minute)))
	list, err := convs.ListForUser(ctx, a)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, private.ID, list[0].ID, "most recently updated first")
	assert.Equal(t, channel.ID, list[1].ID)

	// $max never moves updated_at backwards
	require.NoError(t, convs.Touch(ctx, private.ID, time.Now().Add(-time.Hour)))
	got, err := convs.GetByID(ctx, private.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(time.Now()))

	assert.ErrorIs(t, convs.Touch(ctx, bson.NewObjectID(), time.Now()), ErrNotFound)

	require.NoError(t, convs.Delete(ctx, channel.ID))
	assert.ErrorIs(t, convs.Delete(ctx, channel.ID), ErrNotFound)
}
