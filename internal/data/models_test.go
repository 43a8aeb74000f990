package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestTimestampHasMillisecondPrecision(t *testing.T) {
	for i := 0; i < 50; i++ {
		ts := timestamp()
		assert.Equal(t, time.UTC, ts.Location())
		assert.Zero(t, ts.Nanosecond()%int(time.Millisecond), "got %v", ts)
	}
}

func TestConversationHasParticipant(t *testing.T) {
	a, b := bson.NewObjectID(), bson.NewObjectID()
	c := &Conversation{Participants: []bson.ObjectID{a}}
	assert.True(t, c.HasParticipant(a))
	assert.False(t, c.HasParticipant(b))
}
