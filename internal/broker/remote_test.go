package broker

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	room    string
	payload string
}

// roundTrip subscribes, publishes one payload and waits for it to come back.
func roundTrip(t *testing.T, bus Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan delivery, 1)
	require.NoError(t, bus.Subscribe(ctx, func(room string, payload []byte) {
		got <- delivery{room, string(payload)}
	}))
	require.NoError(t, bus.Publish(ctx, "65a000000000000000000001", []byte(`{"event":"message"}`)))

	select {
	case d := <-got:
		assert.Equal(t, "65a000000000000000000001", d.room)
		assert.Equal(t, `{"event":"message"}`, d.payload)
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery")
	}
	assert.NoError(t, bus.Ping(ctx))
}

func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	bus, err := NewRedis(context.Background(), url, log.New(io.Discard))
	require.NoError(t, err)
	defer bus.Close()
	roundTrip(t, bus)
}

func TestNATSRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	bus, err := NewNATS(url, log.New(io.Discard))
	require.NoError(t, err)
	defer bus.Close()
	roundTrip(t, bus)
}
