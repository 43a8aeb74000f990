// Package broker fans room payloads out across gateway instances. Every
// instance publishes the frames it produces and delivers whatever it
// receives to its local sockets, so a single instance simply loops back.
package broker

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/koomind/koomind-backend/internal/config"
)

// Handler receives a payload published to room.
type Handler func(room string, payload []byte)

// Bus is a room-addressed publish/subscribe channel.
type Bus interface {
	Publish(ctx context.Context, room string, payload []byte) error
	// Subscribe registers h for payloads of every room. Delivery stops
	// when the bus is closed.
	Subscribe(ctx context.Context, h Handler) error
	// Ping reports whether the backing transport is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// New builds the bus selected by cfg.Broker.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (Bus, error) {
	switch cfg.Broker {
	case config.BrokerLocal, "":
		return NewLocal(), nil
	case config.BrokerRedis:
		return NewRedis(ctx, cfg.RedisURL, logger)
	case config.BrokerNATS:
		return NewNATS(cfg.NATSURL, logger)
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}
