package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
)

const natsSubjectPrefix = "koomind.room."

// NATS relays room payloads over core NATS subjects, one per room.
type NATS struct {
	conn   *nats.Conn
	logger *log.Logger
}

// NewNATS connects to url and keeps reconnecting for the life of the process.
func NewNATS(url string, logger *log.Logger) (*NATS, error) {
	logger = logger.WithPrefix("broker")
	conn, err := nats.Connect(url,
		nats.Name("koomind-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{conn: conn, logger: logger}, nil
}

func (n *NATS) Publish(_ context.Context, room string, payload []byte) error {
	return n.conn.Publish(natsSubjectPrefix+room, payload)
}

func (n *NATS) Subscribe(_ context.Context, h Handler) error {
	_, err := n.conn.Subscribe(natsSubjectPrefix+"*", func(msg *nats.Msg) {
		h(strings.TrimPrefix(msg.Subject, natsSubjectPrefix), msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	// make sure the server has registered interest before returning
	return n.conn.Flush()
}

func (n *NATS) Ping(context.Context) error {
	if !n.conn.IsConnected() {
		return errors.New("nats: not connected")
	}
	return nil
}

func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
