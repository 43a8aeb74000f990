package broker

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("broker: bus closed")

// Local delivers synchronously to in-process subscribers.
type Local struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Publish(_ context.Context, room string, payload []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	for _, h := range l.handlers {
		h(room, payload)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.handlers = append(l.handlers, h)
	return nil
}

func (l *Local) Ping(context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handlers = nil
	return nil
}
