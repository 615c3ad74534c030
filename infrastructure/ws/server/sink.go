package server

import (
	"context"
	"sync"

	"hr-messenger/domain/event"
	"hr-messenger/errors"
)

// Sink buffers the events of one connection until its write pump sends them.
type Sink struct {
	events    chan event.DomainEvent
	closed    chan struct{}
	closeOnce sync.Once
}

func NewSink(bufferSize int) *Sink {
	return &Sink{
		events: make(chan event.DomainEvent, bufferSize),
		closed: make(chan struct{}),
	}
}

// Consume is called by the chat service for pushes and by the connection itself for acks.
// A full buffer blocks until ctx is done.
func (s *Sink) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-s.closed:
		return errors.ErrSessionClosed
	default:
	}
	select {
	case s.events <- e:
		return nil
	case <-s.closed:
		return errors.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close makes every later Consume fail. Buffered events are dropped.
func (s *Sink) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *Sink) Events() <-chan event.DomainEvent {
	return s.events
}

func (s *Sink) Done() <-chan struct{} {
	return s.closed
}
