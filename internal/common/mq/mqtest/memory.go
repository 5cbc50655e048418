// Package mqtest provides an in-memory MessageQueue for tests.
package mqtest

import (
	"context"
	"errors"
	"sync"

	"judgeline/internal/common/mq"
)

// Queue records published messages and lets tests deliver messages to
// subscribed handlers synchronously.
type Queue struct {
	mu         sync.Mutex
	published  map[string][]*mq.Message
	handlers   map[string]mq.HandlerFunc
	PublishErr error
}

var _ mq.MessageQueue = (*Queue)(nil)

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		published: make(map[string][]*mq.Message),
		handlers:  make(map[string]mq.HandlerFunc),
	}
}

func (q *Queue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.PublishErr != nil {
		return q.PublishErr
	}
	q.published[topic] = append(q.published[topic], message.Clone())
	return nil
}

func (q *Queue) SubscribeWithOptions(ctx context.Context, topic string, handler mq.HandlerFunc, opts *mq.SubscribeOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = handler
	return nil
}

func (q *Queue) Start() error                   { return nil }
func (q *Queue) Stop() error                    { return nil }
func (q *Queue) Ping(ctx context.Context) error { return nil }
func (q *Queue) Close() error                   { return nil }

// Deliver hands msg to the handler subscribed on topic.
func (q *Queue) Deliver(ctx context.Context, topic string, msg *mq.Message) error {
	q.mu.Lock()
	h, ok := q.handlers[topic]
	q.mu.Unlock()
	if !ok {
		return errors.New("no handler subscribed on " + topic)
	}
	return h(ctx, msg)
}

// Published returns a snapshot of the messages published to topic.
func (q *Queue) Published(topic string) []*mq.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*mq.Message(nil), q.published[topic]...)
}
