// Package queue provides the durable queue adapter connecting pipeline
// stages, plus the worker pool that polls, dispatches, and settles
// messages. The Azure Queue Storage implementation is the production
// backend; the in-memory implementation backs tests.
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoMessages indicates a receive returned nothing.
	ErrNoMessages = errors.New("no messages available")

	// ErrUnknownOperation indicates no handler is registered for the
	// message's operation. Such messages are deleted and logged; forward
	// compatibility requires explicit handler registration.
	ErrUnknownOperation = errors.New("unknown operation")
)

// Message is one dequeued message. The pop receipt settles it; the
// dequeue count exposes redelivery for poison detection.
type Message struct {
	ID           string
	PopReceipt   string
	DequeueCount int64
	Body         []byte
}

// Queue is one named durable queue.
type Queue interface {
	// Name returns the queue name.
	Name() string

	// Send enqueues a message body.
	Send(ctx context.Context, body []byte) error

	// Receive dequeues up to max messages, hiding them from other
	// consumers for the visibility timeout. A consumer that does not
	// delete a message within the window lets it reappear.
	Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error)

	// Delete settles a message by id and pop receipt.
	Delete(ctx context.Context, msg Message) error

	// Depth returns the approximate number of visible messages.
	Depth(ctx context.Context) (int, error)
}

// Broker resolves named queues against one backing service.
type Broker interface {
	Queue(name string) Queue
}
