package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/curatorhq/curator/pkg/models"
)

// Handler processes one decoded envelope. Handlers are pure with respect
// to the replica: all state they need arrives via the envelope and the
// clients they close over at construction; they return explicit stats.
//
// A nil error settles (deletes) the message. A non-nil error is mapped
// through the pipeline taxonomy to decide deletion vs. redelivery.
type Handler func(ctx context.Context, env *models.Envelope) (models.StageStats, error)

// SendEnvelope marshals an envelope and enqueues it.
func SendEnvelope(ctx context.Context, q Queue, env *models.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	return q.Send(ctx, body)
}

// Dispatcher routes envelopes to registered operation handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[models.Operation]Handler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[models.Operation]Handler)}
}

// Register binds an operation to its handler.
func (d *Dispatcher) Register(op models.Operation, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[op] = h
}

// Dispatch decodes the message body and invokes the matching handler.
// A body that is not a valid envelope or an unregistered operation
// returns ErrUnknownOperation; the worker deletes such messages.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (models.StageStats, error) {
	var env models.Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		return models.StageStats{}, fmt.Errorf("%w: undecodable body: %v", ErrUnknownOperation, err)
	}
	env.MessageID = msg.ID

	d.mu.RLock()
	h, ok := d.handlers[env.Operation]
	d.mu.RUnlock()
	if !ok {
		return models.StageStats{}, fmt.Errorf("%w: %q", ErrUnknownOperation, env.Operation)
	}
	return h(ctx, &env)
}
