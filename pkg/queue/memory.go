package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryBroker is an in-memory Broker for tests and local development.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*MemoryQueue
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*MemoryQueue)}
}

// Queue returns the named queue, creating it on first use.
func (b *MemoryBroker) Queue(name string) Queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = NewMemoryQueue(name)
		b.queues[name] = q
	}
	return q
}

type memoryMessage struct {
	id           string
	body         []byte
	dequeueCount int64
	invisibleTil time.Time
	popReceipt   string
}

// MemoryQueue simulates a visibility-timeout queue in memory, including
// redelivery of messages whose consumers never delete them.
type MemoryQueue struct {
	name string

	mu       sync.Mutex
	messages []*memoryMessage
	seq      int

	// now is swappable so tests can force visibility expiry.
	now func() time.Time
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{name: name, now: time.Now}
}

// Name returns the queue name.
func (q *MemoryQueue) Name() string { return q.name }

// Send enqueues a copy of body.
func (q *MemoryQueue) Send(_ context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	buf := make([]byte, len(body))
	copy(buf, body)
	q.messages = append(q.messages, &memoryMessage{
		id:   "mem-" + strconv.Itoa(q.seq),
		body: buf,
	})
	return nil
}

// Receive returns up to max visible messages and hides them for the
// visibility window. Each delivery rotates the pop receipt so a stale
// receipt from a previous delivery cannot settle the message.
func (q *MemoryQueue) Receive(_ context.Context, max int, visibility time.Duration) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Message
	for _, m := range q.messages {
		if len(out) >= max {
			break
		}
		if now.Before(m.invisibleTil) {
			continue
		}
		m.dequeueCount++
		m.invisibleTil = now.Add(visibility)
		m.popReceipt = m.id + "-r" + strconv.FormatInt(m.dequeueCount, 10)
		out = append(out, Message{
			ID:           m.id,
			PopReceipt:   m.popReceipt,
			DequeueCount: m.dequeueCount,
			Body:         append([]byte(nil), m.body...),
		})
	}
	return out, nil
}

// Delete settles a message; a stale pop receipt is ignored.
func (q *MemoryQueue) Delete(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.messages {
		if m.id == msg.ID && m.popReceipt == msg.PopReceipt {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}
	return nil
}

// Depth counts currently visible messages.
func (q *MemoryQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	depth := 0
	for _, m := range q.messages {
		if !now.Before(m.invisibleTil) {
			depth++
		}
	}
	return depth, nil
}

// SetClock swaps the time source. Test hook.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}
