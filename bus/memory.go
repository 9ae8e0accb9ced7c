package bus

import (
	"fmt"
	"sync"
)

// memoryQueueDepth bounds each consumer queue. A full mini run emits a few
// thousand events per consumer; publishers block rather than drop when a slow
// consumer falls this far behind, preserving FIFO at-least-once semantics.
const memoryQueueDepth = 65536

type memoryQueue struct {
	bindings []string
	ch       chan Delivery
}

// MemoryBus is an in-process Bus with the same topic semantics as the AMQP
// implementation. It backs `fleetsim run` and the end-to-end tests.
type MemoryBus struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	closed bool
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{queues: make(map[string]*memoryQueue)}
}

// Publish fans the message out to every queue with a matching binding.
func (b *MemoryBus) Publish(routingKey string, body []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("memory bus closed")
	}
	var targets []*memoryQueue
	for _, q := range b.queues {
		for _, pattern := range q.bindings {
			if topicMatch(pattern, routingKey) {
				targets = append(targets, q)
				break
			}
		}
	}
	b.mu.Unlock()

	for _, q := range targets {
		q.ch <- Delivery{RoutingKey: routingKey, Body: body}
	}
	return nil
}

// Consume registers a named queue bound to the given routing keys. Consuming
// the same queue name twice returns the existing channel.
func (b *MemoryBus) Consume(queue string, bindings []string) (<-chan Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("memory bus closed")
	}
	if q, ok := b.queues[queue]; ok {
		return q.ch, nil
	}
	q := &memoryQueue{
		bindings: append([]string(nil), bindings...),
		ch:       make(chan Delivery, memoryQueueDepth),
	}
	b.queues[queue] = q
	return q.ch, nil
}

// Close closes all consumer channels. Publish after Close is an error.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q.ch)
	}
	return nil
}
