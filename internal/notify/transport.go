package notify

import (
	"context"
	"sync"
)

// Transport is the pub/sub primitive channels run over.
type Transport interface {
	// Publish sends payload to every listener on topic and returns how many
	// remote listeners received it. The count is a diagnostic hint only,
	// never used for correctness decisions.
	Publish(ctx context.Context, topic string, payload []byte) (int64, error)

	// Listen delivers topic payloads to handler until ctx ends. handler runs
	// on a transport-owned goroutine and must stay short and non-blocking.
	Listen(ctx context.Context, topic string, handler func(payload []byte))
}

// MemoryTransport is an in-process Transport used by tests and local tooling.
type MemoryTransport struct {
	mu     sync.Mutex
	nextID int
	topics map[string]map[int]func([]byte)
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{topics: make(map[string]map[int]func([]byte))}
}

func (t *MemoryTransport) Publish(_ context.Context, topic string, payload []byte) (int64, error) {
	t.mu.Lock()
	handlers := make([]func([]byte), 0, len(t.topics[topic]))
	for _, h := range t.topics[topic] {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return int64(len(handlers)), nil
}

func (t *MemoryTransport) Listen(ctx context.Context, topic string, handler func([]byte)) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	if t.topics[topic] == nil {
		t.topics[topic] = make(map[int]func([]byte))
	}
	t.topics[topic][id] = handler
	t.mu.Unlock()

	<-ctx.Done()

	t.mu.Lock()
	delete(t.topics[topic], id)
	if len(t.topics[topic]) == 0 {
		delete(t.topics, topic)
	}
	t.mu.Unlock()
}

// NumListeners reports the live listener count for a topic.
func (t *MemoryTransport) NumListeners(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.topics[topic])
}
