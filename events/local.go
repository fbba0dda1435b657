package events

import "sync"

// LocalNotifier dispatches events inside the current process only.
// It is the fallback when Redis is not configured, and the default in tests.
type LocalNotifier struct {
	mu       sync.RWMutex
	nextId   int
	handlers map[int]Handler
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{handlers: make(map[int]Handler)}
}

func (n *LocalNotifier) Publish(event Event) {
	n.mu.RLock()
	handlers := make([]Handler, 0, len(n.handlers))
	for _, h := range n.handlers {
		handlers = append(handlers, h)
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (n *LocalNotifier) Subscribe(handler Handler) func() {
	n.mu.Lock()
	id := n.nextId
	n.nextId++
	n.handlers[id] = handler
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.handlers, id)
		n.mu.Unlock()
	}
}
