// Package eventbus is a small typed publish/subscribe registry.
//
// Handlers run synchronously on the publisher's goroutine, in subscription
// order. A failing or panicking handler is logged and does not stop delivery
// to the others.
package eventbus

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"campusdesk.io/notify/internal/pkg/logger"
)

// Handler receives published events.
type Handler[T any] func(event T)

// Unsubscribe removes a handler. Calling it more than once is a no-op.
type Unsubscribe func()

type entry[T any] struct {
	id      uint64
	handler Handler[T]
}

// Bus routes events of type T to registered handlers.
type Bus[T any] struct {
	name     string
	mu       sync.RWMutex
	nextID   uint64
	handlers []entry[T]
}

// New creates a Bus. name only appears in logs.
func New[T any](name string) *Bus[T] {
	return &Bus[T]{name: name}
}

// Subscribe registers h and returns its removal handle.
func (b *Bus[T]) Subscribe(h Handler[T]) Unsubscribe {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, entry[T]{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.handlers {
		if e.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered handlers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Publish delivers event to every handler registered at call time.
func (b *Bus[T]) Publish(event T) {
	b.mu.RLock()
	handlers := make([]entry[T], len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, e := range handlers {
		b.invoke(e, event)
	}
}

func (b *Bus[T]) invoke(e entry[T], event T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked",
				zap.String("bus", b.name),
				zap.Uint64("handler_id", e.id),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	e.handler(event)
}
