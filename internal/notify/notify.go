// Package notify fans events such as achievement unlocks and collection changes out to
// subscribers.
package notify

import (
	"log/slog"
	"sort"
	"sync"
)

// Handler receives events in the order they were published.
type Handler[T any] func(T)

// Dispatcher delivers each published event once to every current subscriber.
type Dispatcher[T any] struct {
	mu     sync.RWMutex
	next   int
	subs   map[int]Handler[T]
	name   string
	logger *slog.Logger
}

// NewDispatcher returns a dispatcher with no subscribers. name labels log lines.
func NewDispatcher[T any](name string, logger *slog.Logger) *Dispatcher[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher[T]{subs: make(map[int]Handler[T]), name: name, logger: logger}
}

// Subscribe registers h and returns a function that removes it. Calling the returned function
// more than once is harmless.
func (d *Dispatcher[T]) Subscribe(h Handler[T]) (cancel func()) {
	d.mu.Lock()
	id := d.next
	d.next++
	d.subs[id] = h
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
		})
	}
}

// Len returns the number of subscribers.
func (d *Dispatcher[T]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Publish calls every subscriber with each event. Subscribers run on the caller's goroutine in
// subscription order; a panicking subscriber is logged and does not stop the others.
func (d *Dispatcher[T]) Publish(events ...T) {
	if len(events) == 0 {
		return
	}
	d.mu.RLock()
	ids := make([]int, 0, len(d.subs))
	for id := range d.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler[T], len(ids))
	for i, id := range ids {
		handlers[i] = d.subs[id]
	}
	d.mu.RUnlock()

	for _, ev := range events {
		for _, h := range handlers {
			d.call(h, ev)
		}
	}
}

func (d *Dispatcher[T]) call(h Handler[T], ev T) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("subscriber panicked", "dispatcher", d.name, "panic", r)
		}
	}()
	h(ev)
}
