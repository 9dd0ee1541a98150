// Package transport carries requests from a UI surface to the background process and broadcast
// events back. Two carriers are provided: Pipe for an in-process background and HTTPClient for a
// background reached over HTTP with events on a server-sent events stream.
package transport

import (
	"sync"

	"github.com/MegaGrindStone/local-chat/internal/models"
)

// Broadcaster is an ordered list of handlers addressed by token. The zero value is ready to use.
type Broadcaster struct {
	mu       sync.Mutex
	next     uint64
	handlers []subscriber
}

type subscriber struct {
	token   uint64
	handler func(models.Event)
}

// Subscribe appends h and returns its disposer. Calling the disposer more than once is a no-op.
func (b *Broadcaster) Subscribe(h func(models.Event)) func() {
	b.mu.Lock()
	b.next++
	token := b.next
	b.handlers = append(b.handlers, subscriber{token: token, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(token) })
	}
}

func (b *Broadcaster) remove(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.handlers {
		if s.token == token {
			// Copy so an in-progress Dispatch keeps iterating over its own snapshot.
			handlers := make([]subscriber, 0, len(b.handlers)-1)
			handlers = append(handlers, b.handlers[:i]...)
			b.handlers = append(handlers, b.handlers[i+1:]...)
			return
		}
	}
}

// Dispatch calls every handler registered at the time of the call, in subscription order.
func (b *Broadcaster) Dispatch(ev models.Event) {
	b.mu.Lock()
	handlers := b.handlers
	b.mu.Unlock()

	for _, s := range handlers {
		s.handler(ev)
	}
}

// Len returns the number of registered handlers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}
