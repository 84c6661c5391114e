package events

import "sync"

// Event is a dispatched event as delivered through Subscribe.
type Event struct {
	Name string
	Args []any
}

// Subscribe bridges event to a buffered Go channel for consumers running on
// other goroutines. Events are dropped when the buffer is full so a slow
// consumer never blocks the emitting run. The returned func removes the
// listener and closes the channel.
func (c *Channel) Subscribe(event string, buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	var mu sync.Mutex
	closed := false

	remove := c.On(event, func(args ...any) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- Event{Name: event, Args: args}:
		default:
		}
	})

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			remove()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, unsubscribe
}
