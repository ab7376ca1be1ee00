// Package broadcast provides a one-to-many fan-out channel. Every
// registered consumer owns a private unbounded FIFO queue; a publish is
// copied into each queue without blocking the publisher.
package broadcast

import "sync"

type Channel[T any] struct {
	mu        sync.Mutex
	consumers map[*Consumer[T]]struct{}
}

func New[T any]() *Channel[T] {
	return &Channel[T]{consumers: make(map[*Consumer[T]]struct{})}
}

// Register adds a consumer that receives every subsequent publish.
// Events published before registration are never replayed.
func (b *Channel[T]) Register() *Consumer[T] {
	c := &Consumer[T]{
		ch:   b,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}
	b.mu.Lock()
	b.consumers[c] = struct{}{}
	b.mu.Unlock()
	go c.pump()
	return c
}

// Publish copies ev into every registered queue. Publishes are serialized,
// so all consumers observe events in the same order.
func (b *Channel[T]) Publish(ev T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.consumers {
		c.push(ev)
	}
}

// Consumers reports how many consumers are currently registered.
func (b *Channel[T]) Consumers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.consumers)
}

func (b *Channel[T]) deregister(c *Consumer[T]) {
	b.mu.Lock()
	delete(b.consumers, c)
	b.mu.Unlock()
}

// Consumer is one registered queue. Receive from Events and call Close on
// every exit path; Close is safe to call from inside the consuming loop.
type Consumer[T any] struct {
	ch   *Channel[T]
	once sync.Once
	wake chan struct{}
	done chan struct{}
	out  chan T

	mu  sync.Mutex
	buf []T
}

// Events yields published events in publish order. The channel is closed
// after Close.
func (c *Consumer[T]) Events() <-chan T { return c.out }

// Close deregisters the consumer. Pending undelivered events are dropped.
// Calling Close more than once is a no-op.
func (c *Consumer[T]) Close() {
	c.once.Do(func() {
		c.ch.deregister(c)
		close(c.done)
	})
}

func (c *Consumer[T]) push(ev T) {
	c.mu.Lock()
	c.buf = append(c.buf, ev)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Consumer[T]) pump() {
	defer close(c.out)
	for {
		c.mu.Lock()
		if len(c.buf) == 0 {
			c.mu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.done:
				return
			}
		}
		ev := c.buf[0]
		c.buf = c.buf[1:]
		c.mu.Unlock()
		select {
		case c.out <- ev:
		case <-c.done:
			return
		}
	}
}
