package broadcast

import (
	"testing"
	"time"
)

// helper: receive one event with a timeout so tests never hang
func recvEvent(t *testing.T, ch <-chan int, within time.Duration) int {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("consumer channel closed unexpectedly")
		}
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return 0 // unreachable
	}
}

func recvNoEvent(t *testing.T, ch <-chan int, within time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			return // closed → no further events possible
		}
		t.Fatalf("expected no event within %v, got %d", within, ev)
	case <-time.After(within):
	}
}

func TestChannel_DeliversInPublishOrder(t *testing.T) {
	b := New[int]()
	c1 := b.Register()
	c2 := b.Register()
	defer c1.Close()
	defer c2.Close()

	for i := 0; i < 100; i++ {
		b.Publish(i)
	}

	for _, c := range []*Consumer[int]{c1, c2} {
		for i := 0; i < 100; i++ {
			got := recvEvent(t, c.Events(), time.Second)
			if got != i {
				t.Fatalf("want %d, got %d", i, got)
			}
		}
		recvNoEvent(t, c.Events(), 50*time.Millisecond)
	}
}

func TestChannel_NoReplayForLateConsumer(t *testing.T) {
	b := New[int]()
	b.Publish(1)

	c := b.Register()
	defer c.Close()

	b.Publish(2)
	if got := recvEvent(t, c.Events(), time.Second); got != 2 {
		t.Fatalf("late consumer should only see post-registration events, got %d", got)
	}
}

func TestChannel_ClosedConsumerStopsReceiving(t *testing.T) {
	b := New[int]()
	c := b.Register()
	c.Close()

	b.Publish(42)
	recvNoEvent(t, c.Events(), 50*time.Millisecond)
	if n := b.Consumers(); n != 0 {
		t.Fatalf("expected 0 registered consumers, got %d", n)
	}
}

func TestChannel_CloseFromConsumerLoop(t *testing.T) {
	b := New[int]()
	c := b.Register()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range c.Events() {
			if ev == 3 {
				c.Close() // shutdown from within the loop must not deadlock
				return
			}
		}
	}()

	for i := 1; i <= 3; i++ {
		b.Publish(i)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("consumer loop did not exit after Close")
	}
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	b := New[int]()
	c := b.Register()
	c.Close()
	c.Close()
}

func TestChannel_PublishDoesNotBlockOnIdleConsumer(t *testing.T) {
	b := New[int]()
	c := b.Register() // never drained until later
	defer c.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on an idle consumer")
	}
}
