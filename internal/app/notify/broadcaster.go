// Package notify fans snapshots out to observers in the order they were published.
package notify

import (
	"sync"

	"github.com/gammazero/deque"
)

// Broadcaster delivers every published value to every subscriber, in order,
// from a single goroutine. Publish never blocks on slow subscribers.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	queue   deque.Deque[T]
	subs    map[int]func(T)
	nextID  int
	wake    chan struct{}
	done    chan struct{}
	closed  bool
	running sync.WaitGroup
}

func New[T any]() *Broadcaster[T] {
	b := &Broadcaster[T]{
		subs: make(map[int]func(T)),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.running.Add(1)
	go b.loop()
	return b
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcaster[T]) Subscribe(fn func(T)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue.PushBack(v)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Close stops delivery after draining what was already published.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.done)
	b.running.Wait()
}

func (b *Broadcaster[T]) loop() {
	defer b.running.Done()
	for {
		b.drain()
		select {
		case <-b.wake:
		case <-b.done:
			b.drain()
			return
		}
	}
}

func (b *Broadcaster[T]) drain() {
	for {
		b.mu.Lock()
		if b.queue.Len() == 0 {
			b.mu.Unlock()
			return
		}
		v := b.queue.PopFront()
		subs := make([]func(T), 0, len(b.subs))
		for _, fn := range b.subs {
			subs = append(subs, fn)
		}
		b.mu.Unlock()
		for _, fn := range subs {
			fn(v)
		}
	}
}
