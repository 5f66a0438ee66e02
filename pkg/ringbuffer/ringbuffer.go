// Package ringbuffer is the hand-off point between the MQTT delivery goroutine
// and a polling consumer (dashboard, subscriber).
package ringbuffer

import "sync"

// Buffer is a fixed-capacity FIFO. Push never blocks: when full the oldest
// item is dropped and the overflow counter incremented.
// Safe for one producer and one consumer goroutine (or more).
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // index of the oldest item
	size     int
	overflow uint64
	onDrop   func(T)
}

// New returns a buffer holding at most capacity items (minimum 1).
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// OnDrop registers fn, called (outside the lock) for every item evicted by overflow.
func (b *Buffer[T]) OnDrop(fn func(T)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Push appends item. It reports whether an older item was dropped to make room.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	var (
		dropped bool
		old     T
	)
	capacity := len(b.items)
	if b.size == capacity {
		old = b.items[b.head]
		b.items[b.head] = item
		b.head = (b.head + 1) % capacity
		b.overflow++
		dropped = true
	} else {
		b.items[(b.head+b.size)%capacity] = item
		b.size++
	}
	hook := b.onDrop
	b.mu.Unlock()

	if dropped && hook != nil {
		hook(old)
	}
	return dropped
}

// DrainAll empties the buffer and returns its content, oldest first.
// The returned slice is never shared with the buffer.
func (b *Buffer[T]) DrainAll() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	out := make([]T, b.size)
	capacity := len(b.items)
	var zero T
	for i := 0; i < b.size; i++ {
		idx := (b.head + i) % capacity
		out[i] = b.items[idx]
		b.items[idx] = zero
	}
	b.head, b.size = 0, 0
	return out
}

// Len returns the number of items waiting to be drained.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Overflow returns how many items have been dropped since creation.
func (b *Buffer[T]) Overflow() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}
