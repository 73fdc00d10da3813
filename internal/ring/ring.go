// Package ring provides a growable ring buffer used as a FIFO task queue.
package ring

// Buffer is a ring buffer with variable capacity. Pushing to a full buffer
// doubles the backing storage and linearizes the elements.
//
// Buffer is not safe for concurrent use; callers provide their own locking.
type Buffer[T any] struct {
	items []T
	front int
	back  int
	count int
}

// New creates a ring buffer with the given initial capacity.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Len returns the number of buffered elements.
func (b *Buffer[T]) Len() int { return b.count }

// Cap returns the current capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// PushBack appends v at the back, growing the buffer when full.
func (b *Buffer[T]) PushBack(v T) {
	if b.count == len(b.items) {
		b.grow()
	}
	b.items[b.back] = v
	b.back = (b.back + 1) % len(b.items)
	b.count++
}

// PopFront removes and returns the front element. Reports false when empty.
func (b *Buffer[T]) PopFront() (T, bool) {
	var zero T
	if b.count == 0 {
		return zero, false
	}
	v := b.items[b.front]
	b.items[b.front] = zero
	b.front = (b.front + 1) % len(b.items)
	b.count--
	return v, true
}

// PeekFront returns the front element without removing it.
func (b *Buffer[T]) PeekFront() (T, bool) {
	var zero T
	if b.count == 0 {
		return zero, false
	}
	return b.items[b.front], true
}

// At returns the element at index i in FIFO order (0 = front).
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.count {
		panic("ring: index out of range")
	}
	return b.items[(b.front+i)%len(b.items)]
}

// Clear drops all elements, keeping the capacity.
func (b *Buffer[T]) Clear() {
	var zero T
	for i := 0; i < b.count; i++ {
		b.items[(b.front+i)%len(b.items)] = zero
	}
	b.front, b.back, b.count = 0, 0, 0
}

// grow doubles capacity and linearizes elements to the front.
func (b *Buffer[T]) grow() {
	items := make([]T, len(b.items)*2)
	n := copy(items, b.items[b.front:])
	copy(items[n:], b.items[:b.back])
	b.items = items
	b.front = 0
	b.back = b.count
}
