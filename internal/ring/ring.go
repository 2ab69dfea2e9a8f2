// Package ring implements a bounded, most-recent-first buffer.
package ring

// Buffer holds at most Cap items ordered newest first. Pushing at the head
// evicts the oldest items beyond the cap. When a key function is set, items
// whose key is already buffered are rejected. An empty key never matches.
//
// Buffer is not safe for concurrent use.
type Buffer[T any] struct {
	items    []T
	capacity int
	key      func(T) string
}

// New returns an empty buffer. A capacity below 1 is treated as 1. key may be
// nil to disable de-duplication.
func New[T any](capacity int, key func(T) string) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		key:      key,
	}
}

// Push inserts item at the head. It returns false when item was rejected as
// a duplicate.
func (b *Buffer[T]) Push(item T) bool {
	if b.contains(item) {
		return false
	}
	if len(b.items) < b.capacity {
		b.items = append(b.items, item)
	}
	copy(b.items[1:], b.items[:len(b.items)-1])
	b.items[0] = item
	return true
}

// Seed replaces the contents with items, which must already be ordered
// newest first. Items beyond the cap and duplicates are dropped.
func (b *Buffer[T]) Seed(items []T) {
	b.items = b.items[:0]
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if len(b.items) == b.capacity {
			break
		}
		if k := b.keyOf(item); k != "" {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		b.items = append(b.items, item)
	}
}

// Items returns a copy of the buffered items, newest first.
func (b *Buffer[T]) Items() []T {
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int { return len(b.items) }

// Cap returns the maximum number of buffered items.
func (b *Buffer[T]) Cap() int { return b.capacity }

func (b *Buffer[T]) keyOf(item T) string {
	if b.key == nil {
		return ""
	}
	return b.key(item)
}

func (b *Buffer[T]) contains(item T) bool {
	k := b.keyOf(item)
	if k == "" {
		return false
	}
	for _, existing := range b.items {
		if b.key(existing) == k {
			return true
		}
	}
	return false
}
