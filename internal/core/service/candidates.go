package service

// bounded keeps the newest limit items. Used to hold ICE candidates that
// arrive before the remote description they belong to.
type bounded[T any] struct {
	limit   int
	items   []T
	dropped int
}

func newBounded[T any](limit int) *bounded[T] {
	if limit <= 0 {
		limit = 1
	}
	return &bounded[T]{limit: limit}
}

func (b *bounded[T]) push(v T) {
	if len(b.items) == b.limit {
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
		b.dropped++
	}
	b.items = append(b.items, v)
}

// drain returns the buffered items oldest first and empties the buffer.
func (b *bounded[T]) drain() []T {
	out := b.items
	b.items = nil
	return out
}

func (b *bounded[T]) len() int {
	return len(b.items)
}
