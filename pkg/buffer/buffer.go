// Package buffer provides a generic, thread-safe ring buffer whose writes
// never block. When full, the overflow policy decides whether the oldest
// queued item or the incoming one is dropped; every drop is counted.
package buffer

// Buffer is a bounded FIFO of T.
type Buffer[T any] interface {
	// Write enqueues item, applying the overflow policy when full.
	// It returns an error only after Close.
	Write(item T) error

	// Read removes the oldest item. The bool is false when empty.
	Read() (T, bool)

	// ReadBatch removes up to max items in FIFO order.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	Size() int
	Capacity() int
	IsFull() bool
	IsEmpty() bool

	// Clear drops every queued item, invoking the drop callback for each.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Notify is signalled after a successful Write. It has capacity one,
	// so a single receive may cover several writes.
	Notify() <-chan struct{}

	// Done is closed by Close.
	Done() <-chan struct{}

	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called, outside the buffer lock, with each dropped item.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring buffer with the given capacity (minimum 1).
// It fails only if metrics were requested and registration failed.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
