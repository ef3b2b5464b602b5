// Package history provides the bounded FIFO buffer backing both the room
// history and each session's personal history.
//
// The buffer is intentionally not synchronized: every mutation happens on
// the chat hub goroutine, which serializes all chat state access.
package history

// Buffer is a fixed-capacity FIFO of chat lines. When full, adding a new
// line evicts the oldest one. A capacity of 0 means unbounded.
type Buffer struct {
	capacity int
	entries  []string
}

// New creates a Buffer with the given capacity. capacity <= 0 is treated
// as unbounded.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{capacity: capacity}
}

// Add appends a line, evicting the oldest entry first if the buffer is at
// capacity.
func (b *Buffer) Add(line string) {
	if b.capacity > 0 && len(b.entries) == b.capacity {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
	}
	b.entries = append(b.entries, line)
}

// Snapshot returns the buffered lines in insertion order, oldest first.
// The returned slice is a copy; callers may retain it across later Adds.
func (b *Buffer) Snapshot() []string {
	out := make([]string, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Capacity returns the configured capacity (0 = unbounded).
func (b *Buffer) Capacity() int {
	return b.capacity
}
