package dns

import (
	"sync"

	"guest-dns/pkg/packet"
)

// Queue is the FIFO of finished responses. Any goroutine may Push; the
// device loop is the only consumer.
type Queue struct {
	mu    sync.Mutex
	items []*packet.Datagram
	head  int
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends d
func (q *Queue) Push(d *packet.Datagram) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
}

// Pop removes and returns the oldest entry, or nil when empty
func (q *Queue) Pop() *packet.Datagram {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return nil
	}

	d := q.items[q.head]
	q.items[q.head] = nil
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= 64 && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	return d
}

// Len returns the number of queued entries
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
