package session

import (
	"sync"

	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
)

// pushQueue decouples the read loop from push consumers. put never blocks,
// so responses keep resolving while a consumer is busy.
type pushQueue struct {
	mu     sync.Mutex
	items  []frame.Packet
	notify chan struct{}
	warned bool
}

func newPushQueue() *pushQueue {
	return &pushQueue{notify: make(chan struct{}, 1)}
}

// put appends pkt and reports the backlog length.
func (q *pushQueue) put(pkt frame.Packet) int {
	q.mu.Lock()
	q.items = append(q.items, pkt)
	n := len(q.items)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return n
}

// take waits for the oldest packet. It returns false once done is closed and
// nothing is queued.
func (q *pushQueue) take(done <-chan struct{}) (frame.Packet, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			pkt := q.items[0]
			q.items[0] = frame.Packet{}
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
				q.warned = false
			}
			q.mu.Unlock()
			return pkt, true
		}
		q.mu.Unlock()
		select {
		case <-q.notify:
		case <-done:
			return frame.Packet{}, false
		}
	}
}

// backlogged reports whether n crossed limit for the first time since the
// queue last drained.
func (q *pushQueue) backlogged(n, limit int) bool {
	if n <= limit {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.warned {
		return false
	}
	q.warned = true
	return true
}

func (q *pushQueue) backlog() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
