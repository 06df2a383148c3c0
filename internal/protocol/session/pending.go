package session

import (
	"sort"
	"sync"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
)

type result struct {
	pkt frame.Packet
	err error
}

// pendingRequest tracks one request awaiting its response. result has room
// for exactly one value; whoever removes the entry from the table delivers it.
type pendingRequest struct {
	id     uint32
	method string
	sentAt time.Time
	result chan result
}

// PendingInfo is a read-only view of an in-flight request.
type PendingInfo struct {
	ID     uint32
	Method string
	SentAt time.Time
}

// pendingTable stores in-flight requests by packet id.
type pendingTable struct {
	mu     sync.Mutex
	items  map[uint32]*pendingRequest
	closed error
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		items: make(map[uint32]*pendingRequest),
	}
}

// register allocates an id not currently in flight and stores a new entry.
func (t *pendingTable) register(next func() uint32, method string, now time.Time) (*pendingRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		return nil, t.closed
	}
	id := next()
	for {
		if _, busy := t.items[id]; !busy {
			break
		}
		id = next()
	}
	p := &pendingRequest{
		id:     id,
		method: method,
		sentAt: now,
		result: make(chan result, 1),
	}
	t.items[id] = p
	return p, nil
}

// resolve hands pkt to the request with the same id. It reports false when
// no request is waiting, which makes pkt a push.
func (t *pendingTable) resolve(pkt frame.Packet) bool {
	t.mu.Lock()
	p, ok := t.items[pkt.ID]
	if ok {
		delete(t.items, pkt.ID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	p.result <- result{pkt: pkt}
	return true
}

// remove drops id and reports whether the caller won the entry.
func (t *pendingTable) remove(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; !ok {
		return false
	}
	delete(t.items, id)
	return true
}

// closeAll rejects every entry with err and refuses new registrations.
func (t *pendingTable) closeAll(err error) int {
	t.mu.Lock()
	items := t.items
	t.items = make(map[uint32]*pendingRequest)
	t.closed = err
	t.mu.Unlock()
	for _, p := range items {
		p.result <- result{err: err}
	}
	return len(items)
}

func (t *pendingTable) list() []PendingInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingInfo, 0, len(t.items))
	for _, p := range t.items {
		out = append(out, PendingInfo{ID: p.id, Method: p.method, SentAt: p.sentAt})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
