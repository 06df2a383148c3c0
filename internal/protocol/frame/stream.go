package frame

import (
	"math"
	"sync"
)

// Stream reassembles packets from arbitrarily chunked bytes and owns the
// outgoing packet id counter for one connection.
type Stream struct {
	limits Limits

	mu  sync.Mutex
	buf []byte
	err error

	idMu   sync.Mutex
	nextID uint32
}

func NewStream(limits Limits) *Stream {
	return &Stream{limits: limits.withDefaults()}
}

// Feed appends chunk and returns every packet completed by it, in arrival
// order. A decode error poisons the stream; later calls return it again.
func (s *Stream) Feed(chunk []byte) ([]Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.buf = append(s.buf, chunk...)

	var out []Packet
	off := 0
	for {
		n, p, err := Decode(s.buf[off:], s.limits)
		if err != nil {
			s.err = err
			s.buf = nil
			return out, err
		}
		if p == nil {
			break
		}
		out = append(out, *p)
		off += n
	}
	if off > 0 {
		n := copy(s.buf, s.buf[off:])
		s.buf = s.buf[:n]
	}
	return out, nil
}

// Buffered reports how many bytes are waiting for the rest of their frame.
func (s *Stream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// NextID returns the next outgoing packet id. Ids start at 1 and wrap back
// to 1 after math.MaxInt32 so they stay positive for peers reading them signed.
func (s *Stream) NextID() uint32 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	if s.nextID >= math.MaxInt32 {
		s.nextID = 0
	}
	s.nextID++
	return s.nextID
}
