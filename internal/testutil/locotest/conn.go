package locotest

import (
	"net"
	"sync"

	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
)

// ServerConn is the server side of one accepted connection.
type ServerConn struct {
	srv  *Server
	conn net.Conn

	wmu sync.Mutex

	mu        sync.Mutex
	rawLeft   int64
	rawBuf    []byte
	rawDone   func(data []byte)
	closeOnce sync.Once
}

func (sc *ServerConn) Reply(req frame.Packet, b body.Mapping) {
	sc.ReplyStatus(req, 0, b)
}

func (sc *ServerConn) ReplyStatus(req frame.Packet, status int16, b body.Mapping) {
	sc.write(frame.Packet{ID: req.ID, Status: status, Method: req.Method, Body: b})
}

// Push sends an unsolicited packet.
func (sc *ServerConn) Push(method string, b body.Mapping) {
	sc.write(frame.Packet{ID: 0, Method: method, Body: b})
}

// ExpectRaw switches the read side to raw mode for n bytes; done receives
// them once all have arrived and framing resumes.
func (sc *ServerConn) ExpectRaw(n int64, done func(data []byte)) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.rawLeft = n
	sc.rawBuf = nil
	sc.rawDone = done
	if n == 0 && done != nil {
		sc.rawDone = nil
		go done(nil)
	}
}

func (sc *ServerConn) Close() {
	sc.closeOnce.Do(func() {
		_ = sc.conn.Close()
	})
}

func (sc *ServerConn) write(p frame.Packet) {
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	_ = frame.WritePacket(sc.conn, p, frame.DefaultLimits())
}

func (sc *ServerConn) readLoop() {
	defer sc.Close()
	buf := make([]byte, 32*1024)
	var pending []byte
	for {
		n, err := sc.conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			var ok bool
			pending, ok = sc.drain(pending)
			if !ok {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// drain consumes raw-mode bytes and complete frames from data.
func (sc *ServerConn) drain(data []byte) ([]byte, bool) {
	for len(data) > 0 {
		sc.mu.Lock()
		left := sc.rawLeft
		sc.mu.Unlock()
		if left > 0 {
			take := int64(len(data))
			if take > left {
				take = left
			}
			sc.mu.Lock()
			sc.rawBuf = append(sc.rawBuf, data[:take]...)
			sc.rawLeft -= take
			var done func([]byte)
			var got []byte
			if sc.rawLeft == 0 {
				done, got = sc.rawDone, sc.rawBuf
				sc.rawDone, sc.rawBuf = nil, nil
			}
			sc.mu.Unlock()
			data = data[take:]
			if done != nil {
				done(got)
			}
			continue
		}
		n, pkt, err := frame.Decode(data, frame.DefaultLimits())
		if err != nil {
			return nil, false
		}
		if pkt == nil {
			break
		}
		data = data[n:]
		sc.srv.handle(sc, *pkt)
	}
	return append([]byte(nil), data...), true
}
