package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/observability"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/secure"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrAlreadyConnected = errors.New("session: connect called twice")

// DialFunc opens the raw transport connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Option func(*Conn)

// WithRole labels the connection in logs and metrics ("booking", "ticket",
// "carriage", "trailer").
func WithRole(role string) Option {
	return func(c *Conn) { c.role = role }
}

// WithHandshaker installs the post-TLS record layer negotiation.
func WithHandshaker(h secure.Handshaker) Option {
	return func(c *Conn) { c.handshaker = h }
}

// WithDialer replaces the TCP dialer.
func WithDialer(d DialFunc) Option {
	return func(c *Conn) { c.dial = d }
}

// WithoutPushes discards unsolicited packets instead of queueing them. Used
// for short-lived connections that never read Pushes.
func WithoutPushes() Option {
	return func(c *Conn) { c.discardPushes = true }
}

// Conn is one framed connection with request correlation.
type Conn struct {
	id            string
	role          string
	cfg           Config
	handshaker    secure.Handshaker
	dial          DialFunc
	discardPushes bool

	mu      sync.Mutex
	state   State
	addr    string
	netConn net.Conn
	waiters map[string][]chan frame.Packet
	err     error

	stream  *frame.Stream
	pending *pendingTable
	wmu     sync.Mutex

	queue     *pushQueue
	pushes    chan frame.Packet
	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config, opts ...Option) *Conn {
	cfg = cfg.WithDefaults()
	c := &Conn{
		id:      uuid.NewString(),
		role:    "session",
		cfg:     cfg,
		stream:  frame.NewStream(cfg.Limits),
		pending: newPendingTable(),
		queue:   newPushQueue(),
		waiters: make(map[string][]chan frame.Packet),
		pushes:  make(chan frame.Packet, cfg.PushBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		d := &net.Dialer{Timeout: cfg.ConnectTimeout}
		c.dial = d.DialContext
	}
	return c
}

// Dial creates a Conn and connects it to addr.
func Dial(ctx context.Context, addr string, cfg Config, opts ...Option) (*Conn, error) {
	c := New(cfg, opts...)
	if err := c.Connect(ctx, addr); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect performs TCP, TLS and the optional record-layer handshake, then
// starts the read loop. Every failure is reported as ErrHandshakeFailed.
func (c *Conn) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.addr = addr
	c.mu.Unlock()

	if err := c.cfg.ValidateClientTransport(); err != nil {
		c.failConnect(err)
		return fmt.Errorf("%w: %s %s: %w", protocol.ErrHandshakeFailed, c.role, addr, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout+c.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := c.establish(ctx, addr)
	if err != nil {
		c.failConnect(err)
		log.Warn().Str("conn", c.id).Msgf("session.Conn connect role=%s addr=%q err=%v", c.role, addr, err)
		return fmt.Errorf("%w: %s %s: %w", protocol.ErrHandshakeFailed, c.role, addr, err)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: %s %s: closed while connecting", protocol.ErrHandshakeFailed, c.role, addr)
	}
	c.netConn = conn
	c.state = StateReady
	c.mu.Unlock()

	observability.TrackConnection(c.role, 1)
	log.Debug().Str("conn", c.id).Msgf("session.Conn ready role=%s addr=%q", c.role, addr)
	go c.pumpPushes()
	go c.readLoop(conn)
	return nil
}

func (c *Conn) establish(ctx context.Context, addr string) (net.Conn, error) {
	raw, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	conn := raw
	if c.cfg.TLS.Enabled {
		tlsCfg, err := c.cfg.ClientTLSConfig(addr)
		if err != nil {
			_ = raw.Close()
			return nil, err
		}
		tlsConn := tls.Client(raw, tlsCfg)
		hsCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		err = tlsConn.HandshakeContext(hsCtx)
		cancel()
		if err != nil {
			_ = raw.Close()
			return nil, err
		}
		conn = tlsConn
	}
	if c.handshaker != nil {
		hsCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		wrapped, err := c.handshaker.Handshake(hsCtx, conn)
		cancel()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn = wrapped
	}
	return conn, nil
}

func (c *Conn) failConnect(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.shutdown(fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, err), nil)
}

func (c *Conn) ID() string   { return c.id }
func (c *Conn) Role() string { return c.role }

func (c *Conn) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pushes delivers packets that matched no pending request or subscription,
// in arrival order. Packets wait in an unbounded queue until read, so a slow
// reader never delays responses. It is closed after the connection shuts
// down.
func (c *Conn) Pushes() <-chan frame.Packet { return c.pushes }

// PushBacklog counts pushes received but not yet handed to Pushes.
func (c *Conn) PushBacklog() int { return c.queue.backlog() }

// Done is closed exactly once, when the connection reaches StateClosed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection closed, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pending lists in-flight requests.
func (c *Conn) Pending() []PendingInfo { return c.pending.list() }

// Request sends method with b and waits for the response carrying the same
// packet id. When ctx has no deadline, Config.RequestTimeout applies. A
// timeout removes only this request; the connection stays open.
func (c *Conn) Request(ctx context.Context, method string, b body.Mapping) (frame.Packet, error) {
	if st := c.State(); st != StateReady {
		if st >= StateClosing {
			return frame.Packet{}, fmt.Errorf("%w: %s", protocol.ErrConnectionClosed, method)
		}
		return frame.Packet{}, fmt.Errorf("%w: %s state=%s", protocol.ErrNotReady, method, st)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	p, err := c.pending.register(c.stream.NextID, method, start)
	if err != nil {
		return frame.Packet{}, err
	}
	data, err := frame.Encode(frame.Packet{ID: p.id, Method: method, BodyType: frame.BodyTypeBSON, Body: b}, c.cfg.Limits)
	if err != nil {
		c.pending.remove(p.id)
		return frame.Packet{}, err
	}
	if err := c.write(data); err != nil {
		if c.pending.remove(p.id) {
			c.shutdown(fmt.Errorf("%w: write %s: %w", protocol.ErrConnectionClosed, method, err), err)
			observability.RecordRequest(c.role, method, "write_error", time.Since(start))
			return frame.Packet{}, fmt.Errorf("%w: write %s: %w", protocol.ErrConnectionClosed, method, err)
		}
		r := <-p.result
		return r.pkt, r.err
	}

	select {
	case r := <-p.result:
		outcome := "ok"
		if r.err != nil {
			outcome = "closed"
		}
		observability.RecordRequest(c.role, method, outcome, time.Since(start))
		return r.pkt, r.err
	case <-ctx.Done():
		if !c.pending.remove(p.id) {
			r := <-p.result
			return r.pkt, r.err
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			observability.RecordRequest(c.role, method, "timeout", time.Since(start))
			log.Debug().Str("conn", c.id).Msgf("session.Conn request timeout role=%s method=%s id=%d", c.role, method, p.id)
			return frame.Packet{}, fmt.Errorf("%w: %s id=%d after %s", protocol.ErrRequestTimeout, method, p.id, time.Since(start).Round(time.Millisecond))
		}
		observability.RecordRequest(c.role, method, "canceled", time.Since(start))
		return frame.Packet{}, ctx.Err()
	}
}

// Call is Request followed by CheckStatus; it returns the response body.
func (c *Conn) Call(ctx context.Context, method string, b body.Mapping) (body.Mapping, error) {
	pkt, err := c.Request(ctx, method, b)
	if err != nil {
		return nil, err
	}
	if err := CheckStatus(pkt); err != nil {
		return pkt.Body, err
	}
	return pkt.Body, nil
}

// CheckStatus reports a RemoteStatusError when the header status or the body
// "status" field is non-zero.
func CheckStatus(pkt frame.Packet) error {
	if pkt.Status != 0 {
		return protocol.RemoteStatus(pkt.Method, int(pkt.Status))
	}
	if v, ok := pkt.Body.Get("status"); ok && !v.IsNull() {
		code, err := v.AsLong()
		if err != nil {
			return protocol.NewDecodeError(fmt.Errorf("%s status: %w", pkt.Method, err))
		}
		if code != 0 {
			return protocol.RemoteStatus(pkt.Method, int(code))
		}
	}
	return nil
}

// Send writes a packet without waiting for a response.
func (c *Conn) Send(method string, b body.Mapping) error {
	if st := c.State(); st != StateReady {
		return fmt.Errorf("%w: %s", protocol.ErrConnectionClosed, method)
	}
	data, err := frame.Encode(frame.Packet{ID: c.stream.NextID(), Method: method, BodyType: frame.BodyTypeBSON, Body: b}, c.cfg.Limits)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Subscribe registers a one-shot waiter for the next push named method. The
// waiter takes precedence over Pushes. The returned channel is closed without
// a value if the connection shuts down or cancel is called first.
func (c *Conn) Subscribe(method string) (<-chan frame.Packet, func()) {
	ch := make(chan frame.Packet, 1)
	c.mu.Lock()
	if c.state >= StateClosing {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.waiters[method] = append(c.waiters[method], ch)
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.waiters[method]
		for i, w := range list {
			if w == ch {
				c.waiters[method] = append(list[:i], list[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// WriteRaw writes p to the connection outside packet framing. The upload
// stream uses it after POST.
func (c *Conn) WriteRaw(p []byte) error {
	if st := c.State(); st != StateReady {
		return protocol.ErrConnectionClosed
	}
	return c.write(p)
}

func (c *Conn) write(data []byte) error {
	c.mu.Lock()
	conn := c.netConn
	c.mu.Unlock()
	if conn == nil {
		return protocol.ErrConnectionClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	_, err := conn.Write(data)
	return err
}

// Close tears the connection down and rejects pending requests.
func (c *Conn) Close() error {
	c.shutdown(fmt.Errorf("%w: closed locally", protocol.ErrConnectionClosed), nil)
	return nil
}

func (c *Conn) readLoop(conn net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pkts, ferr := c.stream.Feed(buf[:n])
			for _, pkt := range pkts {
				c.dispatch(pkt)
			}
			if ferr != nil {
				log.Error().Str("conn", c.id).Msgf("session.Conn decode role=%s err=%v", c.role, ferr)
				c.shutdown(fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, ferr), ferr)
				return
			}
		}
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, err), err)
			return
		}
	}
}

func (c *Conn) dispatch(pkt frame.Packet) {
	if c.pending.resolve(pkt) {
		return
	}
	c.mu.Lock()
	if list := c.waiters[pkt.Method]; len(list) > 0 {
		w := list[0]
		c.waiters[pkt.Method] = list[1:]
		c.mu.Unlock()
		w <- pkt
		close(w)
		return
	}
	c.mu.Unlock()

	observability.RecordPush(c.role, pkt.Method)
	if c.discardPushes {
		log.Debug().Str("conn", c.id).Msgf("session.Conn discard push role=%s method=%s", c.role, pkt.Method)
		return
	}
	if n := c.queue.put(pkt); c.queue.backlogged(n, c.cfg.PushBuffer) {
		log.Warn().Str("conn", c.id).Msgf("session.Conn push backlog role=%s queued=%d", c.role, n)
	}
}

// pumpPushes moves queued pushes onto the Pushes channel until shutdown.
func (c *Conn) pumpPushes() {
	defer close(c.pushes)
	for {
		pkt, ok := c.queue.take(c.done)
		if !ok {
			return
		}
		select {
		case c.pushes <- pkt:
		case <-c.done:
			return
		}
	}
}

// shutdown runs once. cause, when non-nil, is recorded as Err.
func (c *Conn) shutdown(closeErr error, cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasReady := c.state == StateReady
		c.state = StateClosing
		if c.err == nil {
			if cause != nil {
				c.err = cause
			} else {
				c.err = closeErr
			}
		}
		conn := c.netConn
		waiters := c.waiters
		c.waiters = make(map[string][]chan frame.Packet)
		c.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
		rejected := c.pending.closeAll(closeErr)
		for _, list := range waiters {
			for _, w := range list {
				close(w)
			}
		}

		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		if wasReady {
			observability.TrackConnection(c.role, -1)
		}
		if conn == nil {
			close(c.pushes)
		}
		close(c.done)
		log.Debug().Str("conn", c.id).Msgf("session.Conn closed role=%s rejected=%d err=%v", c.role, rejected, closeErr)
	})
}
