// Package locotest runs an in-process wire-protocol server for tests.
package locotest

import (
	"crypto/rsa"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/secure"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/session"
	"github.com/aodjo/KakaoForge-sub001/internal/testutil/tlstest"
	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one request. It runs on the connection's read loop, so
// it must not block; reply from a goroutine to simulate a slow peer.
type HandlerFunc func(sc *ServerConn, req frame.Packet)

type Options struct {
	TLS    bool
	Secure bool
}

type Server struct {
	t      testing.TB
	ln     net.Listener
	tlsCfg *tls.Config
	caFile string
	rsaKey *rsa.PrivateKey

	mu       sync.Mutex
	closed   bool
	handlers map[string]HandlerFunc
	requests []frame.Packet
	conns    []*ServerConn

	accepted chan *ServerConn
	wg       sync.WaitGroup
}

func Start(t testing.TB, opts Options) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{
		t:        t,
		ln:       ln,
		handlers: make(map[string]HandlerFunc),
		accepted: make(chan *ServerConn, 16),
	}
	if opts.TLS {
		ca := tlstest.NewAuthority(t, "locotest-ca")
		s.tlsCfg = ca.ServerConfig(t, "localhost", "127.0.0.1")
		s.caFile = ca.CAFile()
	}
	if opts.Secure {
		s.rsaKey, _ = tlstest.RSAKey(t)
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// SessionConfig returns a client config that trusts this server.
func (s *Server) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.ConnectTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.RequestTimeout = 2 * time.Second
	if s.tlsCfg == nil {
		cfg.SecurityMode = session.SecurityModeDevelopment
		cfg.TLS = session.TLSConfig{}
		return cfg
	}
	cfg.TLS = session.TLSConfig{Enabled: true, CAFile: s.caFile}
	return cfg
}

// PublicKey is the RSA key clients encrypt the record key to.
func (s *Server) PublicKey() *rsa.PublicKey {
	if s.rsaKey == nil {
		return nil
	}
	return &s.rsaKey.PublicKey
}

func (s *Server) Handshaker(suite secure.Suite) secure.Handshaker {
	return secure.ClientHandshake{PublicKey: s.PublicKey(), Suite: suite}
}

func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Reply registers a handler that answers method with a fixed body.
func (s *Server) Reply(method string, b body.Mapping) {
	s.Handle(method, func(sc *ServerConn, req frame.Packet) {
		sc.Reply(req, b)
	})
}

// Requests returns every request received for method, across connections.
func (s *Server) Requests(method string) []frame.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []frame.Packet
	for _, p := range s.requests {
		if p.Method == method {
			out = append(out, p)
		}
	}
	return out
}

// WaitConn returns the next accepted connection.
func (s *Server) WaitConn(timeout time.Duration) (*ServerConn, error) {
	select {
	case sc := <-s.accepted:
		return sc, nil
	case <-time.After(timeout):
		return nil, errors.New("locotest: no connection accepted")
	}
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	s.closed = true
	conns := append([]*ServerConn(nil), s.conns...)
	s.mu.Unlock()
	for _, sc := range conns {
		sc.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		raw, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serve(raw)
	}
}

func (s *Server) serve(raw net.Conn) {
	defer s.wg.Done()
	var conn net.Conn = raw
	_ = raw.SetDeadline(time.Now().Add(5 * time.Second))
	if s.tlsCfg != nil {
		tlsConn := tls.Server(raw, s.tlsCfg)
		if err := tlsConn.Handshake(); err != nil {
			_ = raw.Close()
			return
		}
		conn = tlsConn
	}
	if s.rsaKey != nil {
		sec, err := secure.Accept(conn, s.rsaKey)
		if err != nil {
			log.Debug().Msgf("locotest accept secure err=%v", err)
			_ = conn.Close()
			return
		}
		conn = sec
	}
	_ = raw.SetDeadline(time.Time{})
	sc := &ServerConn{srv: s, conn: conn}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns = append(s.conns, sc)
	s.mu.Unlock()
	select {
	case s.accepted <- sc:
	default:
	}
	sc.readLoop()
}

func (s *Server) handle(sc *ServerConn, req frame.Packet) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	h := s.handlers[req.Method]
	s.mu.Unlock()
	if h != nil {
		h(sc, req)
	}
}
