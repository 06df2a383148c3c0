package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/aodjo/KakaoForge-sub001/internal/carriage"
	"github.com/aodjo/KakaoForge-sub001/internal/directory"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/session"
	"github.com/aodjo/KakaoForge-sub001/internal/rooms"
	"github.com/aodjo/KakaoForge-sub001/internal/upload"
	"golang.org/x/sync/singleflight"
)

var (
	ErrShutdown     = errors.New("client: shut down")
	ErrDisconnected = errors.New("client: disconnect requested")
)

// State is the orchestrator connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithSessionOptions appends session options to every connection the client
// opens, e.g. a custom dialer.
func WithSessionOptions(opts ...session.Option) Option {
	return func(c *Client) { c.sessionOpts = append(c.sessionOpts, opts...) }
}

// Client owns the carriage session, caches, timers and handler registry.
type Client struct {
	cfg         Config
	ident       auth.Identity
	sessionOpts []session.Option

	handlers *registry
	rooms    *rooms.Cache
	members  *rooms.MemberCache
	resolver *rooms.Resolver
	pipeline *rooms.Pipeline
	backoff  *session.Backoff
	connects singleflight.Group

	// runCtx outlives sessions and is cancelled by Shutdown.
	runCtx  context.Context
	stopRun context.CancelFunc
	wg      sync.WaitGroup

	mu             sync.Mutex
	state          State
	carriage       *carriage.Client
	endpoint       directory.Endpoint
	conf           directory.Conf
	connectedAt    time.Time
	lastErr        error
	autoReconnect  bool
	epoch          uint64
	reconnectSeq   uint64
	cancelSession  context.CancelFunc
	reconnectTimer *time.Timer
	refreshTimer   *time.Timer
	closed         bool

	// pendingChangeServer makes the next session loss reconnect at once.
	pendingChangeServer bool
}

func New(cfg Config, cred auth.Credential, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:           cfg,
		ident:         auth.Identity{Credential: cred, Device: cfg.Device},
		handlers:      newRegistry(),
		rooms:         rooms.NewCache(),
		members:       rooms.NewMemberCache(cfg.Members.TTL),
		backoff:       session.NewBackoff(cfg.Reconnect.Backoff),
		autoReconnect: cfg.Reconnect.Enabled,
	}
	c.runCtx, c.stopRun = context.WithCancel(context.Background())
	c.resolver = rooms.NewResolver(c.lookup, c.rooms, c.members, cfg.Members.LookupTimeout)
	c.pipeline = rooms.NewPipeline(c.handleMessage, cfg.Pipeline)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the live carriage client for verbs the orchestrator does
// not wrap.
func (c *Client) Session() (*carriage.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrShutdown
	}
	if c.carriage == nil {
		return nil, protocol.ErrNotReady
	}
	return c.carriage, nil
}

func (c *Client) lookup() rooms.Lookup {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.carriage == nil {
		return nil
	}
	return c.carriage
}

func (c *Client) Room(chatID int64) (rooms.Room, bool) { return c.rooms.Get(chatID) }

func (c *Client) Rooms() []rooms.Room { return c.rooms.Snapshot() }

// MemberName resolves a display name, fetching it when not cached.
func (c *Client) MemberName(ctx context.Context, chatID, userID int64) (string, error) {
	return c.resolver.MemberName(ctx, c.rooms.Aliases().Resolve(chatID), userID)
}

// Transcode returns the transcode profiles from the last GETCONF.
func (c *Client) Transcode() []directory.TranscodeProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]directory.TranscodeProfile(nil), c.conf.Transcode...)
}

// Status is a point-in-time view for passive observers.
type Status struct {
	State            string    `json:"state"`
	Endpoint         string    `json:"endpoint,omitempty"`
	ConnID           string    `json:"conn_id,omitempty"`
	ConnectedAt      time.Time `json:"connected_at,omitzero"`
	ReconnectAttempt int       `json:"reconnect_attempt"`
	AutoReconnect    bool      `json:"auto_reconnect"`
	Rooms            int       `json:"rooms"`
	Members          int       `json:"members"`
	ActiveWorkers    int       `json:"active_workers"`
	RelayHosts       int       `json:"relay_hosts"`
	LastError        string    `json:"last_error,omitempty"`
}

func (c *Client) Status() Status {
	c.mu.Lock()
	st := Status{
		State:         c.state.String(),
		ConnectedAt:   c.connectedAt,
		AutoReconnect: c.autoReconnect,
		RelayHosts:    len(c.conf.RelayHosts) + len(c.conf.RelayHosts6),
	}
	if c.carriage != nil {
		st.Endpoint = c.endpoint.Addr()
		st.ConnID = c.carriage.Conn().ID()
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()
	st.ReconnectAttempt = c.backoff.Attempt()
	st.Rooms = c.rooms.Len()
	st.Members = c.members.Len()
	st.ActiveWorkers = c.pipeline.Active()
	return st
}

// Disconnect closes the session and disables automatic reconnection until
// the next Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.autoReconnect = false
	c.epoch++
	c.stopReconnectLocked()
	cc := c.detachLocked()
	c.state = StateDisconnected
	c.mu.Unlock()
	if cc != nil {
		_ = cc.Close()
		c.handlers.emitDisconnect(nil)
	}
}

// Shutdown releases every timer, worker and socket. The client cannot be
// reused afterwards.
func (c *Client) Shutdown() {
	c.Disconnect()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.mu.Unlock()
	c.stopRun()
	c.pipeline.Close()
	c.wg.Wait()
}

// detachLocked clears the current session and stops its goroutines.
func (c *Client) detachLocked() *carriage.Client {
	cc := c.carriage
	c.carriage = nil
	c.connectedAt = time.Time{}
	if c.cancelSession != nil {
		c.cancelSession()
		c.cancelSession = nil
	}
	return cc
}

func (c *Client) uploader(cc *carriage.Client) *upload.Uploader {
	return upload.New(cc, c.dialTrailer, c.cfg.Upload)
}
