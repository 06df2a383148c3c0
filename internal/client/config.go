package client

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/secure"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/session"
	"github.com/aodjo/KakaoForge-sub001/internal/rooms"
	"github.com/aodjo/KakaoForge-sub001/internal/upload"
)

var (
	ErrBookingAddrRequired  = errors.New("client: booking address required")
	ErrInvalidKeepalive     = errors.New("client: invalid keepalive interval")
	ErrInvalidMemberRefresh = errors.New("client: invalid member refresh settings")
)

// ReconnectConfig controls automatic reconnection after failures.
type ReconnectConfig struct {
	Enabled bool
	Backoff session.BackoffConfig
}

// MemberConfig controls member name caching.
type MemberConfig struct {
	TTL             time.Duration
	RefreshInterval time.Duration
	LookupTimeout   time.Duration
}

type Config struct {
	// BookingAddr is the directory server host:port.
	BookingAddr string
	Device      auth.Device
	PreferIPv6  bool

	// Booking applies to directory and relay connections.
	Booking  session.Config
	Carriage session.Config
	// Handshaker negotiates the carriage record layer; nil sends framed
	// packets directly over TLS.
	Handshaker secure.Handshaker

	Reconnect         ReconnectConfig
	KeepaliveInterval time.Duration
	Members           MemberConfig
	Pipeline          rooms.PipelineConfig
	Upload            upload.Config
}

func DefaultConfig() Config {
	return Config{
		Device:   auth.DefaultDevice(),
		Booking:  session.DefaultConfig(),
		Carriage: session.DefaultConfig(),
		Reconnect: ReconnectConfig{
			Enabled: true,
			Backoff: session.DefaultBackoff(),
		},
		KeepaliveInterval: time.Minute,
		Members: MemberConfig{
			TTL:             10 * time.Minute,
			RefreshInterval: time.Minute,
			LookupTimeout:   3 * time.Second,
		},
		Pipeline: rooms.DefaultPipelineConfig(),
		Upload:   upload.DefaultConfig(),
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Device = c.Device.WithDefaults()
	c.Booking = c.Booking.WithDefaults()
	c.Carriage = c.Carriage.WithDefaults()
	if c.Reconnect.Backoff.InitialDelay <= 0 {
		c.Reconnect.Backoff = def.Reconnect.Backoff
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = def.KeepaliveInterval
	}
	if c.Members.TTL == 0 {
		c.Members.TTL = def.Members.TTL
	}
	if c.Members.RefreshInterval == 0 {
		c.Members.RefreshInterval = def.Members.RefreshInterval
	}
	if c.Members.LookupTimeout == 0 {
		c.Members.LookupTimeout = def.Members.LookupTimeout
	}
	return c
}

func (c Config) Validate() error {
	addr := strings.TrimSpace(c.BookingAddr)
	if addr == "" {
		return ErrBookingAddrRequired
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("client: booking address %q: %w", addr, err)
	}
	if c.KeepaliveInterval < 0 {
		return ErrInvalidKeepalive
	}
	if c.Members.TTL < 0 || c.Members.RefreshInterval < 0 || c.Members.LookupTimeout < 0 {
		return ErrInvalidMemberRefresh
	}
	if err := c.Reconnect.Backoff.Validate(); err != nil {
		return fmt.Errorf("client: reconnect: %w", err)
	}
	if err := c.Booking.ValidateClientTransport(); err != nil {
		return fmt.Errorf("client: booking transport: %w", err)
	}
	if err := c.Carriage.ValidateClientTransport(); err != nil {
		return fmt.Errorf("client: carriage transport: %w", err)
	}
	return nil
}
