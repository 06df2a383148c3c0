package session

import (
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
)

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig selects how the TCP connection is wrapped before any packet.
type TLSConfig struct {
	Enabled            bool
	ServerName         string
	CAFile             string
	InsecureSkipVerify bool
}

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines per-connection transport settings.
type Config struct {
	SecurityMode     SecurityMode
	TLS              TLSConfig
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// RequestTimeout applies when the caller's context carries no deadline.
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	// PushBuffer sizes the Pushes channel. A queued backlog beyond it is
	// logged once until the queue drains.
	PushBuffer int
	Limits     frame.Limits
}

func DefaultConfig() Config {
	return Config{
		SecurityMode:     SecurityModeProduction,
		TLS:              TLSConfig{Enabled: true},
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		RequestTimeout:   15 * time.Second,
		WriteTimeout:     15 * time.Second,
		PushBuffer:       256,
		Limits:           frame.DefaultLimits(),
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.SecurityMode == "" {
		c.SecurityMode = def.SecurityMode
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PushBuffer <= 0 {
		c.PushBuffer = def.PushBuffer
	}
	if c.Limits.MaxBodyBytes == 0 {
		c.Limits = def.Limits
	}
	return c
}

// DefaultBackoff is the reconnect schedule: 1s doubling up to 60s.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     time.Minute,
	}
}
