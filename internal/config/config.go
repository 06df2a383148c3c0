package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/aodjo/KakaoForge-sub001/internal/client"
	"github.com/aodjo/KakaoForge-sub001/internal/logging"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/secure"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/session"
)

var ErrAuthFileRequired = errors.New("config: auth file required")

// FileConfig is the on-disk TOML layout. Durations are Go duration strings.
type FileConfig struct {
	Directory DirectorySection `toml:"directory"`
	Carriage  CarriageSection  `toml:"carriage"`
	Session   SessionSection   `toml:"session"`
	Reconnect ReconnectSection `toml:"reconnect"`
	Keepalive KeepaliveSection `toml:"keepalive"`
	Members   MembersSection   `toml:"members"`
	Pipeline  PipelineSection  `toml:"pipeline"`
	Upload    UploadSection    `toml:"upload"`
	Network   NetworkSection   `toml:"network"`
	Device    DeviceSection    `toml:"device"`
	Auth      AuthSection      `toml:"auth"`
	Log       LogSection       `toml:"log"`
	Status    StatusSection    `toml:"status"`
}

type TLSSection struct {
	Enabled            bool   `toml:"enabled"`
	ServerName         string `toml:"server_name"`
	CAFile             string `toml:"ca_file"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type DirectorySection struct {
	Addr string     `toml:"addr"`
	TLS  TLSSection `toml:"tls"`
}

type CarriageSection struct {
	TLS TLSSection `toml:"tls"`
	// Secure enables the record layer negotiated after TLS.
	Secure        bool   `toml:"secure"`
	PublicKeyFile string `toml:"public_key_file"`
	Cipher        string `toml:"cipher"`
}

type SessionSection struct {
	SecurityMode     string `toml:"security_mode"`
	ConnectTimeout   string `toml:"connect_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	RequestTimeout   string `toml:"request_timeout"`
	WriteTimeout     string `toml:"write_timeout"`
	PushBuffer       int    `toml:"push_buffer"`
	MaxBodyBytes     uint32 `toml:"max_body_bytes"`
}

type ReconnectSection struct {
	Enabled      bool    `toml:"enabled"`
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type KeepaliveSection struct {
	Interval string `toml:"interval"`
}

type MembersSection struct {
	TTL             string `toml:"ttl"`
	RefreshInterval string `toml:"refresh_interval"`
	LookupTimeout   string `toml:"lookup_timeout"`
}

type PipelineSection struct {
	QueueSize   int    `toml:"queue_size"`
	IdleTimeout string `toml:"idle_timeout"`
}

type UploadSection struct {
	CompletionTimeout string `toml:"completion_timeout"`
	ChunkSize         int    `toml:"chunk_size"`
}

type NetworkSection struct {
	Type       string `toml:"type"`
	PreferIPv6 bool   `toml:"prefer_ipv6"`
}

type DeviceSection struct {
	OS         string `toml:"os"`
	AppVersion string `toml:"app_version"`
	Language   string `toml:"language"`
	MCCMNC     string `toml:"mccmnc"`
	Model      string `toml:"model"`
	CountryISO string `toml:"country_iso"`
}

type AuthSection struct {
	File string `toml:"file"`
}

type LogSection struct {
	Level      string `toml:"level"`
	Timestamp  bool   `toml:"timestamp"`
	NoColor    bool   `toml:"no_color"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type StatusSection struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

// Config is the resolved runtime configuration for carriagectl.
type Config struct {
	Client   client.Config
	Log      logging.Config
	Status   StatusConfig
	AuthFile string

	// PublicKeyFile and Cipher are kept for round-tripping into a template.
	PublicKeyFile string
	Cipher        secure.Suite
}

// StatusConfig controls the optional HTTP status listener. Empty Addr
// disables it.
type StatusConfig struct {
	Addr        string
	CorsOrigins []string
	Token       string
}

func Default() Config {
	return Config{
		Client: client.DefaultConfig(),
		Log:    logging.DefaultConfig(logging.ProfileRuntime),
		Status: StatusConfig{Addr: "127.0.0.1:9470"},
		Cipher: secure.SuiteGCM,
	}
}

// Load decodes path and overlays every key it defines on Default.
func Load(path string) (Config, error) {
	var raw FileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := resolve(raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode is Load for an in-memory document.
func Decode(data string) (Config, error) {
	var raw FileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	cfg, err := resolve(raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type overlay struct {
	meta toml.MetaData
	err  error
}

func set[T any](o *overlay, dst *T, v T, key ...string) {
	if o.meta.IsDefined(key...) {
		*dst = v
	}
}

func (o *overlay) str(dst *string, v string, key ...string) {
	set(o, dst, strings.TrimSpace(v), key...)
}

func (o *overlay) duration(dst *time.Duration, v string, key ...string) {
	if o.err != nil || !o.meta.IsDefined(key...) {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		o.err = fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
		return
	}
	*dst = d
}

func (o *overlay) tls(dst *session.TLSConfig, v TLSSection, section string) {
	set(o, &dst.Enabled, v.Enabled, section, "tls", "enabled")
	o.str(&dst.ServerName, v.ServerName, section, "tls", "server_name")
	o.str(&dst.CAFile, v.CAFile, section, "tls", "ca_file")
	set(o, &dst.InsecureSkipVerify, v.InsecureSkipVerify, section, "tls", "insecure_skip_verify")
}

// session settings apply to both the booking and carriage roles.
func (o *overlay) session(dst *session.Config, v SessionSection) {
	if o.meta.IsDefined("session", "security_mode") {
		dst.SecurityMode = session.SecurityMode(strings.ToLower(strings.TrimSpace(v.SecurityMode)))
	}
	o.duration(&dst.ConnectTimeout, v.ConnectTimeout, "session", "connect_timeout")
	o.duration(&dst.HandshakeTimeout, v.HandshakeTimeout, "session", "handshake_timeout")
	o.duration(&dst.RequestTimeout, v.RequestTimeout, "session", "request_timeout")
	o.duration(&dst.WriteTimeout, v.WriteTimeout, "session", "write_timeout")
	set(o, &dst.PushBuffer, v.PushBuffer, "session", "push_buffer")
	set(o, &dst.Limits.MaxBodyBytes, v.MaxBodyBytes, "session", "max_body_bytes")
}

func resolve(raw FileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()
	o := &overlay{meta: meta}
	c := &cfg.Client

	o.str(&c.BookingAddr, raw.Directory.Addr, "directory", "addr")
	o.tls(&c.Booking.TLS, raw.Directory.TLS, "directory")
	o.tls(&c.Carriage.TLS, raw.Carriage.TLS, "carriage")
	o.session(&c.Booking, raw.Session)
	o.session(&c.Carriage, raw.Session)

	set(o, &c.Reconnect.Enabled, raw.Reconnect.Enabled, "reconnect", "enabled")
	o.duration(&c.Reconnect.Backoff.InitialDelay, raw.Reconnect.InitialDelay, "reconnect", "initial_delay")
	set(o, &c.Reconnect.Backoff.Multiplier, raw.Reconnect.Multiplier, "reconnect", "multiplier")
	o.duration(&c.Reconnect.Backoff.MaxDelay, raw.Reconnect.MaxDelay, "reconnect", "max_delay")
	set(o, &c.Reconnect.Backoff.Jitter, raw.Reconnect.Jitter, "reconnect", "jitter")

	o.duration(&c.KeepaliveInterval, raw.Keepalive.Interval, "keepalive", "interval")
	o.duration(&c.Members.TTL, raw.Members.TTL, "members", "ttl")
	o.duration(&c.Members.RefreshInterval, raw.Members.RefreshInterval, "members", "refresh_interval")
	o.duration(&c.Members.LookupTimeout, raw.Members.LookupTimeout, "members", "lookup_timeout")
	set(o, &c.Pipeline.QueueSize, raw.Pipeline.QueueSize, "pipeline", "queue_size")
	o.duration(&c.Pipeline.IdleTimeout, raw.Pipeline.IdleTimeout, "pipeline", "idle_timeout")
	o.duration(&c.Upload.CompletionTimeout, raw.Upload.CompletionTimeout, "upload", "completion_timeout")
	set(o, &c.Upload.ChunkSize, raw.Upload.ChunkSize, "upload", "chunk_size")

	if meta.IsDefined("network", "type") {
		c.Device.NetType = auth.ParseNetType(raw.Network.Type)
	}
	set(o, &c.PreferIPv6, raw.Network.PreferIPv6, "network", "prefer_ipv6")
	o.str(&c.Device.OS, raw.Device.OS, "device", "os")
	o.str(&c.Device.AppVersion, raw.Device.AppVersion, "device", "app_version")
	o.str(&c.Device.Language, raw.Device.Language, "device", "language")
	o.str(&c.Device.MCCMNC, raw.Device.MCCMNC, "device", "mccmnc")
	o.str(&c.Device.Model, raw.Device.Model, "device", "model")
	o.str(&c.Device.CountryISO, raw.Device.CountryISO, "device", "country_iso")

	o.str(&cfg.AuthFile, raw.Auth.File, "auth", "file")

	if meta.IsDefined("log", "level") {
		level, ok := logging.ParseLevel(raw.Log.Level)
		if !ok {
			return Config{}, fmt.Errorf("parse log.level: unknown level %q", raw.Log.Level)
		}
		cfg.Log.Level = level
	}
	set(o, &cfg.Log.Timestamp, raw.Log.Timestamp, "log", "timestamp")
	set(o, &cfg.Log.NoColor, raw.Log.NoColor, "log", "no_color")
	o.str(&cfg.Log.File, raw.Log.File, "log", "file")
	set(o, &cfg.Log.MaxSizeMB, raw.Log.MaxSizeMB, "log", "max_size_mb")
	set(o, &cfg.Log.MaxBackups, raw.Log.MaxBackups, "log", "max_backups")
	set(o, &cfg.Log.MaxAgeDays, raw.Log.MaxAgeDays, "log", "max_age_days")

	o.str(&cfg.Status.Addr, raw.Status.Addr, "status", "addr")
	set(o, &cfg.Status.CorsOrigins, raw.Status.CorsOrigins, "status", "cors_origins")
	o.str(&cfg.Status.Token, raw.Status.Token, "status", "token")

	if o.err != nil {
		return Config{}, o.err
	}

	if meta.IsDefined("carriage", "cipher") {
		suite, err := secure.ParseSuite(raw.Carriage.Cipher)
		if err != nil {
			return Config{}, fmt.Errorf("parse carriage.cipher: %w", err)
		}
		cfg.Cipher = suite
	}
	o.str(&cfg.PublicKeyFile, raw.Carriage.PublicKeyFile, "carriage", "public_key_file")
	if raw.Carriage.Secure {
		if cfg.PublicKeyFile == "" {
			return Config{}, fmt.Errorf("carriage.secure requires carriage.public_key_file")
		}
		key, err := secure.LoadPublicKey(cfg.PublicKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("carriage.public_key_file: %w", err)
		}
		c.Handshaker = secure.ClientHandshake{PublicKey: key, Suite: cfg.Cipher}
	}

	cfg.Client = c.WithDefaults()
	return cfg, nil
}

func Validate(cfg Config) error {
	if err := cfg.Client.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.AuthFile) == "" {
		return ErrAuthFileRequired
	}
	if err := ValidateStatus(cfg.Status); err != nil {
		return fmt.Errorf("status invalid: %w", err)
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits must not be negative")
	}
	return nil
}

func ValidateStatus(cfg StatusConfig) error {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("addr %q: %w", addr, err)
	}
	for i, origin := range cfg.CorsOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("cors_origins[%d] is empty", i)
		}
	}
	return nil
}
