package config

import "github.com/aodjo/KakaoForge-sub001/internal/protocol/session"

func tlsSection(cfg session.TLSConfig) TLSSection {
	return TLSSection{
		Enabled:            cfg.Enabled,
		ServerName:         cfg.ServerName,
		CAFile:             cfg.CAFile,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
}

// ToFile renders cfg in its on-disk layout. Session settings are taken from
// the carriage role; Load applies them to both roles.
func ToFile(cfg Config) FileConfig {
	c := cfg.Client
	sess := c.Carriage
	return FileConfig{
		Directory: DirectorySection{
			Addr: c.BookingAddr,
			TLS:  tlsSection(c.Booking.TLS),
		},
		Carriage: CarriageSection{
			TLS:           tlsSection(c.Carriage.TLS),
			Secure:        c.Handshaker != nil,
			PublicKeyFile: cfg.PublicKeyFile,
			Cipher:        string(cfg.Cipher),
		},
		Session: SessionSection{
			SecurityMode:     string(sess.SecurityMode),
			ConnectTimeout:   sess.ConnectTimeout.String(),
			HandshakeTimeout: sess.HandshakeTimeout.String(),
			RequestTimeout:   sess.RequestTimeout.String(),
			WriteTimeout:     sess.WriteTimeout.String(),
			PushBuffer:       sess.PushBuffer,
			MaxBodyBytes:     sess.Limits.MaxBodyBytes,
		},
		Reconnect: ReconnectSection{
			Enabled:      c.Reconnect.Enabled,
			InitialDelay: c.Reconnect.Backoff.InitialDelay.String(),
			Multiplier:   c.Reconnect.Backoff.Multiplier,
			MaxDelay:     c.Reconnect.Backoff.MaxDelay.String(),
			Jitter:       c.Reconnect.Backoff.Jitter,
		},
		Keepalive: KeepaliveSection{Interval: c.KeepaliveInterval.String()},
		Members: MembersSection{
			TTL:             c.Members.TTL.String(),
			RefreshInterval: c.Members.RefreshInterval.String(),
			LookupTimeout:   c.Members.LookupTimeout.String(),
		},
		Pipeline: PipelineSection{
			QueueSize:   c.Pipeline.QueueSize,
			IdleTimeout: c.Pipeline.IdleTimeout.String(),
		},
		Upload: UploadSection{
			CompletionTimeout: c.Upload.CompletionTimeout.String(),
			ChunkSize:         c.Upload.ChunkSize,
		},
		Network: NetworkSection{
			Type:       c.Device.NetType.String(),
			PreferIPv6: c.PreferIPv6,
		},
		Device: DeviceSection{
			OS:         c.Device.OS,
			AppVersion: c.Device.AppVersion,
			Language:   c.Device.Language,
			MCCMNC:     c.Device.MCCMNC,
			Model:      c.Device.Model,
			CountryISO: c.Device.CountryISO,
		},
		Auth: AuthSection{File: cfg.AuthFile},
		Log: LogSection{
			Level:      cfg.Log.Level.String(),
			Timestamp:  cfg.Log.Timestamp,
			NoColor:    cfg.Log.NoColor,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		},
		Status: StatusSection{
			Addr:        cfg.Status.Addr,
			CorsOrigins: cfg.Status.CorsOrigins,
			Token:       cfg.Status.Token,
		},
	}
}
