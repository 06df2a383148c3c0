package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var ErrNoEndpoint = errors.New("directory: checkin returned no endpoint")

// Client is one booking connection. It is opened per connect attempt and
// closed before the carriage session is dialed.
type Client struct {
	conn  *session.Conn
	ident auth.Identity
}

func Open(ctx context.Context, addr string, cfg session.Config, ident auth.Identity, opts ...session.Option) (*Client, error) {
	opts = append([]session.Option{session.WithRole("booking"), session.WithoutPushes()}, opts...)
	conn, err := session.Dial(ctx, addr, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, ident: ident}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// GetConf fetches the routing document. Transport and status errors are
// returned; body shape problems only produce Conf.Warnings.
func (c *Client) GetConf(ctx context.Context) (Conf, error) {
	d := c.ident.Device
	req := body.NewMapping(
		body.KV("MCCMNC", body.String(d.MCCMNC)),
		body.KV("os", body.String(d.OS)),
		body.KV("model", body.String(d.Model)),
	)
	res, err := c.conn.Call(ctx, protocol.MethodGetConf, req)
	if err != nil {
		return Conf{}, err
	}
	conf := ParseConf(res)
	for _, w := range conf.Warnings {
		log.Warn().Msgf("directory.GetConf %s", w)
	}
	return conf, nil
}

// Checkin resolves the carriage endpoint through the booking server.
func (c *Client) Checkin(ctx context.Context) (Endpoint, error) {
	return checkin(ctx, c.conn, c.ident)
}

// RelayCheckin performs CHECKIN against one relay candidate on its own
// short-lived connection.
func RelayCheckin(ctx context.Context, relay Endpoint, cfg session.Config, ident auth.Identity, opts ...session.Option) (Endpoint, error) {
	opts = append([]session.Option{session.WithRole("ticket"), session.WithoutPushes()}, opts...)
	conn, err := session.Dial(ctx, relay.Addr(), cfg, opts...)
	if err != nil {
		return Endpoint{}, err
	}
	defer conn.Close()
	return checkin(ctx, conn, ident)
}

func checkin(ctx context.Context, conn *session.Conn, ident auth.Identity) (Endpoint, error) {
	d := ident.Device
	req := body.NewMapping(
		body.KV("userId", body.Long(ident.Credential.UserID)),
		body.KV("os", body.String(d.OS)),
		body.KV("ntype", body.Int(int32(d.NetType))),
		body.KV("appVer", body.String(d.AppVersion)),
		body.KV("lang", body.String(d.Language)),
		body.KV("MCCMNC", body.String(d.MCCMNC)),
		body.KV("countryISO", body.String(d.CountryISO)),
		body.KV("useSub", body.Bool(true)),
	)
	res, err := conn.Call(ctx, protocol.MethodCheckin, req)
	if err != nil {
		return Endpoint{}, err
	}
	return parseEndpoint(res)
}

func parseEndpoint(res body.Mapping) (Endpoint, error) {
	host := res.StringOr("host", "")
	if host == "" {
		host = res.StringOr("host6", "")
	}
	port := res.LongOr("port", 0)
	if host == "" || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: host=%q port=%d", ErrNoEndpoint, host, port)
	}
	return Endpoint{Host: host, Port: int(port)}, nil
}
