package client

import (
	"context"
	"fmt"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/carriage"
	"github.com/aodjo/KakaoForge-sub001/internal/directory"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// maxChatListPages bounds LCHATLIST paging after login.
const maxChatListPages = 32

// Connect establishes the carriage session. Concurrent callers share one
// attempt. A pending reconnect is cancelled and the attempt starts now.
// Connect re-enables automatic reconnection after Disconnect or KICKOUT.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShutdown
	}
	c.autoReconnect = c.cfg.Reconnect.Enabled
	c.stopReconnectLocked()
	if c.carriage != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.connectShared(ctx)
}

func (c *Client) connectShared(ctx context.Context) error {
	ch := c.connects.DoChan("connect", func() (any, error) {
		return nil, c.connectOnce(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShutdown
	}
	if c.carriage != nil {
		c.mu.Unlock()
		return nil
	}
	epoch := c.epoch
	c.state = StateConnecting
	c.mu.Unlock()

	started := time.Now()
	ep, err := c.resolve(ctx)
	if err != nil {
		return c.connectFailed(epoch, err)
	}
	cc, err := carriage.Dial(ctx, ep.Addr(), c.cfg.Carriage, c.ident, c.carriageOpts()...)
	if err != nil {
		return c.connectFailed(epoch, fmt.Errorf("%w: carriage %s: %w", protocol.ErrHandshakeFailed, ep, err))
	}
	login, err := cc.Login(ctx)
	if err != nil {
		_ = cc.Close()
		return c.connectFailed(epoch, fmt.Errorf("%w: login: %w", protocol.ErrHandshakeFailed, err))
	}
	c.applyLogin(ctx, cc, login)
	c.syncOpenLinks(ctx, cc)

	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		_ = cc.Close()
		return ErrDisconnected
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	c.carriage = cc
	c.endpoint = ep
	c.state = StateConnected
	c.connectedAt = time.Now()
	c.lastErr = nil
	c.cancelSession = cancel
	c.wg.Add(2)
	go c.pushLoop(sessCtx, cc)
	go c.keepalive(sessCtx, cc)
	c.scheduleRefreshLocked()
	c.mu.Unlock()

	c.backoff.Reset()
	log.Info().Msgf(
		"client.Connect ready endpoint=%s conn=%s user=%d rooms=%d elapsed=%s",
		ep,
		cc.Conn().ID(),
		login.UserID,
		c.rooms.Len(),
		time.Since(started).Round(time.Millisecond),
	)
	c.handlers.emitReady()
	return nil
}

func (c *Client) connectFailed(epoch uint64, err error) error {
	log.Warn().Msgf("client.Connect failed attempt=%d err=%v", c.backoff.Attempt()+1, err)
	c.mu.Lock()
	c.lastErr = err
	if c.epoch == epoch && c.carriage == nil {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	c.handlers.emitError(err)
	c.scheduleReconnect("connect_failed")
	return err
}

// resolve finds the carriage endpoint. The booking connection is closed
// before this returns.
func (c *Client) resolve(ctx context.Context) (directory.Endpoint, error) {
	dir, err := directory.Open(ctx, c.cfg.BookingAddr, c.cfg.Booking, c.ident, c.sessionOpts...)
	if err != nil {
		return directory.Endpoint{}, fmt.Errorf("%w: booking %s: %w", protocol.ErrHandshakeFailed, c.cfg.BookingAddr, err)
	}
	defer dir.Close()

	conf, err := dir.GetConf(ctx)
	if err != nil {
		log.Warn().Msgf("client.resolve getconf failed booking=%s err=%v", c.cfg.BookingAddr, err)
	} else {
		c.mu.Lock()
		c.conf = conf
		c.mu.Unlock()
		for _, relay := range conf.RelayCandidates(c.ident.Device.NetType, c.cfg.PreferIPv6) {
			ep, err := directory.RelayCheckin(ctx, relay, c.cfg.Booking, c.ident, c.sessionOpts...)
			if err == nil {
				log.Debug().Msgf("client.resolve relay=%s endpoint=%s", relay, ep)
				return ep, nil
			}
			log.Warn().Msgf("client.resolve relay checkin failed relay=%s err=%v", relay, err)
		}
	}

	ep, err := dir.Checkin(ctx)
	if err != nil {
		return directory.Endpoint{}, fmt.Errorf("%w: checkin: %w", protocol.ErrHandshakeFailed, err)
	}
	log.Debug().Msgf("client.resolve booking checkin endpoint=%s", ep)
	return ep, nil
}

func (c *Client) carriageOpts() []session.Option {
	opts := append([]session.Option(nil), c.sessionOpts...)
	if c.cfg.Handshaker != nil {
		opts = append(opts, session.WithHandshaker(c.cfg.Handshaker))
	}
	return opts
}

func (c *Client) dialTrailer(ctx context.Context, ep directory.Endpoint) (*carriage.Client, error) {
	opts := append(c.carriageOpts(), session.WithRole("trailer"), session.WithoutPushes())
	return carriage.Dial(ctx, ep.Addr(), c.cfg.Carriage, c.ident, opts...)
}

// applyLogin loads the login snapshot and any further chat-list pages.
func (c *Client) applyLogin(ctx context.Context, cc *carriage.Client, login carriage.LoginResult) {
	c.rooms.Remove(login.DeletedIDs...)
	c.applyChats(login.Chats)
	eof := login.EOF
	chats := login.Chats
	for page := 0; !eof && len(chats) > 0 && page < maxChatListPages; page++ {
		last := chats[len(chats)-1].ChatID
		res, err := cc.ChatList(ctx, login.LastTokenID, last)
		if err != nil {
			log.Warn().Msgf("client.applyLogin chat list page=%d err=%v", page+1, err)
			return
		}
		c.applyChats(res.Chats)
		chats, eof = res.Chats, res.EOF
	}
}

func (c *Client) applyChats(chats []carriage.ChatSummary) {
	c.rooms.ApplyChatList(chats)
	for _, chat := range chats {
		n := min(len(chat.MemberIDs), len(chat.MemberNames))
		if n == 0 {
			continue
		}
		members := make([]carriage.Member, 0, n)
		for i := 0; i < n; i++ {
			members = append(members, carriage.Member{UserID: chat.MemberIDs[i], Nickname: chat.MemberNames[i]})
		}
		c.members.Merge(chat.ChatID, members, false)
	}
}

// syncOpenLinks names open rooms from INFOLINK. Failure only costs titles.
func (c *Client) syncOpenLinks(ctx context.Context, cc *carriage.Client) {
	ids := c.rooms.OpenLinkIDs()
	if len(ids) == 0 {
		return
	}
	links, err := cc.OpenLinkInfo(ctx, ids...)
	if err != nil {
		log.Warn().Msgf("client.syncOpenLinks links=%d err=%v", len(ids), err)
		return
	}
	named := 0
	for _, l := range links {
		named += c.rooms.SetOpenLinkTitle(l.LinkID, l.Name)
	}
	log.Debug().Msgf("client.syncOpenLinks links=%d named=%d", len(links), named)
}
