package client

import (
	"context"
	"errors"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/carriage"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/rs/zerolog/log"
)

// maxPingFailures closes the session after this many consecutive misses.
const maxPingFailures = 2

func (c *Client) keepalive(ctx context.Context, cc *carriage.Client) {
	defer c.wg.Done()
	if c.cfg.KeepaliveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.Carriage.RequestTimeout)
			err := cc.Ping(pingCtx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			if ctx.Err() != nil {
				return
			}
			failures++
			log.Warn().Msgf("client.keepalive ping failed conn=%s failures=%d err=%v", cc.Conn().ID(), failures, err)
			if errors.Is(err, protocol.ErrConnectionClosed) || failures >= maxPingFailures {
				_ = cc.Close()
				return
			}
		}
	}
}

// pushLoop drains the session's pushes until it closes.
func (c *Client) pushLoop(ctx context.Context, cc *carriage.Client) {
	defer c.wg.Done()
	pushes := cc.Conn().Pushes()
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-pushes:
			if !ok {
				c.sessionLost(cc)
				return
			}
			c.dispatch(ctx, cc, pkt)
		}
	}
}

func (c *Client) sessionLost(cc *carriage.Client) {
	c.mu.Lock()
	if c.carriage != cc {
		c.mu.Unlock()
		return
	}
	err := cc.Conn().Err()
	c.detachLocked()
	c.lastErr = err
	c.state = StateDisconnected
	immediate := c.pendingChangeServer
	c.pendingChangeServer = false
	c.mu.Unlock()

	log.Warn().Msgf("client.session lost conn=%s change_server=%v err=%v", cc.Conn().ID(), immediate, err)
	c.handlers.emitDisconnect(err)
	if immediate {
		c.reconnectNow("change_server")
		return
	}
	c.scheduleReconnect("disconnected")
}
