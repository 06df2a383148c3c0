package client

import (
	"context"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/observability"
	"github.com/rs/zerolog/log"
)

// scheduleReconnect arms the single reconnect timer with the next backoff
// delay. It does nothing once reconnection is disabled.
func (c *Client) scheduleReconnect(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.autoReconnect || c.closed {
		return
	}
	delay, attempt := c.backoff.Next()
	c.armReconnectLocked(delay, attempt, reason)
}

// reconnectNow arms the timer with no delay and leaves the attempt count.
func (c *Client) reconnectNow(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.autoReconnect || c.closed {
		return
	}
	c.armReconnectLocked(0, c.backoff.Attempt(), reason)
}

func (c *Client) armReconnectLocked(delay time.Duration, attempt int, reason string) {
	c.stopReconnectLocked()
	c.state = StateReconnecting
	seq := c.reconnectSeq
	log.Info().Msgf("client.reconnect scheduled reason=%s attempt=%d delay=%s", reason, attempt, delay)
	observability.RecordReconnect(reason)
	c.reconnectTimer = time.AfterFunc(delay, func() { c.fireReconnect(seq) })
}

// stopReconnectLocked cancels the pending timer and invalidates callbacks
// that already fired.
func (c *Client) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.reconnectSeq++
}

func (c *Client) fireReconnect(seq uint64) {
	c.mu.Lock()
	if seq != c.reconnectSeq || !c.autoReconnect || c.closed {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()
	if err := c.connectShared(context.Background()); err != nil {
		log.Debug().Msgf("client.reconnect attempt failed err=%v", err)
	}
}

// scheduleRefreshLocked rearms the member refresh timer.
func (c *Client) scheduleRefreshLocked() {
	if c.closed || c.cfg.Members.RefreshInterval <= 0 {
		return
	}
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}
	c.refreshTimer = time.AfterFunc(c.cfg.Members.RefreshInterval, c.refreshMembers)
}

// refreshMembers runs on the refresh timer. It joins c.wg so Shutdown waits
// for an in-flight pass.
func (c *Client) refreshMembers() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	connected := c.carriage != nil
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	if connected {
		ctx, cancel := context.WithTimeout(c.runCtx, c.cfg.Members.RefreshInterval)
		n := c.resolver.RefreshDue(ctx)
		cancel()
		if n > 0 {
			log.Debug().Msgf("client.refreshMembers refreshed=%d", n)
		}
	}
	c.mu.Lock()
	c.scheduleRefreshLocked()
	c.mu.Unlock()
}
