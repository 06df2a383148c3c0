package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/carriage"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
	"github.com/aodjo/KakaoForge-sub001/internal/rooms"
	"github.com/rs/zerolog/log"
)

// Push is one server-initiated packet. Method is PushUnknown for tokens the
// client does not model; Raw always carries the wire token.
type Push struct {
	Method   protocol.PushMethod
	Raw      string
	Body     body.Mapping
	Received time.Time
}

// Message is a MSG push after room and sender enrichment.
type Message struct {
	ChatID     int64
	Log        carriage.ChatLog
	RoomTitle  string
	SenderName string
	// New is false when the log id was already seen for the room.
	New      bool
	Received time.Time
}

type (
	PushHandler       func(Push)
	MessageHandler    func(Message)
	ReadyHandler      func()
	DisconnectHandler func(err error)
	ErrorHandler      func(err error)
)

type registry struct {
	mu         sync.RWMutex
	byMethod   map[protocol.PushMethod][]PushHandler
	message    []MessageHandler
	ready      []ReadyHandler
	disconnect []DisconnectHandler
	kickout    []PushHandler
	errs       []ErrorHandler
}

func newRegistry() *registry {
	return &registry{byMethod: make(map[protocol.PushMethod][]PushHandler)}
}

// OnPush registers h for one push kind. Use protocol.PushUnknown to receive
// unmodeled methods.
func (c *Client) OnPush(method protocol.PushMethod, h PushHandler) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.byMethod[method] = append(c.handlers.byMethod[method], h)
}

// OnMessage fires for every processed MSG push, duplicates included.
func (c *Client) OnMessage(h MessageHandler) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.message = append(c.handlers.message, h)
}

func (c *Client) OnReady(h ReadyHandler) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.ready = append(c.handlers.ready, h)
}

// OnDisconnect fires when a live session ends. err is nil after Disconnect.
func (c *Client) OnDisconnect(h DisconnectHandler) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.disconnect = append(c.handlers.disconnect, h)
}

// OnKickout fires on KICKOUT, before the session is closed.
func (c *Client) OnKickout(h PushHandler) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.kickout = append(c.handlers.kickout, h)
}

// OnError receives connect failures and undecodable pushes.
func (c *Client) OnError(h ErrorHandler) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.errs = append(c.handlers.errs, h)
}

func (r *registry) emitPush(p Push) {
	r.mu.RLock()
	hs := append([]PushHandler(nil), r.byMethod[p.Method]...)
	r.mu.RUnlock()
	for _, h := range hs {
		safeCall("push "+p.Raw, func() { h(p) })
	}
}

func (r *registry) emitMessage(m Message) {
	r.mu.RLock()
	hs := append([]MessageHandler(nil), r.message...)
	r.mu.RUnlock()
	for _, h := range hs {
		safeCall("message", func() { h(m) })
	}
}

func (r *registry) emitReady() {
	r.mu.RLock()
	hs := append([]ReadyHandler(nil), r.ready...)
	r.mu.RUnlock()
	for _, h := range hs {
		safeCall("ready", h)
	}
}

func (r *registry) emitDisconnect(err error) {
	r.mu.RLock()
	hs := append([]DisconnectHandler(nil), r.disconnect...)
	r.mu.RUnlock()
	for _, h := range hs {
		safeCall("disconnect", func() { h(err) })
	}
}

func (r *registry) emitKickout(p Push) {
	r.mu.RLock()
	hs := append([]PushHandler(nil), r.kickout...)
	r.mu.RUnlock()
	for _, h := range hs {
		safeCall("kickout", func() { h(p) })
	}
}

func (r *registry) emitError(err error) {
	r.mu.RLock()
	hs := append([]ErrorHandler(nil), r.errs...)
	r.mu.RUnlock()
	for _, h := range hs {
		safeCall("error", func() { h(err) })
	}
}

func safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("client.handler %s panic: %v", name, r)
		}
	}()
	fn()
}

// dispatch routes one push. Registered handlers run first, then the
// client applies its own state changes.
func (c *Client) dispatch(ctx context.Context, cc *carriage.Client, pkt frame.Packet) {
	p := Push{
		Method:   protocol.ParsePushMethod(pkt.Method),
		Raw:      pkt.Method,
		Body:     pkt.Body,
		Received: time.Now(),
	}
	c.handlers.emitPush(p)

	switch p.Method {
	case protocol.PushMessage:
		c.enqueueMessage(ctx, p, pkt)
	case protocol.PushKickout:
		c.handleKickout(cc, p)
	case protocol.PushChangeServer:
		c.handleChangeServer(cc)
	case protocol.PushNewMember, protocol.PushDelMember, protocol.PushSyncJoin:
		c.handleMemberChange(p)
	case protocol.PushDecUnread:
		chatID, _, ok := carriage.ID(p.Body, "chatId", "c")
		if ok {
			c.rooms.MarkSeen(chatID, p.Body.LongOr("watermark", p.Body.LongOr("logId", 0)))
		}
	case protocol.PushUnknown:
		log.Debug().Msgf("client.dispatch unmodeled push method=%s", p.Raw)
	}
}

func (c *Client) enqueueMessage(ctx context.Context, p Push, pkt frame.Packet) {
	m, err := p.Body.Map("chatLog")
	if err != nil {
		derr := protocol.NewDecodeError(fmt.Errorf("%s chatLog: %w", p.Raw, err))
		log.Warn().Msgf("client.dispatch %v", derr)
		c.handlers.emitError(derr)
		return
	}
	cl := carriage.ParseChatLog(m)
	if cl.ChatID == 0 {
		if id, truncated, ok := carriage.ID(p.Body, "chatId"); ok {
			cl.ChatID, cl.ChatIDTruncated = id, truncated
		}
	}
	if cl.AuthorName == "" {
		cl.AuthorName = p.Body.StringOr("authorNickname", "")
	}
	chatID := cl.ChatID
	if cl.ChatIDTruncated {
		chatID = c.rooms.Aliases().Resolve(chatID)
	}
	item := rooms.Item{ChatID: chatID, Log: cl, Packet: pkt, Received: p.Received}
	if err := c.pipeline.Enqueue(ctx, item); err != nil {
		log.Debug().Msgf("client.dispatch message dropped chat=%d log=%d err=%v", chatID, cl.LogID, err)
	}
}

// handleKickout disables reconnection and closes the session. The push
// loop then reports the disconnect.
func (c *Client) handleKickout(cc *carriage.Client, p Push) {
	c.mu.Lock()
	c.autoReconnect = false
	c.stopReconnectLocked()
	c.mu.Unlock()
	log.Warn().Msgf("client.dispatch kickout reason=%d conn=%s", p.Body.IntOr("reason", 0), cc.Conn().ID())
	c.handlers.emitKickout(p)
	_ = cc.Close()
}

func (c *Client) handleChangeServer(cc *carriage.Client) {
	c.mu.Lock()
	if c.carriage == cc {
		c.pendingChangeServer = true
	}
	c.mu.Unlock()
	log.Info().Msgf("client.dispatch change server conn=%s", cc.Conn().ID())
	_ = cc.Close()
}

// handleMemberChange observes the membership log and marks the room's
// member list for refresh.
func (c *Client) handleMemberChange(p Push) {
	m, err := p.Body.Map("chatLog")
	if err != nil {
		if chatID, _, ok := carriage.ID(p.Body, "chatId", "c"); ok {
			c.members.Expire(c.rooms.Aliases().Resolve(chatID))
		}
		return
	}
	cl := carriage.ParseChatLog(m)
	if cl.ChatID == 0 {
		return
	}
	c.rooms.ObserveLog(cl)
	c.members.Expire(c.rooms.Aliases().Resolve(cl.ChatID))
}
