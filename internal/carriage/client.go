package carriage

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/session"
)

var ErrEmptyMessage = errors.New("carriage: empty message")

// Client issues carriage verbs over one session connection.
type Client struct {
	conn  *session.Conn
	ident auth.Identity
	msgID atomic.Int64
}

func New(conn *session.Conn, ident auth.Identity) *Client {
	c := &Client{conn: conn, ident: ident}
	var seed [4]byte
	_, _ = rand.Read(seed[:])
	c.msgID.Store(int64(binary.LittleEndian.Uint32(seed[:]) >> 1))
	return c
}

// Dial opens a carriage connection to addr. Pass a secure.Handshaker through
// opts when the endpoint requires the record layer.
func Dial(ctx context.Context, addr string, cfg session.Config, ident auth.Identity, opts ...session.Option) (*Client, error) {
	opts = append([]session.Option{session.WithRole("carriage")}, opts...)
	conn, err := session.Dial(ctx, addr, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return New(conn, ident), nil
}

func (c *Client) Conn() *session.Conn { return c.conn }

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) nextMsgID() int64 {
	return c.msgID.Add(1)
}

// LoginResult is the LOGINLIST response.
type LoginResult struct {
	UserID      int64
	Revision    int32
	Chats       []ChatSummary
	DeletedIDs  []int64
	LastTokenID int64
	EOF         bool
}

// Login authenticates the session and returns the initial chat list.
func (c *Client) Login(ctx context.Context) (LoginResult, error) {
	d := c.ident.Device
	cred := c.ident.Credential
	req := body.NewMapping(
		body.KV("appVer", body.String(d.AppVersion)),
		body.KV("prtVer", body.String("1")),
		body.KV("os", body.String(d.OS)),
		body.KV("lang", body.String(d.Language)),
		body.KV("duuid", body.String(cred.DeviceUUID)),
		body.KV("ntype", body.Int(int32(d.NetType))),
		body.KV("MCCMNC", body.String(d.MCCMNC)),
		body.KV("revision", body.Int(0)),
		body.KV("chatIds", body.Seq()),
		body.KV("maxIds", body.Seq()),
		body.KV("lastTokenId", body.Long(0)),
		body.KV("lbk", body.Int(0)),
		body.KV("bg", body.Bool(false)),
		body.KV("oauthToken", body.String(cred.AccessToken)),
	)
	res, err := c.conn.Call(ctx, protocol.MethodLoginList, req)
	if err != nil {
		return LoginResult{}, err
	}
	out := LoginResult{
		UserID:      idOr(res, "userId"),
		Revision:    intOf(res, "revision"),
		DeletedIDs:  idList(res, "delChatIds"),
		LastTokenID: idOr(res, "lastTokenId"),
		EOF:         res.BoolOr("eof", true),
	}
	for _, m := range mappings(res, "chatDatas") {
		out.Chats = append(out.Chats, parseChatSummary(m))
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.conn.Call(ctx, protocol.MethodPing, nil)
	return err
}

// WriteOptions carries optional WRITE fields.
type WriteOptions struct {
	// Extra is the serialized attachment JSON.
	Extra  string
	NoSeen bool
	// Scope and ThreadID address replies inside a thread.
	Scope    int32
	ThreadID int64
}

// WriteAck is the acknowledged message.
type WriteAck struct {
	ChatID int64
	LogID  int64
	MsgID  int64
	SendAt int64
	Log    ChatLog
}

func (c *Client) Write(ctx context.Context, chatID int64, text string, msgType int32, opts WriteOptions) (WriteAck, error) {
	if text == "" && opts.Extra == "" {
		return WriteAck{}, ErrEmptyMessage
	}
	msgID := c.nextMsgID()
	req := body.NewMapping(
		body.KV("chatId", body.Long(chatID)),
		body.KV("msgId", body.Long(msgID)),
		body.KV("msg", body.String(text)),
		body.KV("type", body.Int(msgType)),
		body.KV("noSeen", body.Bool(opts.NoSeen)),
	)
	if opts.Extra != "" {
		req = req.Set("extra", body.String(opts.Extra))
	}
	if opts.Scope != 0 {
		req = req.Set("scope", body.Int(opts.Scope))
	}
	if opts.ThreadID != 0 {
		req = req.Set("threadId", body.Long(opts.ThreadID))
	}
	res, err := c.conn.Call(ctx, protocol.MethodWrite, req)
	if err != nil {
		return WriteAck{}, err
	}
	ack := WriteAck{
		ChatID: idOr(res, "chatId"),
		LogID:  idOr(res, "logId"),
		MsgID:  idOr(res, "msgId"),
		SendAt: idOr(res, "sendAt"),
	}
	if ack.MsgID == 0 {
		ack.MsgID = msgID
	}
	if ack.ChatID == 0 {
		ack.ChatID = chatID
	}
	if logBody, err := res.Map("chatLog"); err == nil {
		ack.Log = ParseChatLog(logBody)
	}
	return ack, nil
}

// SyncResult is one page of history.
type SyncResult struct {
	Logs []ChatLog
	// Cursor is the highest log id returned; pass it as Since for the next page.
	Cursor int64
	Done   bool
}

// SyncMessages returns up to count logs after since, bounded by maxLogID.
func (c *Client) SyncMessages(ctx context.Context, chatID, since int64, count int32, maxLogID int64) (SyncResult, error) {
	req := body.NewMapping(
		body.KV("chatId", body.Long(chatID)),
		body.KV("cur", body.Long(since)),
		body.KV("cnt", body.Int(count)),
		body.KV("max", body.Long(maxLogID)),
	)
	res, err := c.conn.Call(ctx, protocol.MethodSyncMsg, req)
	if err != nil {
		return SyncResult{}, err
	}
	out := SyncResult{Cursor: since, Done: res.BoolOr("isOK", true)}
	for _, m := range mappings(res, "chatLogs") {
		cl := ParseChatLog(m)
		if cl.ChatID == 0 {
			cl.ChatID = chatID
		}
		out.Logs = append(out.Logs, cl)
		if cl.LogID > out.Cursor {
			out.Cursor = cl.LogID
		}
	}
	if len(out.Logs) == 0 {
		out.Done = true
	}
	return out, nil
}

// ChatInfo is the CHATINFO response.
type ChatInfo struct {
	ChatID     int64
	Type       string
	Title      string
	OpenLinkID int64
	MemberIDs  []int64
	Members    []Member
	NewCount   int32
	LastLogID  int64
}

func (c *Client) ChatInfo(ctx context.Context, chatID int64) (ChatInfo, error) {
	res, err := c.conn.Call(ctx, protocol.MethodChatInfo, body.NewMapping(body.KV("chatId", body.Long(chatID))))
	if err != nil {
		return ChatInfo{}, err
	}
	info, err := res.Map("chatInfo")
	if err != nil {
		info = res
	}
	out := ChatInfo{
		ChatID:     idOr(info, "chatId", "c"),
		Type:       stringOf(info, "type", "t"),
		Title:      stringOf(info, "title"),
		OpenLinkID: idOr(info, "li", "linkId"),
		NewCount:   intOf(info, "newMessageCount", "n"),
		LastLogID:  idOr(info, "lastLogId", "ll"),
	}
	if meta := mappings(info, "chatMetas"); len(meta) > 0 && out.Title == "" {
		for _, m := range meta {
			if intOf(m, "type") == 3 {
				out.Title = stringOf(m, "content")
			}
		}
	}
	for _, m := range mappings(info, "displayMembers") {
		mem := parseMember(m)
		out.Members = append(out.Members, mem)
		out.MemberIDs = append(out.MemberIDs, mem.UserID)
	}
	if out.ChatID == 0 {
		out.ChatID = chatID
	}
	return out, nil
}

// Members returns the full member list of chatID.
func (c *Client) Members(ctx context.Context, chatID int64) ([]Member, error) {
	res, err := c.conn.Call(ctx, protocol.MethodGetMem, body.NewMapping(body.KV("chatId", body.Long(chatID))))
	if err != nil {
		return nil, err
	}
	return parseMembers(res), nil
}

// MemberLookup resolves specific users of chatID.
func (c *Client) MemberLookup(ctx context.Context, chatID int64, userIDs ...int64) ([]Member, error) {
	req := body.NewMapping(
		body.KV("chatId", body.Long(chatID)),
		body.KV("memberIds", body.Longs(userIDs...)),
	)
	res, err := c.conn.Call(ctx, protocol.MethodMember, req)
	if err != nil {
		return nil, err
	}
	return parseMembers(res), nil
}

func parseMembers(res body.Mapping) []Member {
	var out []Member
	for _, m := range mappings(res, "members") {
		out = append(out, parseMember(m))
	}
	return out
}

// ChatListPage is one LCHATLIST page.
type ChatListPage struct {
	Chats []ChatSummary
	EOF   bool
}

// ChatList pages the room list after lastChatID.
func (c *Client) ChatList(ctx context.Context, lastTokenID, lastChatID int64) (ChatListPage, error) {
	req := body.NewMapping(
		body.KV("chatIds", body.Seq()),
		body.KV("maxIds", body.Seq()),
		body.KV("lastTokenId", body.Long(lastTokenID)),
		body.KV("lastChatId", body.Long(lastChatID)),
	)
	res, err := c.conn.Call(ctx, protocol.MethodLChatList, req)
	if err != nil {
		return ChatListPage{}, err
	}
	out := ChatListPage{EOF: res.BoolOr("eof", true)}
	for _, m := range mappings(res, "chatDatas") {
		out.Chats = append(out.Chats, parseChatSummary(m))
	}
	return out, nil
}

// OpenLinkInfo fetches directory info for open rooms by link id.
func (c *Client) OpenLinkInfo(ctx context.Context, linkIDs ...int64) ([]OpenLink, error) {
	if len(linkIDs) == 0 {
		return nil, nil
	}
	res, err := c.conn.Call(ctx, protocol.MethodInfoLink, body.NewMapping(body.KV("lis", body.Longs(linkIDs...))))
	if err != nil {
		return nil, err
	}
	var out []OpenLink
	for _, m := range mappings(res, "ols") {
		out = append(out, OpenLink{
			LinkID: idOr(m, "li", "linkId"),
			Name:   stringOf(m, "ln", "name"),
			URL:    stringOf(m, "lu", "url"),
		})
	}
	return out, nil
}

// MarkRead moves the read watermark of chatID to logID.
func (c *Client) MarkRead(ctx context.Context, chatID, logID, linkID int64) error {
	req := body.NewMapping(
		body.KV("chatId", body.Long(chatID)),
		body.KV("watermark", body.Long(logID)),
	)
	if linkID != 0 {
		req = req.Set("linkId", body.Long(linkID))
	}
	_, err := c.conn.Call(ctx, protocol.MethodNotiRead, req)
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, logID int64) error {
	req := body.NewMapping(
		body.KV("chatId", body.Long(chatID)),
		body.KV("logId", body.Long(logID)),
	)
	_, err := c.conn.Call(ctx, protocol.MethodDeleteMsg, req)
	return err
}

// KickMember removes userID from an open room.
func (c *Client) KickMember(ctx context.Context, chatID, linkID, userID int64) error {
	req := body.NewMapping(
		body.KV("li", body.Long(linkID)),
		body.KV("c", body.Long(chatID)),
		body.KV("mid", body.Long(userID)),
	)
	_, err := c.conn.Call(ctx, protocol.MethodKickMem, req)
	return err
}

// React attaches reaction type reactType to logID; 0 clears it.
func (c *Client) React(ctx context.Context, chatID, logID int64, reactType int32, linkID int64) error {
	req := body.NewMapping(
		body.KV("chatId", body.Long(chatID)),
		body.KV("logId", body.Long(logID)),
		body.KV("reqId", body.Long(c.nextMsgID())),
		body.KV("type", body.Int(reactType)),
	)
	if linkID != 0 {
		req = req.Set("linkId", body.Long(linkID))
	}
	_, err := c.conn.Call(ctx, protocol.MethodReact, req)
	return err
}

// ShipResult names the upload token and, optionally, the trailer endpoint.
type ShipResult struct {
	Key  string
	Host string
	Port int
}

func (r ShipResult) HasEndpoint() bool {
	return r.Host != "" && r.Port > 0
}

func (c *Client) Ship(ctx context.Context, chatID int64, size int64, logType int32, checksum, ext string) (ShipResult, error) {
	req := body.NewMapping(
		body.KV("c", body.Long(chatID)),
		body.KV("s", body.Long(size)),
		body.KV("t", body.Int(logType)),
		body.KV("cs", body.String(checksum)),
	)
	if ext != "" {
		req = req.Set("e", body.String(ext))
	}
	res, err := c.conn.Call(ctx, protocol.MethodShip, req)
	if err != nil {
		return ShipResult{}, err
	}
	out := ShipResult{
		Key:  stringOf(res, "k"),
		Host: stringOf(res, "vh", "host"),
		Port: int(idOr(res, "p", "port")),
	}
	if out.Key == "" {
		return ShipResult{}, fmt.Errorf("carriage: %s returned no token", protocol.MethodShip)
	}
	return out, nil
}

func (c *Client) GetTrailer(ctx context.Context, key string, logType int32) (ShipResult, error) {
	req := body.NewMapping(
		body.KV("k", body.String(key)),
		body.KV("t", body.Int(logType)),
	)
	res, err := c.conn.Call(ctx, protocol.MethodGetTrailer, req)
	if err != nil {
		return ShipResult{}, err
	}
	return ShipResult{
		Key:  key,
		Host: stringOf(res, "vh", "host"),
		Port: int(idOr(res, "p", "port")),
	}, nil
}

// PostRequest declares an upload on a trailer connection.
type PostRequest struct {
	Key      string
	Size     int64
	Filename string
	LogType  int32
	ChatID   int64
	MsgID    int64
	Width    int32
	Height   int32
	Duration int32
	Extra    string
}

// Post returns the offset the trailer already holds for Key.
func (c *Client) Post(ctx context.Context, p PostRequest) (int64, error) {
	d := c.ident.Device
	msgID := p.MsgID
	if msgID == 0 {
		msgID = c.nextMsgID()
	}
	req := body.NewMapping(
		body.KV("k", body.String(p.Key)),
		body.KV("s", body.Long(p.Size)),
		body.KV("f", body.String(p.Filename)),
		body.KV("t", body.Int(p.LogType)),
		body.KV("c", body.Long(p.ChatID)),
		body.KV("mid", body.Long(msgID)),
		body.KV("ns", body.Bool(false)),
		body.KV("u", body.Long(c.ident.Credential.UserID)),
		body.KV("os", body.String(d.OS)),
		body.KV("av", body.String(d.AppVersion)),
		body.KV("nt", body.Int(int32(d.NetType))),
		body.KV("mm", body.String(d.MCCMNC)),
	)
	if p.Width > 0 && p.Height > 0 {
		req = req.Set("w", body.Int(p.Width)).Set("h", body.Int(p.Height))
	}
	if p.Duration > 0 {
		req = req.Set("d", body.Int(p.Duration))
	}
	if p.Extra != "" {
		req = req.Set("ex", body.String(p.Extra))
	}
	res, err := c.conn.Call(ctx, protocol.MethodPost, req)
	if err != nil {
		return 0, err
	}
	return idOr(res, "o", "offset"), nil
}
