package carriage

import (
	"context"
	"testing"

	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/secure"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/session"
	"github.com/aodjo/KakaoForge-sub001/internal/testutil/locotest"
	"github.com/aodjo/KakaoForge-sub001/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

const bigChatID int64 = 18478388757880150

func testIdentity() auth.Identity {
	return auth.Identity{
		Credential: auth.Credential{UserID: 42, AccessToken: "tok", DeviceUUID: "dev"},
		Device:     auth.DefaultDevice(),
	}
}

func dialCarriage(t *testing.T, srv *locotest.Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), srv.Addr(), srv.SessionConfig(), testIdentity(),
		session.WithHandshaker(srv.Handshaker(secure.SuiteGCM)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestParseChatLogFieldVariants(t *testing.T) {
	testlog.Start(t)
	modern := ParseChatLog(body.NewMapping(
		body.KV("logId", body.Long(100)),
		body.KV("chatId", body.Long(bigChatID)),
		body.KV("authorId", body.Long(7)),
		body.KV("message", body.String("hi")),
		body.KV("type", body.Int(1)),
	))
	legacy := ParseChatLog(body.NewMapping(
		body.KV("l", body.Long(100)),
		body.KV("c", body.Double(float64(bigChatID))),
		body.KV("userId", body.Long(7)),
		body.KV("msg", body.String("hi")),
		body.KV("t", body.Int(1)),
	))
	require.Equal(t, modern.LogID, legacy.LogID)
	require.Equal(t, modern.AuthorID, legacy.AuthorID)
	require.Equal(t, modern.Message, legacy.Message)
	require.Equal(t, modern.Type, legacy.Type)
	require.False(t, modern.ChatIDTruncated)
	require.True(t, legacy.ChatIDTruncated)
	require.Equal(t, int64(float64(bigChatID)), legacy.ChatID)
}

func TestLoginParsesChatList(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{TLS: true, Secure: true})
	srv.Reply(protocol.MethodLoginList, body.NewMapping(
		body.KV("status", body.Int(0)),
		body.KV("userId", body.Long(42)),
		body.KV("revision", body.Int(3)),
		body.KV("chatDatas", body.Seq(
			body.Map(body.NewMapping(
				body.KV("c", body.Long(bigChatID)),
				body.KV("t", body.String("OM")),
				body.KV("ll", body.Long(900)),
				body.KV("s", body.Long(880)),
				body.KV("li", body.Long(555)),
				body.KV("i", body.Longs(7, 8)),
				body.KV("k", body.Seq(body.String("alice"), body.String("bob"))),
			)),
		)),
		body.KV("eof", body.Bool(true)),
	))
	c := dialCarriage(t, srv)
	res, err := c.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), res.UserID)
	require.Len(t, res.Chats, 1)
	chat := res.Chats[0]
	require.Equal(t, bigChatID, chat.ChatID)
	require.True(t, chat.IsOpen())
	require.True(t, chat.IsGroup())
	require.Equal(t, []string{"alice", "bob"}, chat.MemberNames)

	req := srv.Requests(protocol.MethodLoginList)[0]
	require.Equal(t, "tok", req.Body.StringOr("oauthToken", ""))
	require.Equal(t, "dev", req.Body.StringOr("duuid", ""))
}

func TestWriteAndSync(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{TLS: true, Secure: true})
	srv.Handle(protocol.MethodWrite, func(sc *locotest.ServerConn, req frame.Packet) {
		sc.Reply(req, body.NewMapping(
			body.KV("chatId", body.Long(req.Body.LongOr("chatId", 0))),
			body.KV("logId", body.Long(1001)),
			body.KV("msgId", body.Long(req.Body.LongOr("msgId", 0))),
		))
	})
	srv.Reply(protocol.MethodSyncMsg, body.NewMapping(
		body.KV("chatLogs", body.Seq(
			body.Map(body.NewMapping(body.KV("logId", body.Long(11)), body.KV("message", body.String("a")))),
			body.Map(body.NewMapping(body.KV("logId", body.Long(12)), body.KV("message", body.String("b")))),
		)),
		body.KV("isOK", body.Bool(false)),
	))
	c := dialCarriage(t, srv)

	ack, err := c.Write(context.Background(), bigChatID, "hello", 1, WriteOptions{})
	require.NoError(t, err)
	require.Equal(t, bigChatID, ack.ChatID)
	require.Equal(t, int64(1001), ack.LogID)
	require.NotZero(t, ack.MsgID)

	_, err = c.Write(context.Background(), bigChatID, "", 1, WriteOptions{})
	require.ErrorIs(t, err, ErrEmptyMessage)

	page, err := c.SyncMessages(context.Background(), bigChatID, 10, 50, 0)
	require.NoError(t, err)
	require.Len(t, page.Logs, 2)
	require.Equal(t, int64(12), page.Cursor)
	require.False(t, page.Done)
	require.Equal(t, bigChatID, page.Logs[0].ChatID)
}

func TestMembersAndChatInfo(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	srv.Reply(protocol.MethodGetMem, body.NewMapping(body.KV("members", body.Seq(
		body.Map(body.NewMapping(body.KV("userId", body.Long(7)), body.KV("nickName", body.String("alice")))),
	))))
	srv.Reply(protocol.MethodChatInfo, body.NewMapping(body.KV("chatInfo", body.Map(body.NewMapping(
		body.KV("chatId", body.Long(bigChatID)),
		body.KV("type", body.String("MultiChat")),
		body.KV("chatMetas", body.Seq(body.Map(body.NewMapping(
			body.KV("type", body.Int(3)),
			body.KV("content", body.String("Team room")),
		)))),
	)))))
	c, err := Dial(context.Background(), srv.Addr(), srv.SessionConfig(), testIdentity())
	require.NoError(t, err)
	defer c.Close()

	members, err := c.Members(context.Background(), bigChatID)
	require.NoError(t, err)
	require.Equal(t, []Member{{UserID: 7, Nickname: "alice"}}, members)

	info, err := c.ChatInfo(context.Background(), bigChatID)
	require.NoError(t, err)
	require.Equal(t, "Team room", info.Title)
	require.Equal(t, "MultiChat", info.Type)
}

func TestShipRequiresToken(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	srv.Reply(protocol.MethodShip, body.NewMapping(body.KV("vh", body.String("up.example"))))
	c, err := Dial(context.Background(), srv.Addr(), srv.SessionConfig(), testIdentity())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Ship(context.Background(), bigChatID, 10, 2, "abc", "jpg")
	require.Error(t, err)
}
