package client

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/aodjo/KakaoForge-sub001/internal/carriage"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/secure"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/session"
	"github.com/aodjo/KakaoForge-sub001/internal/testutil/locotest"
	"github.com/aodjo/KakaoForge-sub001/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

var testCred = auth.Credential{UserID: 42, AccessToken: "tok", DeviceUUID: "dev"}

type harness struct {
	booking  *locotest.Server
	carriage *locotest.Server
}

func loginBody() body.Mapping {
	return body.NewMapping(
		body.KV("userId", body.Long(42)),
		body.KV("eof", body.Bool(true)),
		body.KV("chatDatas", body.Seq(
			body.Map(body.NewMapping(
				body.KV("c", body.Long(10)),
				body.KV("t", body.String("MultiChat")),
				body.KV("title", body.String("team")),
				body.KV("ll", body.Long(5)),
				body.KV("i", body.Longs(1, 2)),
				body.KV("k", body.Seq(body.String("ann"), body.String("bo"))),
			)),
			body.Map(body.NewMapping(
				body.KV("c", body.Long(20)),
				body.KV("t", body.String("OM")),
				body.KV("li", body.Long(900)),
			)),
		)),
	)
}

func checkinBody(srv *locotest.Server) body.Mapping {
	return body.NewMapping(
		body.KV("host", body.String(srv.Host())),
		body.KV("port", body.Long(int64(srv.Port()))),
	)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		booking:  locotest.Start(t, locotest.Options{}),
		carriage: locotest.Start(t, locotest.Options{Secure: true}),
	}
	h.booking.Reply(protocol.MethodGetConf, body.NewMapping())
	h.booking.Reply(protocol.MethodCheckin, checkinBody(h.carriage))
	h.carriage.Reply(protocol.MethodLoginList, loginBody())
	h.carriage.Reply(protocol.MethodInfoLink, body.NewMapping(body.KV("ols", body.Seq(
		body.Map(body.NewMapping(body.KV("li", body.Long(900)), body.KV("ln", body.String("open room")))),
	))))
	h.carriage.Reply(protocol.MethodPing, body.NewMapping())
	return h
}

func (h *harness) config() Config {
	cfg := DefaultConfig()
	cfg.BookingAddr = h.booking.Addr()
	cfg.Booking = h.booking.SessionConfig()
	cfg.Carriage = h.carriage.SessionConfig()
	cfg.Handshaker = h.carriage.Handshaker(secure.SuiteGCM)
	cfg.Reconnect.Backoff = session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 40 * time.Millisecond}
	return cfg
}

func newClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, testCred)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

func counter() (func(), func() int32) {
	var n atomic.Int32
	return func() { n.Add(1) }, n.Load
}

func TestNewValidates(t *testing.T) {
	_, err := New(DefaultConfig(), testCred)
	require.ErrorIs(t, err, ErrBookingAddrRequired)

	cfg := DefaultConfig()
	cfg.BookingAddr = "booking.example:443"
	_, err = New(cfg, auth.Credential{})
	require.ErrorIs(t, err, auth.ErrCredentialRequired)
}

func TestConnectFullSequence(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	c := newClient(t, h.config())
	ready, readyCount := counter()
	c.OnReady(ready)

	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, StateConnected, c.State())
	require.Equal(t, int32(1), readyCount())

	require.Len(t, h.booking.Requests(protocol.MethodGetConf), 1)
	require.Len(t, h.booking.Requests(protocol.MethodCheckin), 1)
	require.Len(t, h.carriage.Requests(protocol.MethodLoginList), 1)
	login := h.carriage.Requests(protocol.MethodLoginList)[0]
	require.Equal(t, "tok", login.Body.StringOr("oauthToken", ""))

	rooms := c.Rooms()
	require.Len(t, rooms, 2)
	team, ok := c.Room(10)
	require.True(t, ok)
	require.Equal(t, "team", team.Title)
	require.Equal(t, int64(5), team.LastLogID)
	open, _ := c.Room(20)
	require.Equal(t, "open room", open.Title)

	name, err := c.MemberName(context.Background(), 10, 2)
	require.NoError(t, err)
	require.Equal(t, "bo", name)

	st := c.Status()
	require.Equal(t, "connected", st.State)
	require.Equal(t, h.carriage.Addr(), st.Endpoint)
	require.Equal(t, 0, st.ReconnectAttempt)
	require.Equal(t, 2, st.Rooms)

	require.NoError(t, c.Connect(context.Background()))
	require.Len(t, h.carriage.Requests(protocol.MethodLoginList), 1)
}

func TestConnectSharesInFlightAttempt(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.carriage.Handle(protocol.MethodLoginList, func(sc *locotest.ServerConn, req frame.Packet) {
		go func() {
			time.Sleep(100 * time.Millisecond)
			sc.Reply(req, loginBody())
		}()
	})
	c := newClient(t, h.config())

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Connect(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, h.booking.Requests(protocol.MethodCheckin), 1)
	require.Len(t, h.carriage.Requests(protocol.MethodLoginList), 1)
}

func TestConnectPrefersRelay(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	relay := locotest.Start(t, locotest.Options{})
	relay.Reply(protocol.MethodCheckin, checkinBody(h.carriage))
	h.booking.Reply(protocol.MethodGetConf, body.NewMapping(
		body.KV("ticket", body.Map(body.NewMapping(body.KV("lsl", body.Seq(body.String(relay.Host())))))),
		body.KV("wifi", body.Map(body.NewMapping(body.KV("ports", body.Seq(body.Int(int32(relay.Port()))))))),
	))
	c := newClient(t, h.config())

	require.NoError(t, c.Connect(context.Background()))
	require.Len(t, relay.Requests(protocol.MethodCheckin), 1)
	require.Empty(t, h.booking.Requests(protocol.MethodCheckin))
}

func TestConnectFallsBackWhenRelaysFail(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.booking.Reply(protocol.MethodGetConf, body.NewMapping(
		body.KV("ticket", body.Map(body.NewMapping(body.KV("lsl", body.Seq(body.String("127.0.0.1")))))),
		body.KV("wifi", body.Map(body.NewMapping(body.KV("ports", body.Seq(body.Int(int32(closedPort(t)))))))),
	))
	c := newClient(t, h.config())

	require.NoError(t, c.Connect(context.Background()))
	require.Len(t, h.booking.Requests(protocol.MethodCheckin), 1)
	require.Equal(t, 1, c.Status().RelayHosts)
}

func TestConnectToleratesGetConfFailure(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.booking.Handle(protocol.MethodGetConf, func(sc *locotest.ServerConn, req frame.Packet) {
		sc.ReplyStatus(req, -500, body.NewMapping())
	})
	c := newClient(t, h.config())
	require.NoError(t, c.Connect(context.Background()))
	require.Len(t, h.booking.Requests(protocol.MethodCheckin), 1)
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, ln.Close())
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return p
}

func msgPush(chatID, logID int64, text string) body.Mapping {
	return body.NewMapping(
		body.KV("chatId", body.Long(chatID)),
		body.KV("authorNickname", body.String("ann")),
		body.KV("chatLog", body.Map(body.NewMapping(
			body.KV("logId", body.Long(logID)),
			body.KV("chatId", body.Long(chatID)),
			body.KV("authorId", body.Long(1)),
			body.KV("message", body.String(text)),
			body.KV("type", body.Int(1)),
		))),
	)
}

func waitMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("message not delivered")
		return Message{}
	}
}

func TestDuplicateMessagePushLeavesCacheUnchanged(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	c := newClient(t, h.config())
	msgs := make(chan Message, 4)
	c.OnMessage(func(m Message) { msgs <- m })
	pushed, pushCount := counter()
	c.OnPush(protocol.PushMessage, func(Push) { pushed() })

	require.NoError(t, c.Connect(context.Background()))
	sc, err := h.carriage.WaitConn(time.Second)
	require.NoError(t, err)

	sc.Push("MSG", msgPush(10, 100, "hello"))
	first := waitMessage(t, msgs)
	require.True(t, first.New)
	require.Equal(t, "hello", first.Log.Message)
	require.Equal(t, "ann", first.SenderName)
	require.Equal(t, "team", first.RoomTitle)
	before, _ := c.Room(10)

	sc.Push("MSG", msgPush(10, 100, "hello"))
	second := waitMessage(t, msgs)
	require.False(t, second.New)
	after, _ := c.Room(10)
	require.Equal(t, before, after)
	require.Equal(t, int64(100), after.LastLogID)
	require.Equal(t, int32(2), pushCount())

	sc.Push("MSG", msgPush(10, 50, "late"))
	stale := waitMessage(t, msgs)
	require.False(t, stale.New)
	after, _ = c.Room(10)
	require.Equal(t, int64(100), after.LastLogID)
}

func TestUnknownPushCarriesRawMethod(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	c := newClient(t, h.config())
	got := make(chan Push, 1)
	c.OnPush(protocol.PushUnknown, func(p Push) { got <- p })

	require.NoError(t, c.Connect(context.Background()))
	sc, err := h.carriage.WaitConn(time.Second)
	require.NoError(t, err)
	sc.Push("BLSYNC", body.NewMapping(body.KV("r", body.Int(7))))

	select {
	case p := <-got:
		require.Equal(t, "BLSYNC", p.Raw)
		require.Equal(t, int32(7), p.Body.IntOr("r", 0))
	case <-time.After(2 * time.Second):
		t.Fatalf("unknown push not routed")
	}
}

func TestReconnectAfterPeerClose(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	c := newClient(t, h.config())
	ready := make(chan struct{}, 4)
	c.OnReady(func() { ready <- struct{}{} })
	lost := make(chan error, 4)
	c.OnDisconnect(func(err error) { lost <- err })

	require.NoError(t, c.Connect(context.Background()))
	<-ready
	sc, err := h.carriage.WaitConn(time.Second)
	require.NoError(t, err)
	sc.Close()

	select {
	case err := <-lost:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect not reported")
	}
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("did not reconnect")
	}
	require.Equal(t, StateConnected, c.State())
	require.Equal(t, 0, c.Status().ReconnectAttempt)
	require.Len(t, h.booking.Requests(protocol.MethodCheckin), 2)
}

func TestChangeServerReconnectsImmediately(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	cfg := h.config()
	cfg.Reconnect.Backoff = session.BackoffConfig{InitialDelay: time.Hour, Multiplier: 2, MaxDelay: time.Hour}
	c := newClient(t, cfg)
	ready := make(chan struct{}, 4)
	c.OnReady(func() { ready <- struct{}{} })

	require.NoError(t, c.Connect(context.Background()))
	<-ready
	sc, err := h.carriage.WaitConn(time.Second)
	require.NoError(t, err)
	sc.Push("CHANGESVR", body.NewMapping())

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("did not reconnect after CHANGESVR")
	}
	require.Len(t, h.carriage.Requests(protocol.MethodLoginList), 2)
}

func TestKickoutDisablesReconnect(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	c := newClient(t, h.config())
	kicked := make(chan Push, 1)
	c.OnKickout(func(p Push) { kicked <- p })
	lost := make(chan error, 1)
	c.OnDisconnect(func(err error) { lost <- err })

	require.NoError(t, c.Connect(context.Background()))
	sc, err := h.carriage.WaitConn(time.Second)
	require.NoError(t, err)
	sc.Push("KICKOUT", body.NewMapping(body.KV("reason", body.Int(2))))

	select {
	case p := <-kicked:
		require.Equal(t, protocol.PushKickout, p.Method)
	case <-time.After(2 * time.Second):
		t.Fatalf("kickout not reported")
	}
	<-lost
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StateDisconnected, c.State())
	require.False(t, c.Status().AutoReconnect)
	require.Len(t, h.booking.Requests(protocol.MethodCheckin), 1)

	require.NoError(t, c.Connect(context.Background()))
	require.True(t, c.Status().AutoReconnect)
}

func TestConnectFailureBacksOffUntilDisconnect(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.BookingAddr = "127.0.0.1:" + strconv.Itoa(closedPort(t))
	cfg.Booking.SecurityMode = session.SecurityModeDevelopment
	cfg.Booking.TLS = session.TLSConfig{}
	cfg.Booking.ConnectTimeout = time.Second
	cfg.Carriage = cfg.Booking
	cfg.Reconnect.Backoff = session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 20 * time.Millisecond}
	c := newClient(t, cfg)
	failed, failures := counter()
	c.OnError(func(error) { failed() })

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, protocol.ErrHandshakeFailed)
	require.Eventually(t, func() bool { return failures() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, c.Status().ReconnectAttempt, 2)
	require.NotEmpty(t, c.Status().LastError)

	c.Disconnect()
	time.Sleep(50 * time.Millisecond)
	settled := failures()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, settled, failures())
}

func TestVerbsRequireSession(t *testing.T) {
	h := newHarness(t)
	c := newClient(t, h.config())
	_, err := c.Write(context.Background(), 10, "hi", 1, carriage.WriteOptions{})
	require.ErrorIs(t, err, protocol.ErrNotReady)
	_, err = c.UploadPhoto(context.Background(), 10, "/nonexistent.jpg", UploadOptions{})
	require.ErrorIs(t, err, protocol.ErrNotReady)

	c.Shutdown()
	require.ErrorIs(t, c.Connect(context.Background()), ErrShutdown)
	_, err = c.Session()
	require.ErrorIs(t, err, ErrShutdown)
}

func TestWriteAndSyncObserveLogs(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.carriage.Handle(protocol.MethodWrite, func(sc *locotest.ServerConn, req frame.Packet) {
		sc.Reply(req, body.NewMapping(
			body.KV("chatId", body.Long(10)),
			body.KV("logId", body.Long(200)),
			body.KV("msgId", body.Long(req.Body.LongOr("msgId", 0))),
		))
	})
	h.carriage.Reply(protocol.MethodSyncMsg, body.NewMapping(
		body.KV("chatLogs", body.Seq(
			body.Map(body.NewMapping(body.KV("logId", body.Long(300)), body.KV("chatId", body.Long(10)))),
		)),
		body.KV("isOK", body.Bool(true)),
	))
	c := newClient(t, h.config())
	require.NoError(t, c.Connect(context.Background()))

	ack, err := c.Write(context.Background(), 10, "hi", 1, carriage.WriteOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(200), ack.LogID)
	room, _ := c.Room(10)
	require.Equal(t, int64(200), room.LastLogID)

	res, err := c.SyncMessages(context.Background(), 10, SyncOptions{Since: 200})
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)
	room, _ = c.Room(10)
	require.Equal(t, int64(300), room.LastLogID)
	syncReq := h.carriage.Requests(protocol.MethodSyncMsg)[0]
	require.Equal(t, int64(200), syncReq.Body.LongOr("max", 0))
}
