package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
	"github.com/aodjo/KakaoForge-sub001/internal/testutil/locotest"
	"github.com/aodjo/KakaoForge-sub001/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func unnamedPush(chatID, logID, authorID int64) body.Mapping {
	return body.NewMapping(
		body.KV("chatId", body.Long(chatID)),
		body.KV("chatLog", body.Map(body.NewMapping(
			body.KV("logId", body.Long(logID)),
			body.KV("chatId", body.Long(chatID)),
			body.KV("authorId", body.Long(authorID)),
			body.KV("message", body.String("flood")),
			body.KV("type", body.Int(1)),
		))),
	)
}

func TestPushFloodDuringLoginKeepsResponses(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	const flood = 300
	h.carriage.Handle(protocol.MethodLoginList, func(sc *locotest.ServerConn, req frame.Packet) {
		sc.Reply(req, loginBody().Set("eof", body.Bool(false)))
		for i := 1; i <= flood; i++ {
			sc.Push("MSG", msgPush(10, int64(100+i), "queued"))
		}
	})
	h.carriage.Reply(protocol.MethodLChatList, body.NewMapping(
		body.KV("eof", body.Bool(true)),
		body.KV("chatDatas", body.Seq(body.Map(body.NewMapping(
			body.KV("c", body.Long(30)),
			body.KV("t", body.String("DirectChat")),
			body.KV("title", body.String("late page")),
		)))),
	))
	c := newClient(t, h.config())
	var delivered atomic.Int32
	c.OnMessage(func(Message) { delivered.Add(1) })

	start := time.Now()
	require.NoError(t, c.Connect(context.Background()))
	require.Less(t, time.Since(start), h.config().Carriage.RequestTimeout)

	late, ok := c.Room(30)
	require.True(t, ok, "room from the second chat list page")
	require.Equal(t, "late page", late.Title)
	open, _ := c.Room(20)
	require.Equal(t, "open room", open.Title)

	require.Eventually(t, func() bool { return delivered.Load() == flood }, 5*time.Second, 10*time.Millisecond)
	room, _ := c.Room(10)
	require.Equal(t, int64(100+flood), room.LastLogID)
}

func TestNameLookupDuringPushFlood(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.carriage.Reply(protocol.MethodMember, body.NewMapping(body.KV("members", body.Seq(
		body.Map(body.NewMapping(body.KV("userId", body.Long(99)), body.KV("nickName", body.String("zed")))),
	))))
	cfg := h.config()
	cfg.Members.LookupTimeout = 2 * time.Second
	c := newClient(t, cfg)

	var mu sync.Mutex
	var handled, unnamed int
	c.OnMessage(func(m Message) {
		mu.Lock()
		defer mu.Unlock()
		handled++
		if m.SenderName != "zed" {
			unnamed++
		}
	})
	require.NoError(t, c.Connect(context.Background()))
	sc, err := h.carriage.WaitConn(time.Second)
	require.NoError(t, err)

	const flood = 400
	start := time.Now()
	for i := 1; i <= flood; i++ {
		sc.Push("MSG", unnamedPush(10, int64(100+i), 99))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == flood
	}, 5*time.Second, 10*time.Millisecond)
	require.Less(t, time.Since(start), cfg.Members.LookupTimeout)

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, unnamed)
	require.Len(t, h.carriage.Requests(protocol.MethodMember), 1)
}

func TestKeepalivePingsAtInterval(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	cfg := h.config()
	cfg.KeepaliveInterval = 50 * time.Millisecond
	c := newClient(t, cfg)

	start := time.Now()
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return len(h.carriage.Requests(protocol.MethodPing)) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, time.Since(start), 3*cfg.KeepaliveInterval)
	require.Equal(t, StateConnected, c.State())
}

func TestUnansweredPingClosesSessionAndReconnects(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.carriage.Handle(protocol.MethodPing, func(*locotest.ServerConn, frame.Packet) {})
	cfg := h.config()
	cfg.KeepaliveInterval = 50 * time.Millisecond
	cfg.Carriage.RequestTimeout = 300 * time.Millisecond
	c := newClient(t, cfg)
	lost := make(chan error, 4)
	c.OnDisconnect(func(err error) { lost <- err })

	require.NoError(t, c.Connect(context.Background()))
	select {
	case err := <-lost:
		require.ErrorIs(t, err, protocol.ErrConnectionClosed)
	case <-time.After(3 * time.Second):
		t.Fatalf("unanswered pings did not close the session")
	}
	require.GreaterOrEqual(t, len(h.carriage.Requests(protocol.MethodPing)), maxPingFailures)
	require.Eventually(t, func() bool {
		return len(h.carriage.Requests(protocol.MethodLoginList)) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func getMemBody() body.Mapping {
	return body.NewMapping(body.KV("members", body.Seq(
		body.Map(body.NewMapping(body.KV("userId", body.Long(1)), body.KV("nickName", body.String("ann")))),
		body.Map(body.NewMapping(body.KV("userId", body.Long(3)), body.KV("nickName", body.String("cy")))),
	)))
}

func TestMemberRefreshOncePerTick(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.carriage.Reply(protocol.MethodGetMem, getMemBody())
	cfg := h.config()
	cfg.Members.TTL = time.Millisecond
	cfg.Members.RefreshInterval = 100 * time.Millisecond
	c := newClient(t, cfg)

	require.NoError(t, c.Connect(context.Background()))
	getMem := func() int { return len(h.carriage.Requests(protocol.MethodGetMem)) }
	require.Eventually(t, func() bool { return getMem() == 1 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return getMem() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	require.Eventually(t, func() bool { return getMem() == 2 }, time.Second, 5*time.Millisecond)

	for _, req := range h.carriage.Requests(protocol.MethodGetMem) {
		require.Equal(t, int64(10), req.Body.LongOr("chatId", 0))
	}
	name, err := c.MemberName(context.Background(), 10, 3)
	require.NoError(t, err)
	require.Equal(t, "cy", name)
	require.Empty(t, h.carriage.Requests(protocol.MethodMember))

	c.Shutdown()
	settled := getMem()
	time.Sleep(250 * time.Millisecond)
	require.Equal(t, settled, getMem())
}

func TestShutdownWaitsForMemberRefresh(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	started := make(chan struct{}, 1)
	h.carriage.Handle(protocol.MethodGetMem, func(*locotest.ServerConn, frame.Packet) {
		select {
		case started <- struct{}{}:
		default:
		}
	})
	cfg := h.config()
	cfg.Members.TTL = time.Millisecond
	cfg.Members.RefreshInterval = 50 * time.Millisecond
	cfg.Members.LookupTimeout = 5 * time.Second
	c := newClient(t, cfg)
	require.NoError(t, c.Connect(context.Background()))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("member refresh never ran")
	}
	done := make(chan struct{})
	go func() {
		c.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("shutdown blocked on member refresh")
	}
	settled := len(h.carriage.Requests(protocol.MethodGetMem))
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, settled, len(h.carriage.Requests(protocol.MethodGetMem)))
}
