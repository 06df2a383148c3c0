package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/secure"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/session"
	"github.com/aodjo/KakaoForge-sub001/internal/testutil/locotest"
	"github.com/aodjo/KakaoForge-sub001/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *locotest.Server, opts ...session.Option) *session.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := session.Dial(ctx, srv.Addr(), srv.SessionConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRequestCorrelatesResponse(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	srv.Handle("ECHO", func(sc *locotest.ServerConn, req frame.Packet) {
		sc.Reply(req, req.Body)
	})
	conn := dial(t, srv)
	require.Equal(t, session.StateReady, conn.State())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := body.NewMapping(body.KV("n", body.Long(int64(i)<<40)))
			out, err := conn.Call(context.Background(), "ECHO", in)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, int64(i)<<40, out.LongOr("n", -1))
		}(i)
	}
	wg.Wait()
	require.Empty(t, conn.Pending())
}

func TestUnmatchedPacketsArePushes(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	srv.Handle("PING", func(sc *locotest.ServerConn, req frame.Packet) {
		sc.Push("MSG", body.NewMapping(body.KV("chatId", body.Long(7))))
		sc.Reply(req, nil)
	})
	conn := dial(t, srv)
	_, err := conn.Call(context.Background(), "PING", nil)
	require.NoError(t, err)

	select {
	case pkt := <-conn.Pushes():
		require.Equal(t, "MSG", pkt.Method)
		require.Equal(t, int64(7), pkt.Body.LongOr("chatId", 0))
	case <-time.After(2 * time.Second):
		t.Fatalf("push not delivered")
	}
}

func TestUnreadPushesDoNotStallResponses(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	const flood = 600
	srv.Handle("FLOOD", func(sc *locotest.ServerConn, req frame.Packet) {
		for i := 0; i < flood; i++ {
			sc.Push("MSG", body.NewMapping(body.KV("n", body.Long(int64(i)))))
		}
		sc.Reply(req, nil)
	})
	srv.Reply("PING", nil)
	cfg := srv.SessionConfig()
	cfg.PushBuffer = 8
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := session.Dial(ctx, srv.Addr(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Call(context.Background(), "FLOOD", nil)
	require.NoError(t, err)
	_, err = conn.Call(context.Background(), "PING", nil)
	require.NoError(t, err)
	require.Greater(t, conn.PushBacklog(), 0)

	for i := 0; i < flood; i++ {
		select {
		case pkt := <-conn.Pushes():
			require.Equal(t, int64(i), pkt.Body.LongOr("n", -1))
		case <-time.After(2 * time.Second):
			t.Fatalf("push %d not delivered", i)
		}
	}
	require.Zero(t, conn.PushBacklog())
}

func TestRequestTimeoutKeepsConnectionOpen(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	srv.Handle("DELAYED", func(sc *locotest.ServerConn, req frame.Packet) {
		go func() {
			time.Sleep(150 * time.Millisecond)
			sc.Reply(req, body.NewMapping(body.KV("ok", body.Bool(true))))
		}()
	})
	conn := dial(t, srv)

	slowErr := make(chan error, 1)
	var slowTook time.Duration
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err := conn.Request(ctx, "SILENT", nil)
		slowTook = time.Since(start)
		slowErr <- err
	}()

	out, err := conn.Call(context.Background(), "DELAYED", nil)
	require.NoError(t, err)
	require.True(t, out.BoolOr("ok", false))

	err = <-slowErr
	require.ErrorIs(t, err, protocol.ErrRequestTimeout)
	require.Less(t, slowTook, 140*time.Millisecond)
	require.Equal(t, session.StateReady, conn.State())
	require.Empty(t, conn.Pending())
}

func TestCloseRejectsPendingRequests(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	conn := dial(t, srv)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := conn.Request(context.Background(), "SILENT", nil)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return len(conn.Pending()) == 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, <-errs, protocol.ErrConnectionClosed)
	}
	<-conn.Done()
	require.Equal(t, session.StateClosed, conn.State())
	require.Error(t, conn.Err())

	_, err := conn.Request(context.Background(), "PING", nil)
	require.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestPeerCloseFiresDoneOnce(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	srv.Handle("BYE", func(sc *locotest.ServerConn, req frame.Packet) {
		sc.Close()
	})
	conn := dial(t, srv)
	_, err := conn.Request(context.Background(), "BYE", nil)
	require.ErrorIs(t, err, protocol.ErrConnectionClosed)
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("done not closed")
	}
	_, open := <-conn.Pushes()
	require.False(t, open)
}

func TestRemoteStatusSurfacesAsTypedError(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	srv.Handle("WRITE", func(sc *locotest.ServerConn, req frame.Packet) {
		sc.Reply(req, body.NewMapping(body.KV("status", body.Int(-950))))
	})
	srv.Handle("GETMEM", func(sc *locotest.ServerConn, req frame.Packet) {
		sc.ReplyStatus(req, -500, nil)
	})
	conn := dial(t, srv)

	_, err := conn.Call(context.Background(), "WRITE", nil)
	code, ok := protocol.StatusCode(err)
	require.True(t, ok, "err=%v", err)
	require.Equal(t, -950, code)

	_, err = conn.Call(context.Background(), "GETMEM", nil)
	code, ok = protocol.StatusCode(err)
	require.True(t, ok)
	require.Equal(t, -500, code)
}

func TestSubscribeTakesPrecedenceOverPushes(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	srv.Handle("POST", func(sc *locotest.ServerConn, req frame.Packet) {
		sc.Reply(req, nil)
		sc.Push("COMPLETE", body.NewMapping(body.KV("status", body.Int(0))))
	})
	conn := dial(t, srv)
	complete, cancel := conn.Subscribe("COMPLETE")
	defer cancel()
	_, err := conn.Call(context.Background(), "POST", nil)
	require.NoError(t, err)

	select {
	case pkt, ok := <-complete:
		require.True(t, ok)
		require.Equal(t, "COMPLETE", pkt.Method)
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription not fired")
	}
	select {
	case pkt := <-conn.Pushes():
		t.Fatalf("unexpected push %s", pkt.Method)
	default:
	}
}

func TestTLSAndSecureLayer(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{TLS: true, Secure: true})
	srv.Handle("ECHO", func(sc *locotest.ServerConn, req frame.Packet) {
		sc.Reply(req, req.Body)
	})
	for _, suite := range []secure.Suite{secure.SuiteCFB, secure.SuiteGCM, secure.SuiteChaCha} {
		conn := dial(t, srv, session.WithRole("carriage"), session.WithHandshaker(srv.Handshaker(suite)))
		out, err := conn.Call(context.Background(), "ECHO", body.NewMapping(body.KV("suite", body.String(string(suite)))))
		require.NoError(t, err)
		require.Equal(t, string(suite), out.StringOr("suite", ""))
	}
}

func TestConnectFailureIsHandshakeFailed(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	addr := srv.Addr()
	srv.Close()

	_, err := session.Dial(context.Background(), addr, srv.SessionConfig())
	require.ErrorIs(t, err, protocol.ErrHandshakeFailed)

	cfg := srv.SessionConfig()
	cfg.SecurityMode = session.SecurityModeProduction
	_, err = session.Dial(context.Background(), addr, cfg)
	require.ErrorIs(t, err, protocol.ErrHandshakeFailed)
	require.True(t, errors.Is(err, session.ErrTLSRequired))
}
