package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
	"github.com/aodjo/KakaoForge-sub001/internal/testutil/locotest"
	"github.com/aodjo/KakaoForge-sub001/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func testIdentity() auth.Identity {
	return auth.Identity{
		Credential: auth.Credential{UserID: 9007199254740993, AccessToken: "tok", DeviceUUID: "dev"},
		Device:     auth.DefaultDevice(),
	}
}

func TestParseConfHostWithoutPortsDefaultsTo443(t *testing.T) {
	testlog.Start(t)
	conf := ParseConf(body.NewMapping(
		body.KV("ticket", body.Map(body.NewMapping(
			body.KV("lsl", body.Seq(body.String("ticket.example"))),
		))),
	))
	require.Equal(t, []string{"ticket.example"}, conf.RelayHosts)
	require.Equal(t, []int{443}, conf.PortsWifi)
	require.Equal(t, []int{443}, conf.PortsCellular)
	require.Len(t, conf.Warnings, 1)
	require.Equal(t, []Endpoint{{Host: "ticket.example", Port: 443}}, conf.RelayCandidates(auth.NetWifi, false))
}

func TestParseConfToleratesMalformedFields(t *testing.T) {
	testlog.Start(t)
	conf := ParseConf(body.NewMapping(
		body.KV("ticket", body.String("not a mapping")),
		body.KV("wifi", body.Map(body.NewMapping(body.KV("ports", body.Seq(body.String("x"), body.Int(-1), body.Int(5223)))))),
		body.KV("unknown", body.Bool(true)),
	))
	require.Empty(t, conf.RelayHosts)
	require.Equal(t, []int{5223}, conf.PortsWifi)
	require.Empty(t, conf.Warnings)
	require.Empty(t, conf.RelayCandidates(auth.NetWifi, false))
}

func TestRelayCandidatesOrderByNetwork(t *testing.T) {
	testlog.Start(t)
	conf := Conf{
		RelayHosts:    []string{"a"},
		RelayHosts6:   []string{"b6"},
		PortsWifi:     []int{443, 5223},
		PortsCellular: []int{995, 443},
	}
	require.Equal(t, []Endpoint{
		{Host: "a", Port: 995}, {Host: "a", Port: 443}, {Host: "a", Port: 5223},
		{Host: "b6", Port: 995}, {Host: "b6", Port: 443}, {Host: "b6", Port: 5223},
	}, conf.RelayCandidates(auth.NetCellular, false))
	got := conf.RelayCandidates(auth.NetWifi, true)
	require.Equal(t, Endpoint{Host: "b6", Port: 443}, got[0])
	require.Equal(t, Endpoint{Host: "a", Port: 995}, got[len(got)-1])
}

func TestParseConfTranscodeProfiles(t *testing.T) {
	testlog.Start(t)
	conf := ParseConf(body.NewMapping(
		body.KV("trailer", body.Map(body.NewMapping(
			body.KV("vResolution", body.Int(640)),
			body.KV("vBitrate", body.Int(1500000)),
			body.KV("vCodec", body.String("h264")),
			body.KV("videoUpMaxSize", body.Long(300<<20)),
		))),
		body.KV("trailer.h", body.Map(body.NewMapping(
			body.KV("vResolution", body.Int(1280)),
			body.KV("aFrequency", body.Int(48000)),
		))),
	))
	require.Len(t, conf.Transcode, 2)
	require.Equal(t, "standard", conf.Transcode[0].Tier)
	require.Equal(t, 640, conf.Transcode[0].VideoResolution)
	require.Equal(t, int64(300<<20), conf.Transcode[0].UploadMaxSize)
	require.Equal(t, "high", conf.Transcode[1].Tier)
	require.Equal(t, 48000, conf.Transcode[1].AudioFrequency)
}

func TestBookingCheckinAndGetConf(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{TLS: true})
	srv.Reply(protocol.MethodGetConf, body.NewMapping(
		body.KV("ticket", body.Map(body.NewMapping(body.KV("lsl", body.Seq(body.String("relay.example")))))),
		body.KV("wifi", body.Map(body.NewMapping(body.KV("ports", body.Seq(body.Int(5223)))))),
	))
	srv.Reply(protocol.MethodCheckin, body.NewMapping(
		body.KV("status", body.Int(0)),
		body.KV("host", body.String("carriage.example")),
		body.KV("port", body.Int(443)),
	))

	c, err := Open(context.Background(), srv.Addr(), srv.SessionConfig(), testIdentity())
	require.NoError(t, err)
	defer c.Close()

	conf, err := c.GetConf(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{5223}, conf.PortsCellular)

	ep, err := c.Checkin(context.Background())
	require.NoError(t, err)
	require.Equal(t, Endpoint{Host: "carriage.example", Port: 443}, ep)

	reqs := srv.Requests(protocol.MethodCheckin)
	require.Len(t, reqs, 1)
	require.Equal(t, int64(9007199254740993), reqs[0].Body.LongOr("userId", 0))
}

func TestRelayCheckinRejectsMissingEndpoint(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	srv.Handle(protocol.MethodCheckin, func(sc *locotest.ServerConn, req frame.Packet) {
		sc.Reply(req, body.NewMapping(body.KV("host", body.String(""))))
	})
	relay := Endpoint{Host: srv.Host(), Port: srv.Port()}
	_, err := RelayCheckin(context.Background(), relay, srv.SessionConfig(), testIdentity())
	require.True(t, errors.Is(err, ErrNoEndpoint), "err=%v", err)
}

func TestCheckinRemoteStatus(t *testing.T) {
	testlog.Start(t)
	srv := locotest.Start(t, locotest.Options{})
	srv.Reply(protocol.MethodCheckin, body.NewMapping(body.KV("status", body.Int(-999))))
	c, err := Open(context.Background(), srv.Addr(), srv.SessionConfig(), testIdentity())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Checkin(context.Background())
	code, ok := protocol.StatusCode(err)
	require.True(t, ok)
	require.Equal(t, -999, code)
}
