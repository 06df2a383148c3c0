package directory

import (
	"fmt"
	"net"
	"strconv"

	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
)

// DefaultRelayPort is used when GETCONF lists relay hosts without ports.
const DefaultRelayPort = 443

// Endpoint is one resolved host/port pair.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string { return e.Addr() }

// TranscodeProfile is one quality tier for the media transcode collaborator.
type TranscodeProfile struct {
	Tier            string
	VideoResolution int
	VideoBitrate    int
	VideoFPS        int
	VideoCodec      string
	AudioCodec      string
	AudioFrequency  int
	UploadMaxSize   int64
}

// Conf is the routing and transcode document returned by GETCONF.
type Conf struct {
	RelayHosts    []string
	RelayHosts6   []string
	PortsWifi     []int
	PortsCellular []int
	Transcode     []TranscodeProfile
	// Warnings lists defaults applied while parsing.
	Warnings []string
}

// ParseConf reads a GETCONF body. It never fails: unknown fields are ignored
// and missing or mistyped fields fall back to empty values.
func ParseConf(b body.Mapping) Conf {
	var c Conf
	if ticket, err := b.Map("ticket"); err == nil {
		c.RelayHosts = stringList(ticket, "lsl")
		c.RelayHosts6 = stringList(ticket, "lsl6")
	}
	if wifi, err := b.Map("wifi"); err == nil {
		c.PortsWifi = intList(wifi, "ports")
	}
	if cell, err := b.Map("3g"); err == nil {
		c.PortsCellular = intList(cell, "ports")
	}

	hasHosts := len(c.RelayHosts)+len(c.RelayHosts6) > 0
	switch {
	case !hasHosts:
	case len(c.PortsWifi) == 0 && len(c.PortsCellular) == 0:
		c.PortsWifi = []int{DefaultRelayPort}
		c.PortsCellular = []int{DefaultRelayPort}
		c.Warnings = append(c.Warnings, fmt.Sprintf("getconf: relay hosts without ports, defaulting to [%d]", DefaultRelayPort))
	case len(c.PortsWifi) == 0:
		c.PortsWifi = append([]int(nil), c.PortsCellular...)
		c.Warnings = append(c.Warnings, "getconf: wifi ports missing, using cellular ports")
	case len(c.PortsCellular) == 0:
		c.PortsCellular = append([]int(nil), c.PortsWifi...)
		c.Warnings = append(c.Warnings, "getconf: cellular ports missing, using wifi ports")
	}

	if tr, err := b.Map("trailer"); err == nil {
		c.Transcode = append(c.Transcode, parseProfile("standard", tr))
	}
	if tr, err := b.Map("trailer.h"); err == nil {
		c.Transcode = append(c.Transcode, parseProfile("high", tr))
	}
	return c
}

func parseProfile(tier string, m body.Mapping) TranscodeProfile {
	return TranscodeProfile{
		Tier:            tier,
		VideoResolution: int(m.LongOr("vResolution", 0)),
		VideoBitrate:    int(m.LongOr("vBitrate", 0)),
		VideoFPS:        int(m.LongOr("vFps", 0)),
		VideoCodec:      m.StringOr("vCodec", ""),
		AudioCodec:      m.StringOr("aCodec", ""),
		AudioFrequency:  int(m.LongOr("aFrequency", 0)),
		UploadMaxSize:   m.LongOr("videoUpMaxSize", 0),
	}
}

// RelayCandidates lists (host, port) pairs in attempt order. Ports of the
// active network come first; IPv6 hosts follow IPv4 unless preferIPv6.
func (c Conf) RelayCandidates(netType auth.NetType, preferIPv6 bool) []Endpoint {
	first, second := c.PortsWifi, c.PortsCellular
	if netType == auth.NetCellular {
		first, second = c.PortsCellular, c.PortsWifi
	}
	var ports []int
	seen := make(map[int]struct{})
	for _, list := range [][]int{first, second} {
		for _, p := range list {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			ports = append(ports, p)
		}
	}
	hosts := append(append([]string(nil), c.RelayHosts...), c.RelayHosts6...)
	if preferIPv6 {
		hosts = append(append([]string(nil), c.RelayHosts6...), c.RelayHosts...)
	}
	var out []Endpoint
	for _, h := range hosts {
		for _, p := range ports {
			out = append(out, Endpoint{Host: h, Port: p})
		}
	}
	return out
}

func stringList(m body.Mapping, key string) []string {
	items, err := m.Seq(key)
	if err != nil {
		return nil
	}
	var out []string
	for _, v := range items {
		if s, err := v.AsString(); err == nil && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intList(m body.Mapping, key string) []int {
	items, err := m.Seq(key)
	if err != nil {
		return nil
	}
	var out []int
	for _, v := range items {
		if n, err := v.AsLong(); err == nil && n > 0 && n <= 65535 {
			out = append(out, int(n))
		}
	}
	return out
}
