package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
)

const (
	HeaderLen = 22
	MethodLen = 11

	BodyTypeBSON uint8 = 0
)

var (
	ErrShortHeader         = errors.New("frame: short header")
	ErrBodyTooLarge        = errors.New("frame: body too large")
	ErrMethodTooLong       = errors.New("frame: method too long")
	ErrMethodInvalid       = errors.New("frame: method not printable ascii")
	ErrUnsupportedBodyType = errors.New("frame: unsupported body type")
)

// Header is the fixed little-endian wire header.
type Header struct {
	ID       uint32
	Status   int16
	Method   string
	BodyType uint8
	BodyLen  uint32
}

// Packet is one decoded wire message.
type Packet struct {
	ID       uint32
	Status   int16
	Method   string
	BodyType uint8
	Body     body.Mapping
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxBodyBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes: 16 * 1024 * 1024,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxBodyBytes == 0 {
		l.MaxBodyBytes = DefaultLimits().MaxBodyBytes
	}
	return l
}

// Encode serializes p into one contiguous frame.
func Encode(p Packet, limits Limits) ([]byte, error) {
	limits = limits.withDefaults()
	if p.BodyType != BodyTypeBSON {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBodyType, p.BodyType)
	}
	payload, err := body.Encode(p.Body)
	if err != nil {
		return nil, err
	}
	if uint64(len(payload)) > uint64(limits.MaxBodyBytes) {
		return nil, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, len(payload), limits.MaxBodyBytes)
	}
	hb, err := EncodeHeader(Header{
		ID:       p.ID,
		Status:   p.Status,
		Method:   p.Method,
		BodyType: p.BodyType,
		BodyLen:  uint32(len(payload)),
	})
	if err != nil {
		return nil, err
	}
	return append(hb, payload...), nil
}

// Decode extracts the first complete frame from buf. It returns consumed=0
// and a nil packet when buf does not yet hold a full frame.
func Decode(buf []byte, limits Limits) (int, *Packet, error) {
	limits = limits.withDefaults()
	if len(buf) < HeaderLen {
		return 0, nil, nil
	}
	h, err := DecodeHeader(buf[:HeaderLen])
	if err != nil {
		return 0, nil, protocol.NewDecodeError(err)
	}
	if h.BodyLen > limits.MaxBodyBytes {
		return 0, nil, protocol.NewDecodeError(fmt.Errorf("%w: method=%s len=%d", ErrBodyTooLarge, h.Method, h.BodyLen))
	}
	total := HeaderLen + int(h.BodyLen)
	if len(buf) < total {
		return 0, nil, nil
	}
	p, err := decodeBody(h, buf[HeaderLen:total])
	if err != nil {
		return 0, nil, err
	}
	return total, &p, nil
}

func decodeBody(h Header, raw []byte) (Packet, error) {
	if h.BodyType != BodyTypeBSON {
		return Packet{}, protocol.NewDecodeError(fmt.Errorf("%w: %d", ErrUnsupportedBodyType, h.BodyType))
	}
	b, err := body.Decode(raw)
	if err != nil {
		return Packet{}, protocol.NewDecodeError(fmt.Errorf("method=%s: %w", h.Method, err))
	}
	return Packet{
		ID:       h.ID,
		Status:   h.Status,
		Method:   h.Method,
		BodyType: h.BodyType,
		Body:     b,
	}, nil
}

// ReadPacket blocks until one full frame has been read from r.
func ReadPacket(r io.Reader, limits Limits) (Packet, error) {
	limits = limits.withDefaults()
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, ErrShortHeader
		}
		return Packet{}, err
	}
	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Packet{}, protocol.NewDecodeError(err)
	}
	if h.BodyLen > limits.MaxBodyBytes {
		return Packet{}, protocol.NewDecodeError(ErrBodyTooLarge)
	}
	raw := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Packet{}, err
	}
	return decodeBody(h, raw)
}

func WritePacket(w io.Writer, p Packet, limits Limits) error {
	data, err := Encode(p, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func EncodeHeader(h Header) ([]byte, error) {
	if len(h.Method) > MethodLen {
		return nil, fmt.Errorf("%w: %q", ErrMethodTooLong, h.Method)
	}
	for i := 0; i < len(h.Method); i++ {
		if h.Method[i] < 0x20 || h.Method[i] > 0x7e {
			return nil, fmt.Errorf("%w: %q", ErrMethodInvalid, h.Method)
		}
	}
	buf := make([]byte, HeaderLen, HeaderLen+int(h.BodyLen))
	binary.LittleEndian.PutUint32(buf[0:4], h.ID)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(h.Status))
	copy(buf[6:17], h.Method)
	buf[17] = h.BodyType
	binary.LittleEndian.PutUint32(buf[18:22], h.BodyLen)
	return buf, nil
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid header length: %d", len(b))
	}
	method := b[6:17]
	end := 0
	for end < len(method) && method[end] != 0 {
		end++
	}
	return Header{
		ID:       binary.LittleEndian.Uint32(b[0:4]),
		Status:   int16(binary.LittleEndian.Uint16(b[4:6])),
		Method:   string(method[:end]),
		BodyType: b[17],
		BodyLen:  binary.LittleEndian.Uint32(b[18:22]),
	}, nil
}
