// Package upload streams one file to a trailer endpoint: SHIP, optional
// GETTRAILER, POST on a second connection, the raw byte stream, and the
// COMPLETE push.
package upload

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/carriage"
	"github.com/aodjo/KakaoForge-sub001/internal/directory"
	"github.com/aodjo/KakaoForge-sub001/internal/observability"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/frame"
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Kind is the chat log type an upload produces.
type Kind int32

const (
	KindPhoto Kind = 2
	KindVideo Kind = 3
	KindAudio Kind = 5
	KindFile  Kind = 18
)

func (k Kind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

var (
	ErrSourceRequired = errors.New("upload: path or source required")
	ErrBadOffset      = errors.New("upload: trailer offset out of range")
)

// Shipper issues the control verbs on the carriage session.
type Shipper interface {
	Ship(ctx context.Context, chatID int64, size int64, logType int32, checksum, ext string) (carriage.ShipResult, error)
	GetTrailer(ctx context.Context, key string, logType int32) (carriage.ShipResult, error)
}

// TrailerDialer opens the second connection to a trailer endpoint.
type TrailerDialer func(ctx context.Context, ep directory.Endpoint) (*carriage.Client, error)

type Config struct {
	CompletionTimeout time.Duration
	ChunkSize         int
}

func DefaultConfig() Config {
	return Config{
		CompletionTimeout: 30 * time.Second,
		ChunkSize:         64 * 1024,
	}
}

// ProgressFunc receives cumulative bytes the trailer holds and the total.
type ProgressFunc func(sent, total int64)

// Request describes one upload. Either Path or Source must be set.
type Request struct {
	ChatID   int64
	Kind     Kind
	Path     string
	Source   io.ReadSeeker
	Size     int64
	Name     string
	Checksum string
	Width    int32
	Height   int32
	Duration int32
	Progress ProgressFunc
}

// Result is the acknowledged upload.
type Result struct {
	AccessKey  string
	Attachment string
	ChatLog    carriage.ChatLog
}

type Uploader struct {
	cfg     Config
	shipper Shipper
	dial    TrailerDialer
}

func New(shipper Shipper, dial TrailerDialer, cfg Config) *Uploader {
	def := DefaultConfig()
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = def.CompletionTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	return &Uploader{cfg: cfg, shipper: shipper, dial: dial}
}

func failed(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", protocol.ErrUploadFailed, step, err)
}

// Upload runs the whole sequence once. Failures are not retried; the trailer
// connection is always closed before returning.
func (u *Uploader) Upload(ctx context.Context, req Request) (res Result, err error) {
	defer func() {
		observability.RecordUpload(req.Kind.String(), err == nil)
	}()

	src, size, name, closeSrc, err := openSource(req)
	if err != nil {
		return Result{}, failed("open", err)
	}
	defer closeSrc()

	checksum := req.Checksum
	if checksum == "" {
		checksum, err = sha1Hex(src)
		if err != nil {
			return Result{}, failed("checksum", err)
		}
	}
	ext := strings.TrimPrefix(filepath.Ext(name), ".")

	ship, err := u.shipper.Ship(ctx, req.ChatID, size, int32(req.Kind), checksum, ext)
	if err != nil {
		return Result{}, failed(protocol.MethodShip, err)
	}
	if !ship.HasEndpoint() {
		tr, err := u.shipper.GetTrailer(ctx, ship.Key, int32(req.Kind))
		if err != nil {
			return Result{}, failed(protocol.MethodGetTrailer, err)
		}
		if !tr.HasEndpoint() {
			return Result{}, failed(protocol.MethodGetTrailer, errors.New("no trailer endpoint"))
		}
		ship.Host, ship.Port = tr.Host, tr.Port
	}
	ep := directory.Endpoint{Host: ship.Host, Port: ship.Port}

	trailer, err := u.dial(ctx, ep)
	if err != nil {
		return Result{}, failed("trailer dial", err)
	}
	defer trailer.Close()

	complete, cancelComplete := trailer.Conn().Subscribe(protocol.PushComplete.Token())
	defer cancelComplete()

	offset, err := trailer.Post(ctx, carriage.PostRequest{
		Key:      ship.Key,
		Size:     size,
		Filename: name,
		LogType:  int32(req.Kind),
		ChatID:   req.ChatID,
		Width:    req.Width,
		Height:   req.Height,
		Duration: req.Duration,
	})
	if err != nil {
		return Result{}, failed(protocol.MethodPost, err)
	}
	if offset < 0 || offset > size {
		return Result{}, failed(protocol.MethodPost, fmt.Errorf("%w: offset=%d size=%d", ErrBadOffset, offset, size))
	}
	log.Debug().Msgf("upload.Upload post key=%s addr=%s size=%d offset=%d", ship.Key, ep.Addr(), size, offset)

	if err := u.stream(ctx, trailer.Conn(), src, offset, size, req); err != nil {
		return Result{}, failed("stream", err)
	}

	chatLog, err := u.awaitComplete(ctx, complete)
	if err != nil {
		return Result{}, err
	}
	return Result{
		AccessKey:  ship.Key,
		Attachment: chatLog.Attachment,
		ChatLog:    chatLog,
	}, nil
}

func (u *Uploader) stream(ctx context.Context, conn *session.Conn, src io.ReadSeeker, offset, size int64, req Request) error {
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	sent := offset
	if req.Progress != nil {
		req.Progress(sent, size)
	}
	buf := make([]byte, u.cfg.ChunkSize)
	for sent < size {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := int64(len(buf))
		if rest := size - sent; rest < want {
			want = rest
		}
		n, err := io.ReadFull(src, buf[:want])
		if err != nil {
			return fmt.Errorf("read at %d: %w", sent, err)
		}
		if err := conn.WriteRaw(buf[:n]); err != nil {
			return err
		}
		sent += int64(n)
		observability.RecordUploadBytes(req.Kind.String(), n)
		if req.Progress != nil {
			req.Progress(sent, size)
		}
	}
	return nil
}

func (u *Uploader) awaitComplete(ctx context.Context, complete <-chan frame.Packet) (carriage.ChatLog, error) {
	timer := time.NewTimer(u.cfg.CompletionTimeout)
	defer timer.Stop()
	select {
	case pkt, ok := <-complete:
		if !ok {
			return carriage.ChatLog{}, failed(protocol.PushComplete.Token(), protocol.ErrConnectionClosed)
		}
		if err := session.CheckStatus(pkt); err != nil {
			return carriage.ChatLog{}, failed(protocol.PushComplete.Token(), err)
		}
		var cl carriage.ChatLog
		if m, err := pkt.Body.Map("chatLog"); err == nil {
			cl = carriage.ParseChatLog(m)
		}
		return cl, nil
	case <-timer.C:
		return carriage.ChatLog{}, fmt.Errorf("%w: %w after %s", protocol.ErrUploadFailed, protocol.ErrCompletionTimeout, u.cfg.CompletionTimeout)
	case <-ctx.Done():
		return carriage.ChatLog{}, failed(protocol.PushComplete.Token(), ctx.Err())
	}
}

func openSource(req Request) (io.ReadSeeker, int64, string, func(), error) {
	name := req.Name
	if req.Source != nil {
		size := req.Size
		if size <= 0 {
			end, err := req.Source.Seek(0, io.SeekEnd)
			if err != nil {
				return nil, 0, "", nil, err
			}
			size = end
		}
		if _, err := req.Source.Seek(0, io.SeekStart); err != nil {
			return nil, 0, "", nil, err
		}
		if name == "" {
			name = "upload"
		}
		return req.Source, size, name, func() {}, nil
	}
	if strings.TrimSpace(req.Path) == "" {
		return nil, 0, "", nil, ErrSourceRequired
	}
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, 0, "", nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, "", nil, err
	}
	if name == "" {
		name = filepath.Base(req.Path)
	}
	return f, info.Size(), name, func() { _ = f.Close() }, nil
}

func sha1Hex(src io.ReadSeeker) (string, error) {
	h := sha1.New()
	if _, err := io.Copy(h, src); err != nil {
		return "", err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
