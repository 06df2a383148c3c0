package client

import (
	"context"

	"github.com/aodjo/KakaoForge-sub001/internal/carriage"
	"github.com/aodjo/KakaoForge-sub001/internal/upload"
)

// Write sends a message and records the acknowledged log.
func (c *Client) Write(ctx context.Context, chatID int64, text string, msgType int32, opts carriage.WriteOptions) (carriage.WriteAck, error) {
	cc, err := c.Session()
	if err != nil {
		return carriage.WriteAck{}, err
	}
	chatID = c.rooms.Aliases().Resolve(chatID)
	ack, err := cc.Write(ctx, chatID, text, msgType, opts)
	if err != nil {
		return ack, err
	}
	cl := ack.Log
	if cl.ChatID == 0 {
		cl = carriage.ChatLog{ChatID: chatID, LogID: ack.LogID}
	}
	c.rooms.ObserveLog(cl)
	return ack, nil
}

// SyncOptions selects a SYNCMSG page. Zero Max means the room's last known
// log id.
type SyncOptions struct {
	Since int64
	Count int32
	Max   int64
}

const defaultSyncCount = 50

func (c *Client) SyncMessages(ctx context.Context, chatID int64, opts SyncOptions) (carriage.SyncResult, error) {
	cc, err := c.Session()
	if err != nil {
		return carriage.SyncResult{}, err
	}
	chatID = c.rooms.Aliases().Resolve(chatID)
	if opts.Count <= 0 {
		opts.Count = defaultSyncCount
	}
	if opts.Max == 0 {
		if room, ok := c.rooms.Get(chatID); ok {
			opts.Max = room.LastLogID
		}
	}
	res, err := cc.SyncMessages(ctx, chatID, opts.Since, opts.Count, opts.Max)
	if err != nil {
		return res, err
	}
	for _, l := range res.Logs {
		if l.ChatID == 0 {
			l.ChatID = chatID
		}
		c.rooms.ObserveLog(l)
	}
	return res, nil
}

// MarkRead sends NOTIREAD and raises the cached read marker.
func (c *Client) MarkRead(ctx context.Context, chatID, logID int64) error {
	cc, err := c.Session()
	if err != nil {
		return err
	}
	chatID = c.rooms.Aliases().Resolve(chatID)
	room, _ := c.rooms.Get(chatID)
	if err := cc.MarkRead(ctx, chatID, logID, room.OpenLinkID); err != nil {
		return err
	}
	c.rooms.MarkSeen(chatID, logID)
	return nil
}

// UploadOptions are the per-file upload parameters.
type UploadOptions struct {
	Name     string
	Checksum string
	Width    int32
	Height   int32
	Duration int32
	Progress upload.ProgressFunc
}

func (c *Client) UploadPhoto(ctx context.Context, chatID int64, path string, opts UploadOptions) (upload.Result, error) {
	return c.upload(ctx, upload.KindPhoto, chatID, path, opts)
}

func (c *Client) UploadVideo(ctx context.Context, chatID int64, path string, opts UploadOptions) (upload.Result, error) {
	return c.upload(ctx, upload.KindVideo, chatID, path, opts)
}

func (c *Client) UploadAudio(ctx context.Context, chatID int64, path string, opts UploadOptions) (upload.Result, error) {
	return c.upload(ctx, upload.KindAudio, chatID, path, opts)
}

func (c *Client) UploadFile(ctx context.Context, chatID int64, path string, opts UploadOptions) (upload.Result, error) {
	return c.upload(ctx, upload.KindFile, chatID, path, opts)
}

func (c *Client) upload(ctx context.Context, kind upload.Kind, chatID int64, path string, opts UploadOptions) (upload.Result, error) {
	cc, err := c.Session()
	if err != nil {
		return upload.Result{}, err
	}
	chatID = c.rooms.Aliases().Resolve(chatID)
	res, err := c.uploader(cc).Upload(ctx, upload.Request{
		ChatID:   chatID,
		Kind:     kind,
		Path:     path,
		Name:     opts.Name,
		Checksum: opts.Checksum,
		Width:    opts.Width,
		Height:   opts.Height,
		Duration: opts.Duration,
		Progress: opts.Progress,
	})
	if err != nil {
		return res, err
	}
	if res.ChatLog.LogID != 0 {
		cl := res.ChatLog
		if cl.ChatID == 0 {
			cl.ChatID = chatID
		}
		c.rooms.ObserveLog(cl)
	}
	return res, nil
}
