package client

import (
	"context"

	"github.com/aodjo/KakaoForge-sub001/internal/carriage"
	"github.com/aodjo/KakaoForge-sub001/internal/rooms"
	"github.com/rs/zerolog/log"
)

// handleMessage runs on the room's pipeline worker. Name lookups are bounded
// by the resolver timeout and their failures only leave names empty.
func (c *Client) handleMessage(ctx context.Context, item rooms.Item) error {
	cl := item.Log
	cl.ChatID = item.ChatID
	advanced := c.rooms.ObserveLog(cl)

	sender := cl.AuthorName
	switch {
	case sender != "" && cl.AuthorID != 0:
		c.members.Merge(item.ChatID, []carriage.Member{{UserID: cl.AuthorID, Nickname: sender}}, false)
	case cl.AuthorID != 0:
		name, err := c.resolver.MemberName(ctx, item.ChatID, cl.AuthorID)
		if err != nil {
			log.Debug().Msgf("client.handleMessage sender lookup chat=%d user=%d err=%v", item.ChatID, cl.AuthorID, err)
		}
		sender = name
	}

	title, err := c.resolver.RoomTitle(ctx, item.ChatID)
	if err != nil {
		log.Debug().Msgf("client.handleMessage title lookup chat=%d err=%v", item.ChatID, err)
	}

	c.handlers.emitMessage(Message{
		ChatID:     item.ChatID,
		Log:        cl,
		RoomTitle:  title,
		SenderName: sender,
		New:        advanced,
		Received:   item.Received,
	})
	return nil
}
