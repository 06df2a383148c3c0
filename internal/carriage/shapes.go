package carriage

import (
	"github.com/aodjo/KakaoForge-sub001/internal/protocol/body"
)

// MsgText is the chat log type of a plain text message. Attachment types
// are listed on upload.Kind.
const MsgText int32 = 1

// ID reads an id from the first present key. Doubles are accepted but
// flagged as truncated: older payloads carry ids as floats, which lose
// precision above 2^53.
func ID(m body.Mapping, keys ...string) (id int64, truncated bool, ok bool) {
	v, _, found := m.First(keys...)
	if !found {
		return 0, false, false
	}
	if n, err := v.AsLong(); err == nil {
		return n, false, true
	}
	if f, err := v.AsDouble(); err == nil {
		return int64(f), true, true
	}
	return 0, false, false
}

func idOr(m body.Mapping, keys ...string) int64 {
	id, _, _ := ID(m, keys...)
	return id
}

func stringOf(m body.Mapping, keys ...string) string {
	v, _, ok := m.First(keys...)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

func intOf(m body.Mapping, keys ...string) int32 {
	v, _, ok := m.First(keys...)
	if !ok {
		return 0
	}
	n, _ := v.AsInt()
	return n
}

func idList(m body.Mapping, keys ...string) []int64 {
	v, _, ok := m.First(keys...)
	if !ok {
		return nil
	}
	items, err := v.AsSeq()
	if err != nil {
		return nil
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		if n, err := item.AsLong(); err == nil {
			out = append(out, n)
		} else if f, err := item.AsDouble(); err == nil {
			out = append(out, int64(f))
		}
	}
	return out
}

func mappings(m body.Mapping, keys ...string) []body.Mapping {
	v, _, ok := m.First(keys...)
	if !ok {
		return nil
	}
	items, err := v.AsSeq()
	if err != nil {
		return nil
	}
	out := make([]body.Mapping, 0, len(items))
	for _, item := range items {
		if mm, err := item.AsMap(); err == nil {
			out = append(out, mm)
		}
	}
	return out
}

// ChatLog is one message record.
type ChatLog struct {
	LogID      int64
	PrevLogID  int64
	ChatID     int64
	AuthorID   int64
	AuthorName string
	Type       int32
	Message    string
	Attachment string
	SendAt     int64
	MsgID      int64
	// ChatIDTruncated reports that ChatID was carried as a float.
	ChatIDTruncated bool
	Raw             body.Mapping
}

// ParseChatLog reads a chat log tolerating the field names used by
// different protocol revisions.
func ParseChatLog(m body.Mapping) ChatLog {
	chatID, truncated, _ := ID(m, "chatId", "c")
	return ChatLog{
		LogID:           idOr(m, "logId", "l"),
		PrevLogID:       idOr(m, "prevId", "prevLogId"),
		ChatID:          chatID,
		AuthorID:        idOr(m, "authorId", "userId", "a"),
		AuthorName:      stringOf(m, "authorNickname", "nickName", "nickname"),
		Type:            intOf(m, "type", "t"),
		Message:         stringOf(m, "message", "msg", "m"),
		Attachment:      stringOf(m, "attachment", "extra"),
		SendAt:          idOr(m, "sendAt", "s"),
		MsgID:           idOr(m, "msgId", "mid"),
		ChatIDTruncated: truncated,
		Raw:             m,
	}
}

// Member is one room member.
type Member struct {
	UserID     int64
	Nickname   string
	ProfileURL string
}

func parseMember(m body.Mapping) Member {
	return Member{
		UserID:     idOr(m, "userId", "u"),
		Nickname:   stringOf(m, "nickName", "nickname", "nn"),
		ProfileURL: stringOf(m, "profileImageUrl", "pi"),
	}
}

// ChatSummary is one entry of a chat list snapshot.
type ChatSummary struct {
	ChatID        int64
	Type          string
	Title         string
	LastLogID     int64
	LastSeenLogID int64
	OpenLinkID    int64
	MemberIDs     []int64
	MemberNames   []string
	LastLog       *ChatLog
}

// IsOpen reports an open-link room.
func (c ChatSummary) IsOpen() bool {
	return c.OpenLinkID != 0 || c.Type == "OM" || c.Type == "OD"
}

// IsGroup reports a multi-member room.
func (c ChatSummary) IsGroup() bool {
	switch c.Type {
	case "MultiChat", "OM":
		return true
	}
	return len(c.MemberIDs) > 1
}

func parseChatSummary(m body.Mapping) ChatSummary {
	s := ChatSummary{
		ChatID:        idOr(m, "c", "chatId"),
		Type:          stringOf(m, "t", "type"),
		Title:         stringOf(m, "title", "n"),
		LastLogID:     idOr(m, "ll", "lastLogId"),
		LastSeenLogID: idOr(m, "s", "lastSeenLogId"),
		OpenLinkID:    idOr(m, "li", "linkId"),
		MemberIDs:     idList(m, "i", "memberIds"),
	}
	if v, _, ok := m.First("k", "memberNames"); ok {
		if items, err := v.AsSeq(); err == nil {
			for _, item := range items {
				name, _ := item.AsString()
				s.MemberNames = append(s.MemberNames, name)
			}
		}
	}
	if last, err := m.Map("l"); err == nil {
		cl := ParseChatLog(last)
		s.LastLog = &cl
	}
	return s
}

// OpenLink is open-room directory info.
type OpenLink struct {
	LinkID int64
	Name   string
	URL    string
}
