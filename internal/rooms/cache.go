package rooms

import (
	"slices"
	"sync"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/carriage"
)

// Room is a snapshot of one cached chat room.
type Room struct {
	ChatID        int64
	Title         string
	Type          string
	IsGroup       bool
	IsOpen        bool
	OpenLinkID    int64
	LastLogID     int64
	LastSeenLogID int64
	MemberIDs     []int64
	MemberNames   []string
	UpdatedAt     time.Time
}

// Cache owns room entries. Log ids are only ever raised.
type Cache struct {
	mu      sync.RWMutex
	rooms   map[int64]*Room
	aliases *AliasTable
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		rooms:   make(map[int64]*Room),
		aliases: NewAliasTable(),
		now:     time.Now,
	}
}

func (c *Cache) Aliases() *AliasTable { return c.aliases }

// ApplyChatList merges a login or chat-list snapshot and returns the number
// of rooms touched. Metadata is replaced; log ids stay monotonic.
func (c *Cache) ApplyChatList(chats []carriage.ChatSummary) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, s := range chats {
		if s.ChatID == 0 {
			continue
		}
		c.aliases.Learn(s.ChatID)
		r := c.entryLocked(s.ChatID)
		if s.Title != "" {
			r.Title = s.Title
		}
		if s.Type != "" {
			r.Type = s.Type
		}
		r.IsGroup = s.IsGroup()
		r.IsOpen = s.IsOpen()
		if s.OpenLinkID != 0 {
			r.OpenLinkID = s.OpenLinkID
		}
		if len(s.MemberIDs) > 0 {
			r.MemberIDs = slices.Clone(s.MemberIDs)
		}
		if len(s.MemberNames) > 0 {
			r.MemberNames = slices.Clone(s.MemberNames)
		}
		r.LastLogID = max(r.LastLogID, s.LastLogID)
		r.LastSeenLogID = max(r.LastSeenLogID, s.LastSeenLogID)
		if s.LastLog != nil {
			r.LastLogID = max(r.LastLogID, s.LastLog.LogID)
		}
		r.UpdatedAt = now
	}
	return len(chats)
}

// ApplyInfo merges a CHATINFO response.
func (c *Cache) ApplyInfo(info carriage.ChatInfo) {
	if info.ChatID == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.entryLocked(info.ChatID)
	if info.Title != "" {
		r.Title = info.Title
	}
	if info.Type != "" {
		r.Type = info.Type
	}
	if info.OpenLinkID != 0 {
		r.OpenLinkID = info.OpenLinkID
		r.IsOpen = true
	}
	if len(info.MemberIDs) > 0 {
		r.MemberIDs = slices.Clone(info.MemberIDs)
		r.IsGroup = r.IsGroup || len(info.MemberIDs) > 1
	}
	r.LastLogID = max(r.LastLogID, info.LastLogID)
	r.UpdatedAt = c.now()
}

// SetOpenLinkTitle names every room bound to linkID. Rooms that already
// carry a title keep it.
func (c *Cache) SetOpenLinkTitle(linkID int64, title string) int {
	if linkID == 0 || title == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.rooms {
		if r.OpenLinkID == linkID && r.Title == "" {
			r.Title = title
			n++
		}
	}
	return n
}

// ObserveLog records a message log. It reports whether the room's last log
// id moved forward; duplicates and stale logs leave the entry unchanged.
func (c *Cache) ObserveLog(cl carriage.ChatLog) bool {
	if cl.ChatID == 0 {
		return false
	}
	chatID := cl.ChatID
	if cl.ChatIDTruncated {
		chatID = c.aliases.Resolve(chatID)
	} else {
		c.aliases.Learn(chatID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.entryLocked(chatID)
	if cl.LogID <= r.LastLogID {
		return false
	}
	r.LastLogID = cl.LogID
	r.LastSeenLogID = max(r.LastSeenLogID, cl.LogID)
	r.UpdatedAt = c.now()
	return true
}

// MarkSeen raises the read marker without touching the last log id.
func (c *Cache) MarkSeen(chatID, logID int64) bool {
	chatID = c.aliases.Resolve(chatID)
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[chatID]
	if !ok || logID <= r.LastSeenLogID {
		return false
	}
	r.LastSeenLogID = logID
	return true
}

// Remove drops rooms, e.g. ones the login snapshot reports deleted.
func (c *Cache) Remove(chatIDs ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range chatIDs {
		delete(c.rooms, c.aliases.Resolve(id))
	}
}

// Get resolves chatID through the alias table and returns a copy.
func (c *Cache) Get(chatID int64) (Room, bool) {
	chatID = c.aliases.Resolve(chatID)
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rooms[chatID]
	if !ok {
		return Room{}, false
	}
	return r.clone(), true
}

// Snapshot returns every room ordered by chat id.
func (c *Cache) Snapshot() []Room {
	c.mu.RLock()
	out := make([]Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r.clone())
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b Room) int {
		switch {
		case a.ChatID < b.ChatID:
			return -1
		case a.ChatID > b.ChatID:
			return 1
		}
		return 0
	})
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}

// OpenLinkIDs lists the distinct open-link ids of cached rooms.
func (c *Cache) OpenLinkIDs() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[int64]struct{})
	var out []int64
	for _, r := range c.rooms {
		if r.OpenLinkID == 0 {
			continue
		}
		if _, ok := seen[r.OpenLinkID]; ok {
			continue
		}
		seen[r.OpenLinkID] = struct{}{}
		out = append(out, r.OpenLinkID)
	}
	slices.Sort(out)
	return out
}

func (c *Cache) entryLocked(chatID int64) *Room {
	r, ok := c.rooms[chatID]
	if !ok {
		r = &Room{ChatID: chatID}
		c.rooms[chatID] = r
	}
	return r
}

func (r *Room) clone() Room {
	out := *r
	out.MemberIDs = slices.Clone(r.MemberIDs)
	out.MemberNames = slices.Clone(r.MemberNames)
	return out
}
